package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
)

// Channel is the Fiat-Shamir transcript. Every commitment and public value
// the prover produces is absorbed here, in a fixed order, and every
// verifier challenge is squeezed from it — reproducing the same sequence on
// both sides is what makes the proof non-interactive.
type Channel struct {
	state    []byte
	proof    []string
	hashFunc string
}

// NewChannel creates a new Fiat-Shamir channel using the given hash
// ("sha256", "sha3", or "poseidon"; unrecognised values fall back to sha3).
func NewChannel(hashFunc string) *Channel {
	if hashFunc == "" {
		hashFunc = "sha3"
	}
	return &Channel{
		state:    []byte{0},
		proof:    make([]string, 0, 64),
		hashFunc: hashFunc,
	}
}

// Send absorbs data into the channel state.
func (c *Channel) Send(data []byte) {
	c.proof = append(c.proof, fmt.Sprintf("send:%s", hex.EncodeToString(data)))
	c.state = c.hash(append(append([]byte{}, c.state...), data...))
}

// ReceiveRandomInt squeezes a random integer in [min, max].
func (c *Channel) ReceiveRandomInt(min, max *big.Int) *big.Int {
	if min.Cmp(max) > 0 {
		return nil
	}

	stateAsInt := new(big.Int).SetBytes(c.state)

	rangeSize := new(big.Int).Sub(max, min)
	rangeSize.Add(rangeSize, big.NewInt(1))

	random := new(big.Int).Mod(stateAsInt, rangeSize)
	random.Add(random, min)

	c.proof = append(c.proof, fmt.Sprintf("receiveRandInt:%s", random.String()))
	c.state = c.hash(c.state)

	return random
}

// ReceiveM31 squeezes a random native M31 base-field element.
func (c *Channel) ReceiveM31() core.M31 {
	max := big.NewInt(int64(core.P - 1))
	random := c.ReceiveRandomInt(big.NewInt(0), max)
	return core.NewM31(random.Uint64())
}

// ReceiveQM31 squeezes a random secure-field (QM31) challenge, used for
// logup indeterminates and FRI folding coefficients.
func (c *Channel) ReceiveQM31() core.QM31 {
	var limbs [4]core.M31
	for i := range limbs {
		limbs[i] = c.ReceiveM31()
	}
	return core.FromM31Array(limbs)
}

// State returns the current channel state (a defensive copy).
func (c *Channel) State() []byte {
	return append([]byte(nil), c.state...)
}

// Proof returns the recorded transcript log (a defensive copy).
func (c *Channel) Proof() []string {
	return append([]string(nil), c.proof...)
}

func (c *Channel) hash(data []byte) []byte {
	switch c.hashFunc {
	case "sha256":
		h := sha256.Sum256(data)
		return h[:]
	case "poseidon":
		return core.DefaultPoseidonHasher.HashBytesM31(data)
	case "sha3":
		fallthrough
	default:
		h := sha3.Sum256(data)
		return h[:]
	}
}

func (c *Channel) String() string {
	return strings.Join(c.proof, " ")
}
