package protocols

import (
	"encoding/binary"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/utils"
)

// Claim is the public information one opcode component exposes before
// interaction: its log row count and whether it needed padding (§3, §4.G,
// supplement 4).
type Claim struct {
	LogSize   int
	NumReal   int
}

// MixInto absorbs the claim into the transcript, mirroring the reference's
// mix_u64 (§4.H step 1/2).
func (c Claim) MixInto(channel *utils.Channel) {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(c.LogSize))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(c.NumReal))
	channel.Send(buf[:])
}

// InteractionClaim is the sum of a component's logup fractions, published
// after the interaction trace is built (§3, §4.G, supplement 4).
type InteractionClaim struct {
	ClaimedSum core.QM31
}

// MixInto absorbs the claimed sum into the transcript (mix_felts).
func (c InteractionClaim) MixInto(channel *utils.Channel) {
	channel.Send(c.ClaimedSum.Bytes())
}
