package core

import "fmt"

// PoseidonM31 is a Poseidon2-style sponge over the M31 field, used as the
// algebraic alternative to SHA3 for Merkle leaves and the Fiat-Shamir
// transcript when Config.HashFunction == "poseidon". Round constants and the
// MDS matrix are generated deterministically from the permutation width
// rather than loaded from a precomputed constants table — this mirrors the
// donor's own "Grain LFSR parameter generation avoids large precomputed
// constant files" design note, simplified to a fixed-seed PRG since this
// implementation targets one field and one width.
type PoseidonM31 struct {
	width         int
	rate          int
	roundsFull    int
	roundsPartial int
	sboxPower     uint64
	roundConstant [][]M31
	mds           [][]M31
}

// NewPoseidonM31 builds the default instance: width 8 (rate 4, capacity 4),
// 8 full rounds, 22 partial rounds, S-box power 5 (coprime to P-1).
func NewPoseidonM31() *PoseidonM31 {
	const width = 8
	const rate = 4
	const roundsFull = 8
	const roundsPartial = 22
	totalRounds := roundsFull + roundsPartial

	rc := make([][]M31, totalRounds)
	for r := 0; r < totalRounds; r++ {
		row := make([]M31, width)
		for i := 0; i < width; i++ {
			row[i] = NewM31(uint64(r)*1000003 + uint64(i)*977 + 101)
		}
		rc[r] = row
	}

	mds := cauchyMDS(width)

	return &PoseidonM31{
		width:         width,
		rate:          rate,
		roundsFull:    roundsFull,
		roundsPartial: roundsPartial,
		sboxPower:     5,
		roundConstant: rc,
		mds:           mds,
	}
}

// cauchyMDS builds a Cauchy matrix mds[i][j] = 1/(x_i - y_j) over two
// disjoint deterministic sequences, which is always maximum-distance
// separable over a field as long as the x_i, y_j are pairwise distinct.
func cauchyMDS(n int) [][]M31 {
	xs := make([]M31, n)
	ys := make([]M31, n)
	for i := 0; i < n; i++ {
		xs[i] = NewM31(uint64(i))
		ys[i] = NewM31(uint64(i) + uint64(n))
	}
	mds := make([][]M31, n)
	for i := 0; i < n; i++ {
		mds[i] = make([]M31, n)
		for j := 0; j < n; j++ {
			diff := xs[i].Sub(ys[j])
			inv, err := diff.Inv()
			if err != nil {
				// xs/ys are disjoint by construction so diff is never zero.
				panic("cairom: degenerate cauchy MDS")
			}
			mds[i][j] = inv
		}
	}
	return mds
}

func (p *PoseidonM31) sbox(x M31) M31 { return x.Pow(p.sboxPower) }

func (p *PoseidonM31) permute(state []M31) []M31 {
	half := p.roundsFull / 2
	round := 0
	apply := func(full bool) {
		for i := range state {
			state[i] = state[i].Add(p.roundConstant[round][i])
		}
		if full {
			for i := range state {
				state[i] = p.sbox(state[i])
			}
		} else {
			state[0] = p.sbox(state[0])
		}
		next := make([]M31, p.width)
		for i := 0; i < p.width; i++ {
			acc := ZeroM31()
			for j := 0; j < p.width; j++ {
				acc = acc.Add(p.mds[i][j].Mul(state[j]))
			}
			next[i] = acc
		}
		copy(state, next)
		round++
	}
	for i := 0; i < half; i++ {
		apply(true)
	}
	for i := 0; i < p.roundsPartial; i++ {
		apply(false)
	}
	for i := 0; i < half; i++ {
		apply(true)
	}
	return state
}

// HashM31 absorbs a slice of base-field elements and squeezes one digest
// element of `rate` output limbs (enough to reconstruct a QM31 digest).
func (p *PoseidonM31) HashM31(inputs []M31) []M31 {
	state := make([]M31, p.width)
	for i := 0; i < len(inputs); i += p.rate {
		end := i + p.rate
		if end > len(inputs) {
			end = len(inputs)
		}
		for j := i; j < end; j++ {
			state[j-i] = state[j-i].Add(inputs[j])
		}
		state = p.permute(state)
	}
	out := make([]M31, p.rate)
	copy(out, state[:p.rate])
	return out
}

// HashBytesM31 hashes an arbitrary byte slice by packing it 4 bytes per limb.
func (p *PoseidonM31) HashBytesM31(data []byte) []byte {
	limbs := make([]M31, 0, (len(data)+3)/4+1)
	for i := 0; i < len(data); i += 4 {
		end := i + 4
		buf := make([]byte, 4)
		if end > len(data) {
			end = len(data)
		}
		copy(buf, data[i:end])
		limbs = append(limbs, M31FromBytes(buf))
	}
	if len(limbs) == 0 {
		limbs = append(limbs, ZeroM31())
	}
	digest := p.HashM31(limbs)
	out := make([]byte, 0, len(digest)*4)
	for _, l := range digest {
		out = append(out, l.Bytes()...)
	}
	return out
}

func (p *PoseidonM31) String() string {
	return fmt.Sprintf("PoseidonM31(width=%d,rate=%d,full=%d,partial=%d)", p.width, p.rate, p.roundsFull, p.roundsPartial)
}
