// Package core provides the field arithmetic, hashing, and
// Merkle-commitment primitives the rest of the prover is built on.
package core

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
)

// P is the Mersenne prime 2^31-1, the modulus of the M31 base field.
const P uint32 = (1 << 31) - 1

// M31 is an element of the Mersenne-31 base field, always held in canonical
// form (0 <= value < P).
type M31 struct {
	value uint32
}

// NewM31 reduces a uint64 into the field.
func NewM31(v uint64) M31 {
	return M31{value: reduceU64(v)}
}

// FromU32Unchecked wraps a value already known to be canonical (< P).
// Misuse corrupts arithmetic silently, matching the donor's own
// `from_u32_unchecked` contract: callers are responsible for the invariant.
func FromU32Unchecked(v uint32) M31 {
	return M31{value: v}
}

func reduceU64(v uint64) uint32 {
	// Mersenne reduction: v = hi*2^31 + lo  =>  v mod P = hi + lo (mod P),
	// repeated until the sum fits below 2^31.
	for v>>31 != 0 {
		v = (v >> 31) + (v & uint64(P))
	}
	if uint32(v) == P {
		return 0
	}
	return uint32(v)
}

func (a M31) Value() uint32 { return a.value }

func (a M31) Add(b M31) M31 {
	s := a.value + b.value
	if s >= P {
		s -= P
	}
	return M31{value: s}
}

func (a M31) Sub(b M31) M31 {
	if a.value >= b.value {
		return M31{value: a.value - b.value}
	}
	return M31{value: P - (b.value - a.value)}
}

func (a M31) Neg() M31 {
	if a.value == 0 {
		return a
	}
	return M31{value: P - a.value}
}

func (a M31) Mul(b M31) M31 {
	return M31{value: reduceU64(uint64(a.value) * uint64(b.value))}
}

func (a M31) IsZero() bool { return a.value == 0 }

// Inv returns the multiplicative inverse via Fermat's little theorem
// (a^(P-2)), matching the exponentiation-by-squaring idiom the donor's
// mersenne field used, specialised to the fixed native modulus.
func (a M31) Inv() (M31, error) {
	if a.IsZero() {
		return M31{}, fmt.Errorf("cairom: division by zero in M31")
	}
	return a.Pow(uint64(P - 2)), nil
}

func (a M31) Pow(exp uint64) M31 {
	result := M31{value: 1}
	base := a
	for exp > 0 {
		if exp&1 == 1 {
			result = result.Mul(base)
		}
		base = base.Mul(base)
		exp >>= 1
	}
	return result
}

func (a M31) Div(b M31) (M31, error) {
	inv, err := b.Inv()
	if err != nil {
		return M31{}, err
	}
	return a.Mul(inv), nil
}

func (a M31) Equal(b M31) bool { return a.value == b.value }

func (a M31) String() string { return fmt.Sprintf("%d", a.value) }

func (a M31) Bytes() []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], a.value)
	return buf[:]
}

func M31FromBytes(b []byte) M31 {
	return FromU32Unchecked(binary.LittleEndian.Uint32(b) % P)
}

func ZeroM31() M31 { return M31{value: 0} }
func OneM31() M31  { return M31{value: 1} }

// RandomM31 draws a uniformly random canonical field element.
func RandomM31() (M31, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return M31{}, fmt.Errorf("cairom: reading randomness: %w", err)
	}
	return NewM31(binary.LittleEndian.Uint64(buf[:])), nil
}

// QM31 is the degree-4 extension of M31, the secure field used
// for Fiat-Shamir challenges, logup fractions, and instruction packing. It is
// represented as a pair of CM31 (degree-2) coordinates, following the
// standard "complex-over-complex" tower construction used by circle STARKs:
// QM31 = CM31[u]/(u^2 - (2+i)), CM31 = M31[i]/(i^2+1).
type CM31 struct {
	A, B M31 // A + B*i
}

func NewCM31(a, b M31) CM31 { return CM31{A: a, B: b} }

func (z CM31) Add(w CM31) CM31 { return CM31{A: z.A.Add(w.A), B: z.B.Add(w.B)} }
func (z CM31) Sub(w CM31) CM31 { return CM31{A: z.A.Sub(w.A), B: z.B.Sub(w.B)} }
func (z CM31) Neg() CM31       { return CM31{A: z.A.Neg(), B: z.B.Neg()} }

func (z CM31) Mul(w CM31) CM31 {
	// (a+bi)(c+di) = (ac-bd) + (ad+bc)i
	ac := z.A.Mul(w.A)
	bd := z.B.Mul(w.B)
	ad := z.A.Mul(w.B)
	bc := z.B.Mul(w.A)
	return CM31{A: ac.Sub(bd), B: ad.Add(bc)}
}

func (z CM31) IsZero() bool { return z.A.IsZero() && z.B.IsZero() }

func (z CM31) Conj() CM31 { return CM31{A: z.A, B: z.B.Neg()} }

func (z CM31) Inv() (CM31, error) {
	if z.IsZero() {
		return CM31{}, fmt.Errorf("cairom: division by zero in CM31")
	}
	// norm = a^2+b^2
	norm := z.A.Mul(z.A).Add(z.B.Mul(z.B))
	normInv, err := norm.Inv()
	if err != nil {
		return CM31{}, err
	}
	conj := z.Conj()
	return CM31{A: conj.A.Mul(normInv), B: conj.B.Mul(normInv)}, nil
}

func ZeroCM31() CM31 { return CM31{A: ZeroM31(), B: ZeroM31()} }
func OneCM31() CM31  { return CM31{A: OneM31(), B: ZeroM31()} }

type QM31 struct {
	A, B CM31 // A + B*u, u^2 = (2+i)
}

func NewQM31(a, b, c, d M31) QM31 {
	return QM31{A: NewCM31(a, b), B: NewCM31(c, d)}
}

// FromM31Array packs four base-field limbs, in the order the instruction
// encoding (§4.A) requires: [op_id, off0, off1, off2].
func FromM31Array(limbs [4]M31) QM31 {
	return NewQM31(limbs[0], limbs[1], limbs[2], limbs[3])
}

func (z QM31) ToM31Array() [4]M31 {
	return [4]M31{z.A.A, z.A.B, z.B.A, z.B.B}
}

func (z QM31) Add(w QM31) QM31 { return QM31{A: z.A.Add(w.A), B: z.B.Add(w.B)} }
func (z QM31) Sub(w QM31) QM31 { return QM31{A: z.A.Sub(w.A), B: z.B.Sub(w.B)} }
func (z QM31) Neg() QM31       { return QM31{A: z.A.Neg(), B: z.B.Neg()} }

var irreducibleShift = NewCM31(NewM31(2), OneM31()) // (2+i)

func (z QM31) Mul(w QM31) QM31 {
	// (a+bu)(c+du) = (ac + bd*(2+i)) + (ad+bc)u
	ac := z.A.Mul(w.A)
	bd := z.B.Mul(w.B)
	ad := z.A.Mul(w.B)
	bc := z.B.Mul(w.A)
	return QM31{A: ac.Add(bd.Mul(irreducibleShift)), B: ad.Add(bc)}
}

func (z QM31) MulM31(s M31) QM31 {
	return QM31{A: CM31{A: z.A.A.Mul(s), B: z.A.B.Mul(s)}, B: CM31{A: z.B.A.Mul(s), B: z.B.B.Mul(s)}}
}

func (z QM31) IsZero() bool { return z.A.IsZero() && z.B.IsZero() }

// conjugate over the quadratic subextension: (a+bu) -> (a-bu) has norm in CM31.
func (z QM31) subConj() QM31 { return QM31{A: z.A, B: z.B.Neg()} }

func (z QM31) Inv() (QM31, error) {
	if z.IsZero() {
		return QM31{}, fmt.Errorf("cairom: division by zero in QM31")
	}
	conj := z.subConj()
	norm := z.Mul(conj) // lies in the CM31 subfield: {A: norm, B: 0}
	normInv, err := norm.A.Inv()
	if err != nil {
		return QM31{}, err
	}
	return QM31{A: conj.A.Mul(normInv), B: conj.B.Mul(normInv)}, nil
}

func (z QM31) Div(w QM31) (QM31, error) {
	inv, err := w.Inv()
	if err != nil {
		return QM31{}, err
	}
	return z.Mul(inv), nil
}

func (z QM31) Equal(w QM31) bool {
	return z.A.A.Equal(w.A.A) && z.A.B.Equal(w.A.B) && z.B.A.Equal(w.B.A) && z.B.B.Equal(w.B.B)
}

func (z QM31) String() string {
	l := z.ToM31Array()
	return fmt.Sprintf("(%d,%d,%d,%d)", l[0].value, l[1].value, l[2].value, l[3].value)
}

func (z QM31) Bytes() []byte {
	limbs := z.ToM31Array()
	out := make([]byte, 0, 16)
	for _, l := range limbs {
		out = append(out, l.Bytes()...)
	}
	return out
}

func QM31FromBytes(b []byte) QM31 {
	var limbs [4]M31
	for i := 0; i < 4; i++ {
		limbs[i] = M31FromBytes(b[i*4 : i*4+4])
	}
	return FromM31Array(limbs)
}

func ZeroQM31() QM31 { return FromM31Array([4]M31{ZeroM31(), ZeroM31(), ZeroM31(), ZeroM31()}) }
func OneQM31() QM31  { return FromM31Array([4]M31{OneM31(), ZeroM31(), ZeroM31(), ZeroM31()}) }

func QM31FromM31(v M31) QM31 {
	return FromM31Array([4]M31{v, ZeroM31(), ZeroM31(), ZeroM31()})
}

// Big returns the canonical value as a big.Int, for interop with code that
// still expects a generic big-integer field element shape.
func (a M31) Big() *big.Int {
	return new(big.Int).SetUint64(uint64(a.value))
}

// RandomQM31 draws a uniformly random secure-field element, used to derive
// Fiat-Shamir challenges and to sample the FRI folding coefficient.
func RandomQM31() (QM31, error) {
	var limbs [4]M31
	for i := range limbs {
		v, err := RandomM31()
		if err != nil {
			return QM31{}, err
		}
		limbs[i] = v
	}
	return FromM31Array(limbs), nil
}
