package vm

import (
	"sync"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
)

// RangeCheckWidth is the one canonical preprocessed range-check column this
// implementation carries (§4.E, resolving spec.md's open question about two
// parallel RangeCheck layouts — see DESIGN.md). The only quantity range-
// checked is the "new_clock - prev_clock - 1" delta of every component's
// clock monotonicity constraint, always as a RangeCheck_20 claim (§4.G); no
// narrower-width range check is emitted.
const RangeCheckWidth = 20

// RangeCheckTableID is the preprocessed table's stable string identity,
// absorbed into the Fiat-Shamir transcript before any base-trace column
// (§4.E, §4.H step 1).
const RangeCheckTableID = "range_check_20"

// PreprocessedRangeCheck is a single column of length 2^w containing
// 0..2^w-1, committed as part of the public preprocessed trace (§4.E).
// It is process-global and computed once on first use (§5, §9).
type PreprocessedRangeCheck struct {
	Width  int
	Column []core.M31
}

var (
	rangeCheckOnce sync.Once
	rangeCheck20   *PreprocessedRangeCheck
)

// DefaultRangeCheck returns the process-wide RangeCheck_20 table,
// initializing it lazily behind a sync.Once guard (§5 "no locks needed
// after initialization").
func DefaultRangeCheck() *PreprocessedRangeCheck {
	rangeCheckOnce.Do(func() {
		rangeCheck20 = buildRangeCheck(RangeCheckWidth)
	})
	return rangeCheck20
}

func buildRangeCheck(width int) *PreprocessedRangeCheck {
	size := 1 << uint(width)
	col := make([]core.M31, size)
	for i := range col {
		col[i] = core.NewM31(uint64(i))
	}
	return &PreprocessedRangeCheck{Width: width, Column: col}
}

// InRange reports whether v (a canonical M31 value known to be small) lies
// in [0, 2^RangeCheckWidth), the precondition for a component to legally
// emit a RangeCheck_20 claim on it.
func (t *PreprocessedRangeCheck) InRange(v uint32) bool {
	return v < uint32(len(t.Column))
}
