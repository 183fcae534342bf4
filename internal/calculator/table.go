package calculator

import (
	"fmt"
	"math"
)

// exactTable is the minimum-pack dynamic program over every total in
// [0, limit). choice[t] holds 1 + the index of the largest size that starts an
// optimal composition of t, or 0 when t is unreachable.
type exactTable struct {
	sizes  []int
	choice []uint16
}

func buildExactTable(sizes []int, limit int) (*exactTable, error) {
	if len(sizes) >= math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d pack sizes exceed the exact table", ErrBoundExceeded, len(sizes))
	}

	const unreachable = math.MaxInt32
	packs := make([]int32, limit)
	choice := make([]uint16, limit)

	for total := 1; total < limit; total++ {
		best, pick := int32(unreachable), uint16(0)
		for i := len(sizes) - 1; i >= 0; i-- {
			size := sizes[i]
			if size > total {
				continue
			}
			if prev := packs[total-size]; prev != unreachable && prev+1 < best {
				best, pick = prev+1, uint16(i+1)
			}
		}
		packs[total], choice[total] = best, pick
	}

	return &exactTable{sizes: sizes, choice: choice}, nil
}

// compose walks the choices back from total. Following the largest optimal
// size at every step yields the composition with the most large packs.
func (t *exactTable) compose(total int) (Composition, error) {
	if t == nil || total < 0 || total >= len(t.choice) || (total > 0 && t.choice[total] == 0) {
		return nil, fmt.Errorf("%w: total %d is outside the exact table", ErrBoundExceeded, total)
	}
	result := make(Composition, len(t.sizes))
	for rest := total; rest > 0; {
		size := t.sizes[t.choice[rest]-1]
		result[size]++
		rest -= size
	}
	return result, nil
}
