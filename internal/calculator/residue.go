package calculator

import (
	"container/heap"
	"fmt"
	"math"
)

// plan holds everything needed to answer any quantity for one catalog. Its
// size depends only on the catalog, never on the quantity.
//
// Writing a total as t = k*m + span, where m is the largest pack and span is
// the item count carried by smaller packs, the pack count is
// k + n = (t + weight)/m with weight = n*m - span. Each smaller pack s adds
// m - s > 0 to the weight, so minimising weight per residue modulo m is a
// shortest-path problem on m nodes.
//
// Labels are ordered by weight, then span, then by preferring more packs of
// the larger sizes. For a total t >= span[r] the label of r therefore gives
// the fewest packs and, among those, the composition with the most large
// packs. Totals in [minSpan[r], span[r]) are reachable but cannot use the
// cheapest label; they are answered from an exact table over [0, gapReach).
type plan struct {
	sizes   []int
	modulus int
	small   int

	weight []int
	span   []int
	// counts[r*small+i] is the number of packs of sizes[i] on the label of r.
	counts []int32

	// minSpan[r] is the smallest item count of any set of smaller packs
	// congruent to r; a total t in class r is reachable iff t >= minSpan[r].
	minSpan []int

	gapReach int
	table    *exactTable
}

func buildPlan(sizes []int, maxSearchSpace int) (*plan, error) {
	m := sizes[len(sizes)-1]
	if m > maxSearchSpace {
		return nil, fmt.Errorf("%w: pack size %d exceeds search space of %d cells", ErrBoundExceeded, m, maxSearchSpace)
	}
	if small := len(sizes) - 1; small > 1 && small > maxSearchSpace/m {
		return nil, fmt.Errorf("%w: catalog %v needs %d label cells, search space is %d",
			ErrBoundExceeded, sizes, m*small, maxSearchSpace)
	}

	p := &plan{
		sizes:   sizes,
		modulus: m,
		small:   len(sizes) - 1,
		weight:  make([]int, m),
		span:    make([]int, m),
		counts:  make([]int32, m*(len(sizes)-1)),
	}
	p.labelResidues()
	p.minSpan = shortestSpans(sizes)

	for r := range p.weight {
		if p.weight[r] >= 0 && p.minSpan[r] < p.span[r] && p.span[r] > p.gapReach {
			p.gapReach = p.span[r]
		}
	}
	if p.gapReach == 0 {
		return p, nil
	}
	if p.gapReach > maxSearchSpace || p.gapReach > math.MaxInt32 {
		return nil, fmt.Errorf("%w: catalog %v needs an exact table of %d cells, search space is %d",
			ErrBoundExceeded, sizes, p.gapReach, maxSearchSpace)
	}
	table, err := buildExactTable(sizes, p.gapReach)
	if err != nil {
		return nil, err
	}
	p.table = table
	return p, nil
}

func (p *plan) labelResidues() {
	m, small := p.modulus, p.small
	for r := range p.weight {
		p.weight[r] = -1
	}
	p.weight[0] = 0

	settled := make([]bool, m)
	queue := &residueQueue{{residue: 0}}
	for queue.Len() > 0 {
		item := heap.Pop(queue).(residueEntry)
		from := item.residue
		if settled[from] {
			continue
		}
		settled[from] = true

		for i := small - 1; i >= 0; i-- {
			size := p.sizes[i]
			next := (from + size) % m
			if settled[next] {
				continue
			}
			cost := p.weight[from] + m - size
			span := p.span[from] + size
			if p.weight[next] >= 0 && !p.improves(from, i, next, cost, span) {
				continue
			}
			p.weight[next] = cost
			p.span[next] = span
			copy(p.counts[next*small:(next+1)*small], p.counts[from*small:(from+1)*small])
			p.counts[next*small+i]++
			heap.Push(queue, residueEntry{cost: cost, residue: next})
		}
	}
}

// improves reports whether the label of from plus one pack of sizes[i]
// orders before the current label of next.
func (p *plan) improves(from, i, next, cost, span int) bool {
	if cost != p.weight[next] {
		return cost < p.weight[next]
	}
	if span != p.span[next] {
		return span < p.span[next]
	}
	small := p.small
	base, cur := p.counts[from*small:(from+1)*small], p.counts[next*small:(next+1)*small]
	for j := small - 1; j >= 0; j-- {
		cand := base[j]
		if j == i {
			cand++
		}
		if cand != cur[j] {
			return cand > cur[j]
		}
	}
	return false
}

// shortestSpans returns, per residue modulo the largest pack, the smallest
// item count reachable with the other packs, or -1.
func shortestSpans(sizes []int) []int {
	m := sizes[len(sizes)-1]
	spans := make([]int, m)
	for r := range spans {
		spans[r] = -1
	}
	spans[0] = 0

	settled := make([]bool, m)
	queue := &residueQueue{{residue: 0}}
	for queue.Len() > 0 {
		item := heap.Pop(queue).(residueEntry)
		if settled[item.residue] {
			continue
		}
		settled[item.residue] = true
		for _, size := range sizes[:len(sizes)-1] {
			next := (item.residue + size) % m
			cost := item.cost + size
			if !settled[next] && (spans[next] < 0 || cost < spans[next]) {
				spans[next] = cost
				heap.Push(queue, residueEntry{cost: cost, residue: next})
			}
		}
	}
	return spans
}

// compose returns the optimal composition for quantity.
func (p *plan) compose(quantity int) (Composition, error) {
	m := p.modulus
	for total := quantity; total < quantity+m; total++ {
		r := total % m
		if p.minSpan[r] < 0 || total < p.minSpan[r] {
			continue
		}
		if total < p.span[r] {
			return p.table.compose(total)
		}
		return p.fromLabel(total, r), nil
	}

	// Multiples of the largest pack are always reachable.
	return nil, fmt.Errorf("%w: no reachable total in [%d, %d)", ErrBoundExceeded, quantity, quantity+m)
}

func (p *plan) fromLabel(total, r int) Composition {
	result := make(Composition, len(p.sizes))
	if large := (total - p.span[r]) / p.modulus; large > 0 {
		result[p.modulus] = large
	}
	for i, count := range p.counts[r*p.small : (r+1)*p.small] {
		if count > 0 {
			result[p.sizes[i]] = int(count)
		}
	}
	return result
}

type residueEntry struct {
	cost    int
	residue int
}

type residueQueue []residueEntry

func (q residueQueue) Len() int { return len(q) }

func (q residueQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].residue < q[j].residue
}

func (q residueQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *residueQueue) Push(x any) { *q = append(*q, x.(residueEntry)) }

func (q *residueQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
