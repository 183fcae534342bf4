package calculator

import "sort"

// Composition maps a pack size to the number of packs of that size to ship.
type Composition map[int]int

// TotalItems returns the number of items shipped by the composition.
func (c Composition) TotalItems() int {
	total := 0
	for size, count := range c {
		total += size * count
	}
	return total
}

// TotalPacks returns the number of packs shipped by the composition.
func (c Composition) TotalPacks() int {
	total := 0
	for _, count := range c {
		total += count
	}
	return total
}

// Overage returns how many items beyond the requested quantity are shipped.
func (c Composition) Overage(quantity int) int {
	return c.TotalItems() - quantity
}

// Sizes returns the pack sizes used by the composition in ascending order.
func (c Composition) Sizes() []int {
	sizes := make([]int, 0, len(c))
	for size, count := range c {
		if count > 0 {
			sizes = append(sizes, size)
		}
	}
	sort.Ints(sizes)
	return sizes
}

// Clone returns an independent copy of the composition.
func (c Composition) Clone() Composition {
	if c == nil {
		return nil
	}
	out := make(Composition, len(c))
	for size, count := range c {
		out[size] = count
	}
	return out
}
