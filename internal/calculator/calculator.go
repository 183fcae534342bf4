package calculator

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultMaxSearchSpace caps the number of table cells a single catalog may allocate.
const DefaultMaxSearchSpace = 1 << 24

// planCacheSize is how many catalogs keep their search tables in memory.
const planCacheSize = 4

// Calculator describes the behaviour required from a pack calculator.
type Calculator interface {
	CalculatePacks(quantity int, packSizes []int) (Composition, error)
	// Prepare builds the search tables for a catalog ahead of the first
	// calculation and reports ErrBoundExceeded when the catalog cannot be
	// served within the search space.
	Prepare(packSizes []int) error
}

// Option configures a Calculator created by New.
type Option func(*boundedCalculator)

// WithMaxSearchSpace overrides the table size limit. Non-positive values keep the default.
func WithMaxSearchSpace(cells int) Option {
	return func(c *boundedCalculator) {
		if cells > 0 {
			c.maxSearchSpace = cells
		}
	}
}

// boundedCalculator finds the composition that ships the fewest items, then
// the fewest packs, then the most packs of the larger sizes, without scanning
// every total up to the requested quantity.
//
// Each catalog gets a plan whose size depends only on its pack sizes: a
// shortest-path table over residues modulo the largest pack plus, when some
// residues need it, an exact table over the totals the residue labels cannot
// serve. Plans are cached, so repeated requests cost O(largest).
type boundedCalculator struct {
	maxSearchSpace int

	mu    sync.Mutex
	plans map[string]*plan
	order []string
	build singleflight.Group
}

// New creates a Calculator based on bounded per-catalog search tables.
func New(opts ...Option) Calculator {
	c := &boundedCalculator{
		maxSearchSpace: DefaultMaxSearchSpace,
		plans:          make(map[string]*plan, planCacheSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *boundedCalculator) CalculatePacks(quantity int, packSizes []int) (Composition, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if len(packSizes) == 0 {
		return nil, ErrEmptyCatalog
	}
	sizes, err := normalizePackSizes(packSizes)
	if err != nil {
		return nil, err
	}

	smallest, largest := sizes[0], sizes[len(sizes)-1]
	if quantity > math.MaxInt-largest {
		return nil, fmt.Errorf("%w: quantity %d with pack size %d overflows the search window", ErrBoundExceeded, quantity, largest)
	}
	p, err := c.planFor(sizes)
	if err != nil {
		return nil, err
	}
	if quantity <= smallest {
		return Composition{smallest: 1}, nil
	}
	result, err := p.compose(quantity)
	if err != nil {
		return nil, err
	}

	if shipped := result.TotalItems(); shipped < quantity {
		return nil, fmt.Errorf("%w: composition ships %d of %d items", ErrBoundExceeded, shipped, quantity)
	}
	return result, nil
}

func (c *boundedCalculator) Prepare(packSizes []int) error {
	if len(packSizes) == 0 {
		return ErrEmptyCatalog
	}
	sizes, err := normalizePackSizes(packSizes)
	if err != nil {
		return err
	}
	_, err = c.planFor(sizes)
	return err
}

// planFor returns the cached plan for sizes, building it once per catalog
// even under concurrent requests.
func (c *boundedCalculator) planFor(sizes []int) (*plan, error) {
	key := planKey(sizes)

	c.mu.Lock()
	p, ok := c.plans[key]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	v, err, _ := c.build.Do(key, func() (interface{}, error) {
		p, err := buildPlan(sizes, c.maxSearchSpace)
		if err != nil {
			return nil, err
		}
		c.store(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*plan), nil
}

func (c *boundedCalculator) store(key string, p *plan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.plans[key]; ok {
		return
	}
	if len(c.order) >= planCacheSize {
		delete(c.plans, c.order[0])
		c.order = c.order[1:]
	}
	c.plans[key] = p
	c.order = append(c.order, key)
}

func planKey(sizes []int) string {
	parts := make([]string, len(sizes))
	for i, size := range sizes {
		parts[i] = strconv.Itoa(size)
	}
	return strings.Join(parts, ",")
}

func normalizePackSizes(packSizes []int) ([]int, error) {
	unique := make(map[int]struct{}, len(packSizes))
	for _, size := range packSizes {
		if size <= 0 {
			return nil, ErrInvalidPackSizes
		}
		unique[size] = struct{}{}
	}

	normalized := make([]int, 0, len(unique))
	for size := range unique {
		normalized = append(normalized, size)
	}
	sort.Ints(normalized)

	return normalized, nil
}
