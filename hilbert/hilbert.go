// Package hilbert builds the Fock space of a Hamiltonian and partitions it into invariant blocks.
//
// The partition is found in two phases. First, every monomial of the Hamiltonian connects the states it maps
// between, so that the Hamiltonian is block diagonal. Then blocks are merged until every single-particle
// ladder operator maps each block into at most one block, which makes the block map of any monomial a partial
// bijection.
package hilbert

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/expr"
	"github.com/pomerol-ed/pomerol-sub001/states"
)

const maxBits = 62

var (
	ErrBitBudget = errors.New("both global and per index boson bits given")
)

type options struct {
	bosonBits uint
	indexBits map[int]uint
}

type Option func(*options)

// WithBosonBits sets the number of bits of every bosonic index.
func WithBosonBits(n uint) Option {
	return func(o *options) { o.bosonBits = n }
}

// WithIndexBits sets the number of bits of individual bosonic indices.
func WithIndexBits(bits map[int]uint) Option {
	return func(o *options) { o.indexBits = bits }
}

type Space struct {
	Layout expr.Layout
	h      expr.Expression
}

// New lays out the Fock space of h over numIndices flat indices.
func New(h expr.Expression, numIndices int, opts ...Option) (*Space, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.bosonBits != 0 && len(o.indexBits) != 0 {
		return nil, errors.Wrap(ErrBitBudget, "")
	}

	boson, err := statistics(h, numIndices)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	bits := make([]uint, numIndices)
	for i := range bits {
		bits[i] = 1
		if !boson[i] {
			continue
		}
		if o.bosonBits != 0 {
			bits[i] = o.bosonBits
		}
		if b, ok := o.indexBits[i]; ok {
			bits[i] = b
		}
	}
	for i := range o.indexBits {
		if i < 0 || i >= numIndices || !boson[i] {
			return nil, errors.Errorf("bits for non bosonic index %d", i)
		}
	}

	layout, err := expr.NewLayout(boson, bits)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if n := layout.TotalBits(); n > maxBits {
		return nil, errors.Errorf("%d bits exceed %d", n, maxBits)
	}
	return &Space{Layout: layout, h: h}, nil
}

func statistics(h expr.Expression, numIndices int) ([]bool, error) {
	boson := make([]bool, numIndices)
	seen := make([]bool, numIndices)
	for _, m := range h.Monomials() {
		for _, g := range m {
			if g.Index < 0 || g.Index >= numIndices {
				return nil, errors.Errorf("index %d outside [0, %d)", g.Index, numIndices)
			}
			if seen[g.Index] && boson[g.Index] != g.Boson {
				return nil, errors.Errorf("mixed statistics on index %d", g.Index)
			}
			seen[g.Index] = true
			boson[g.Index] = g.Boson
		}
	}
	return boson, nil
}

func (s *Space) Dim() int { return s.Layout.Dim() }

// Partition splits the Fock space into blocks invariant under the Hamiltonian.
// Block ids are ordered by the smallest state of each block, and states within a block are ascending.
func (s *Space) Partition() (*states.Classification, error) {
	dim := s.Dim()
	d := newDisjointSet(dim)

	for _, m := range s.h.Monomials() {
		for ket := range dim {
			bra, _, ok := s.Layout.ActMonomial(m, expr.FockState(ket))
			if ok {
				d.union(ket, int(bra))
			}
		}
	}

	ladders := make([]expr.Monomial, 0, 2*len(s.Layout.Bits))
	for i := range s.Layout.Bits {
		boson := s.Layout.Boson[i]
		ladders = append(ladders,
			expr.Monomial{{Index: i, Boson: boson}},
			expr.Monomial{{Index: i, Boson: boson, Dagger: true}})
	}
	for merged := true; merged; {
		merged = false
		for _, m := range ladders {
			if s.mergeTargets(d, m) {
				merged = true
			}
		}
	}

	ids := make(map[int]int)
	var blocks [][]expr.FockState
	for st := range dim {
		r := d.find(st)
		b, ok := ids[r]
		if !ok {
			b = len(blocks)
			ids[r] = b
			blocks = append(blocks, nil)
		}
		blocks[b] = append(blocks[b], expr.FockState(st))
	}
	c, err := states.New(dim, blocks)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return c, nil
}

// mergeTargets unites all blocks that states of one block are mapped into by m.
func (s *Space) mergeTargets(d *disjointSet, m expr.Monomial) bool {
	target := make(map[int]int)
	merged := false
	for ket := range s.Dim() {
		bra, _, ok := s.Layout.ActMonomial(m, expr.FockState(ket))
		if !ok {
			continue
		}
		from, to := d.find(ket), d.find(int(bra))
		t, ok := target[from]
		if !ok {
			target[from] = to
			continue
		}
		if d.find(t) != to {
			d.union(t, to)
			merged = true
		}
	}
	return merged
}

type disjointSet struct {
	parent []int
	rank   []int
}

func newDisjointSet(n int) *disjointSet {
	d := &disjointSet{parent: make([]int, n), rank: make([]int, n)}
	for i := range d.parent {
		d.parent[i] = i
	}
	return d
}

func (d *disjointSet) find(u int) int {
	if d.parent[u] != u {
		d.parent[u] = d.find(d.parent[u])
	}
	return d.parent[u]
}

func (d *disjointSet) union(u, v int) {
	ru, rv := d.find(u), d.find(v)
	if ru == rv {
		return
	}
	switch {
	case d.rank[ru] < d.rank[rv]:
		d.parent[ru] = rv
	case d.rank[ru] > d.rank[rv]:
		d.parent[rv] = ru
	default:
		d.parent[rv] = ru
		d.rank[ru]++
	}
}

// BlockMap returns, for every block that m does not annihilate, the block it is mapped into.
// It fails if m maps one block into several blocks or several blocks into one.
func BlockMap(layout expr.Layout, c *states.Classification, m expr.Monomial) (map[int]int, error) {
	res := make(map[int]int)
	inverse := make(map[int]int)
	for from := range c.NumBlocks() {
		for _, ket := range c.States(from) {
			bra, _, ok := layout.ActMonomial(m, ket)
			if !ok {
				continue
			}
			to := c.Block(bra)
			if t, ok := res[from]; ok && t != to {
				return nil, errors.Errorf("%s maps block %d into %d and %d", m, from, t, to)
			}
			if f, ok := inverse[to]; ok && f != from {
				return nil, errors.Errorf("%s maps blocks %d and %d into %d", m, f, from, to)
			}
			res[from] = to
			inverse[to] = from
		}
	}
	return res, nil
}

// Keys returns the sorted source blocks of a block map.
func Keys(bm map[int]int) []int {
	keys := make([]int, 0, len(bm))
	for k := range bm {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
