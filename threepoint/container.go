package threepoint

import (
	"cmp"
	"context"
	"slices"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/computable"
	"github.com/pomerol-ed/pomerol-sub001/density"
	"github.com/pomerol-ed/pomerol-sub001/lehmann"
	"github.com/pomerol-ed/pomerol-sub001/metrics"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
	"github.com/pomerol-ed/pomerol-sub001/operator"
)

// Pair indexes the fermionic operators of an element: the first creation operator and its partner
// in the channel, a creation operator for PP and an annihilation operator otherwise.
type Pair [2]int

// Container holds the susceptibilities of one channel that share the bosonic pair of operators on k and l.
type Container struct {
	ReduceResonanceTolerance float64
	CoefficientTolerance     float64

	channel  Channel
	k, l     int
	ops      *operator.Container
	dm       *density.DensityMatrix
	metrics  *metrics.Metrics
	elements map[Pair]*Susceptibility
}

// NewContainer fixes the bosonic pair to c_k c_l in the PP channel, c^dagger_k c_l in the PH and xPH channels.
func NewContainer(ops *operator.Container, dm *density.DensityMatrix, channel Channel, k, l int, m *metrics.Metrics) (*Container, error) {
	if channel < PP || channel > XPH {
		return nil, errors.Wrap(ErrInvalidChannel, channel.String())
	}
	return &Container{
		ReduceResonanceTolerance: DefaultReduceResonanceTolerance,
		CoefficientTolerance:     DefaultCoefficientTolerance,
		channel:                  channel,
		k:                        k,
		l:                        l,
		ops:                      ops,
		dm:                       dm,
		metrics:                  m,
		elements:                 make(map[Pair]*Susceptibility),
	}, nil
}

func (c *Container) Channel() Channel { return c.channel }

func (c *Container) create(ij Pair) (*Susceptibility, error) {
	lookup := func(i int, create bool) (*operator.Operator, error) {
		if create {
			return c.ops.Creation(i)
		}
		return c.ops.Annihilation(i)
	}
	// Flat indices of c^dagger_1 c_2 c^dagger_3 c_4 and whether each is a creation operator.
	var idx [4]int
	switch c.channel {
	case PP:
		idx = [4]int{ij[0], c.k, ij[1], c.l}
	case PH:
		idx = [4]int{ij[0], ij[1], c.k, c.l}
	default:
		idx = [4]int{ij[0], c.l, c.k, ij[1]}
	}
	var ops [4]*operator.Operator
	for n := range idx {
		o, err := lookup(idx[n], n%2 == 0)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		ops[n] = o
	}
	s, err := New(c.channel, ops[0], ops[1], ops[2], ops[3], c.dm)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	s.ReduceResonanceTolerance = c.ReduceResonanceTolerance
	s.CoefficientTolerance = c.CoefficientTolerance
	return s, nil
}

// PrepareAll creates and prepares an element for every pair. Pairs already present are kept.
func (c *Container) PrepareAll(pairs []Pair) error {
	for _, ij := range pairs {
		if _, ok := c.elements[ij]; ok {
			continue
		}
		s, err := c.create(ij)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := s.Prepare(); err != nil {
			return errors.Wrap(err, "")
		}
		c.elements[ij] = s
	}
	return nil
}

func (c *Container) Pairs() []Pair {
	pairs := make([]Pair, 0, len(c.elements))
	for ij := range c.elements {
		pairs = append(pairs, ij)
	}
	slices.SortFunc(pairs, func(a, b Pair) int {
		if d := cmp.Compare(a[0], b[0]); d != 0 {
			return d
		}
		return cmp.Compare(a[1], b[1])
	})
	return pairs
}

func (c *Container) Get(i, j int) (*Susceptibility, error) {
	s, ok := c.elements[Pair{i, j}]
	if !ok {
		return nil, errors.Errorf("no %s susceptibility %d %d", c.channel, i, j)
	}
	return s, nil
}

// ComputeAll computes the parts of every element in one dispatch and accumulates them at the index pairs freqs.
// If clearTerms is set the terms are dropped after accumulation, otherwise they are shared with all ranks.
func (c *Container) ComputeAll(ctx context.Context, comm *mpi.Comm, freqs [][2]int, clearTerms bool) error {
	var parts []lehmann.Part
	var owner []*Susceptibility
	var grids []*lehmann.Grid[[2]int]
	for _, ij := range c.Pairs() {
		s := c.elements[ij]
		if s.status >= computable.Computed {
			continue
		}
		for _, p := range s.parts {
			parts = append(parts, p)
			owner = append(owner, s)
		}
		s.grid = lehmann.NewGrid(slices.Clone(freqs))
		grids = append(grids, s.grid)
	}
	beta := c.dm.Beta()
	after := func(k int) error {
		p := parts[k].(*Part)
		owner[k].grid.Accumulate(func(n [2]int) complex128 {
			return p.Value(lehmann.FermionicFrequency(n[0], beta), lehmann.FermionicFrequency(n[1], beta))
		})
		c.metrics.Terms("threepoint", p.NumTerms())
		if clearTerms {
			p.Clear()
		}
		return nil
	}
	ranks, err := lehmann.Dispatch(ctx, comm, parts, after, mpi.WithMetrics(c.metrics), mpi.WithName("threepoint part"))
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := lehmann.AllreduceGrids(ctx, comm, grids); err != nil {
		return errors.Wrap(err, "")
	}
	if !clearTerms {
		if err := lehmann.BroadcastParts(ctx, comm, parts, ranks); err != nil {
			return errors.Wrap(err, "")
		}
	}
	for _, ij := range c.Pairs() {
		s := c.elements[ij]
		if s.status < computable.Computed {
			s.status = computable.Computed
			s.cleared = clearTerms
		}
	}
	return nil
}
