package gf

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

// Pair is the index of an annihilation operator followed by the index of a creation operator.
type Pair [2]int

// Container holds the Green's functions G_ij for a set of index pairs.
type Container struct {
	MatrixElementTolerance   float64
	ReduceResonanceTolerance float64
	ReduceTolerance          float64

	ops      *operator.Container
	dm       *density.DensityMatrix
	metrics  *metrics.Metrics
	elements map[Pair]*GreensFunction
}

func NewContainer(ops *operator.Container, dm *density.DensityMatrix, m *metrics.Metrics) *Container {
	return &Container{
		MatrixElementTolerance:   DefaultMatrixElementTolerance,
		ReduceResonanceTolerance: DefaultReduceResonanceTolerance,
		ReduceTolerance:          DefaultReduceTolerance,
		ops:                      ops,
		dm:                       dm,
		metrics:                  m,
		elements:                 make(map[Pair]*GreensFunction),
	}
}

// PrepareAll creates and prepares G_ij for every pair. Pairs already present are kept.
func (c *Container) PrepareAll(pairs []Pair) error {
	for _, ij := range pairs {
		if _, ok := c.elements[ij]; ok {
			continue
		}
		ann, err := c.ops.Annihilation(ij[0])
		if err != nil {
			return errors.Wrap(err, "")
		}
		cre, err := c.ops.Creation(ij[1])
		if err != nil {
			return errors.Wrap(err, "")
		}
		g := New(ann, cre, c.dm)
		g.MatrixElementTolerance = c.MatrixElementTolerance
		g.ReduceResonanceTolerance = c.ReduceResonanceTolerance
		g.ReduceTolerance = c.ReduceTolerance
		if err := g.Prepare(); err != nil {
			return errors.Wrap(err, "")
		}
		c.elements[ij] = g
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

func (c *Container) Get(i, j int) (*GreensFunction, error) {
	g, ok := c.elements[Pair{i, j}]
	if !ok {
		return nil, errors.Errorf("no Green's function %d %d", i, j)
	}
	return g, nil
}

// ComputeAll computes the parts of all Green's functions in a single dispatch.
// Values at the Matsubara indices freqs are accumulated into every element and summed over ranks once.
// If clearTerms is set the terms are dropped after accumulation, otherwise they are shared with all ranks.
func (c *Container) ComputeAll(ctx context.Context, comm *mpi.Comm, freqs []int, clearTerms bool) error {
	var parts []lehmann.Part
	var owner []*GreensFunction
	var grids []*lehmann.Grid[int]
	for _, ij := range c.Pairs() {
		g := c.elements[ij]
		if g.status >= computable.Computed {
			continue
		}
		for _, p := range g.parts {
			parts = append(parts, p)
			owner = append(owner, g)
		}
		g.grid = lehmann.NewGrid(slices.Clone(freqs))
		grids = append(grids, g.grid)
	}
	beta := c.dm.Beta()
	after := func(k int) error {
		p := parts[k].(*Part)
		owner[k].grid.Accumulate(func(n int) complex128 { return p.Value(lehmann.FermionicFrequency(n, beta)) })
		c.metrics.Terms("gf", p.NumTerms())
		if clearTerms {
			p.Clear()
		}
		return nil
	}
	ranks, err := lehmann.Dispatch(ctx, comm, parts, after, mpi.WithMetrics(c.metrics), mpi.WithName("gf part"))
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
		g := c.elements[ij]
		if g.status < computable.Computed {
			g.status = computable.Computed
			g.cleared = clearTerms
		}
	}
	return nil
}
