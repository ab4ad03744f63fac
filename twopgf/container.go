package twopgf

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

// Quad is the indices of c_1, c_2, c^dagger_3 and c^dagger_4.
type Quad [4]int

func compareQuad(a, b Quad) int {
	for i := range a {
		if c := cmp.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

type Container struct {
	ReduceResonanceTolerance      float64
	CoefficientTolerance          float64
	MultiTermCoefficientTolerance float64

	ops      *operator.Container
	dm       *density.DensityMatrix
	metrics  *metrics.Metrics
	elements map[Quad]*TwoParticleGF
}

func NewContainer(ops *operator.Container, dm *density.DensityMatrix, m *metrics.Metrics) *Container {
	return &Container{
		ReduceResonanceTolerance:      DefaultReduceResonanceTolerance,
		CoefficientTolerance:          DefaultCoefficientTolerance,
		MultiTermCoefficientTolerance: DefaultMultiTermCoefficientTolerance,
		ops:                           ops,
		dm:                            dm,
		metrics:                       m,
		elements:                      make(map[Quad]*TwoParticleGF),
	}
}

func (c *Container) create(q Quad) (*TwoParticleGF, error) {
	var ops [4]*operator.Operator
	for n, i := range q {
		var err error
		if n < 2 {
			ops[n], err = c.ops.Annihilation(i)
		} else {
			ops[n], err = c.ops.Creation(i)
		}
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	g, err := New(ops[0], ops[1], ops[2], ops[3], c.dm)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	g.ReduceResonanceTolerance = c.ReduceResonanceTolerance
	g.CoefficientTolerance = c.CoefficientTolerance
	g.MultiTermCoefficientTolerance = c.MultiTermCoefficientTolerance
	return g, nil
}

// PrepareAll creates and prepares an element for every index quadruple. Elements already present are kept.
func (c *Container) PrepareAll(quads []Quad) error {
	for _, q := range quads {
		if _, ok := c.elements[q]; ok {
			continue
		}
		g, err := c.create(q)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := g.Prepare(); err != nil {
			return errors.Wrap(err, "")
		}
		c.elements[q] = g
	}
	return nil
}

func (c *Container) Quads() []Quad {
	quads := make([]Quad, 0, len(c.elements))
	for q := range c.elements {
		quads = append(quads, q)
	}
	slices.SortFunc(quads, compareQuad)
	return quads
}

func (c *Container) Get(q Quad) (*TwoParticleGF, error) {
	g, ok := c.elements[q]
	if !ok {
		return nil, errors.Errorf("no two-particle Green's function %v", q)
	}
	return g, nil
}

// ComputeAll computes the parts of every element in one dispatch.
// Each element accumulates its values at the Matsubara index triples freqs, summed over ranks once at the end.
// If clearTerms is set the terms are dropped after accumulation, otherwise they are shared with all ranks.
func (c *Container) ComputeAll(ctx context.Context, comm *mpi.Comm, freqs [][3]int, clearTerms bool) error {
	var parts []lehmann.Part
	var owner []*TwoParticleGF
	var grids []*lehmann.Grid[[3]int]
	for _, q := range c.Quads() {
		g := c.elements[q]
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
		owner[k].grid.Accumulate(func(n [3]int) complex128 {
			return p.Value(lehmann.FermionicFrequency(n[0], beta), lehmann.FermionicFrequency(n[1], beta), lehmann.FermionicFrequency(n[2], beta))
		})
		c.metrics.Terms("2pgf", p.NumTerms())
		if clearTerms {
			p.Clear()
		}
		return nil
	}
	ranks, err := lehmann.Dispatch(ctx, comm, parts, after, mpi.WithMetrics(c.metrics), mpi.WithName("2pgf part"))
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
	for _, q := range c.Quads() {
		g := c.elements[q]
		if g.status < computable.Computed {
			g.status = computable.Computed
			g.cleared = clearTerms
		}
	}
	return nil
}
