// Package twopgf computes the two-particle Green's function
//
//	chi(z1, z2, z3) = <T c_1(z1) c_2(z2) c^dagger_3(z3) c^dagger_4(z1+z2-z3)>
//
// as a sum over the six orderings of c_1, c_2 and c^dagger_3 relative to c^dagger_4.
package twopgf

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/computable"
	"github.com/pomerol-ed/pomerol-sub001/density"
	"github.com/pomerol-ed/pomerol-sub001/lehmann"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
	"github.com/pomerol-ed/pomerol-sub001/operator"
	"github.com/pomerol-ed/pomerol-sub001/states"
)

var ErrDaggerPattern = errors.New("expected annihilation, annihilation, creation, creation")

const (
	DefaultReduceResonanceTolerance = 1e-8
	DefaultCoefficientTolerance     = 1e-16
)

// DefaultMultiTermCoefficientTolerance is accepted for compatibility and has no effect.
const DefaultMultiTermCoefficientTolerance = 1e-5

type TwoParticleGF struct {
	// ReduceResonanceTolerance is the distance within which poles are merged and resonances are detected.
	ReduceResonanceTolerance float64
	// CoefficientTolerance drops terms with smaller coefficients, and transitions whose total weight is smaller.
	CoefficientTolerance float64
	// MultiTermCoefficientTolerance is carried along with the other tolerances but never consulted.
	MultiTermCoefficientTolerance float64

	c1, c2, cx3, cx4 *operator.Operator
	dm               *density.DensityMatrix
	parts            []*Part
	status           computable.Status

	grid    *lehmann.Grid[[3]int]
	cleared bool
}

func New(c1, c2, cx3, cx4 *operator.Operator, dm *density.DensityMatrix) (*TwoParticleGF, error) {
	kinds := []operator.Kind{operator.Annihilation, operator.Annihilation, operator.Creation, operator.Creation}
	for i, o := range []*operator.Operator{c1, c2, cx3, cx4} {
		if o.Kind() != kinds[i] {
			return nil, errors.Wrap(ErrDaggerPattern, fmt.Sprintf("operator %d is %s", i+1, o.Kind()))
		}
	}
	return &TwoParticleGF{
		ReduceResonanceTolerance:      DefaultReduceResonanceTolerance,
		CoefficientTolerance:          DefaultCoefficientTolerance,
		MultiTermCoefficientTolerance: DefaultMultiTermCoefficientTolerance,
		c1:                            c1,
		c2:                            c2,
		cx3:                           cx3,
		cx4:                           cx4,
		dm:                            dm,
	}, nil
}

func (g *TwoParticleGF) Status() computable.Status { return g.status }
func (g *TwoParticleGF) Parts() []*Part            { return g.parts }
func (g *TwoParticleGF) IsVanishing() bool         { return len(g.parts) == 0 }

// Prepare finds the cycles of four blocks through c^dagger_4 and every ordering of the other operators
// in which at least one block is retained.
func (g *TwoParticleGF) Prepare() error {
	if g.status >= computable.Prepared {
		return nil
	}
	ops := [3]*operator.Operator{g.c1, g.c2, g.cx3}
	for _, o := range append(ops[:], g.cx4) {
		if err := computable.Require(o.Status(), computable.Computed); err != nil {
			return errors.Wrap(err, o.Expression().String())
		}
	}
	if err := computable.Require(g.dm.Status(), computable.Computed); err != nil {
		return errors.Wrap(err, "density matrix")
	}

	ham := g.dm.Hamiltonian()
	for _, cxp := range g.cx4.Parts() {
		for _, perm := range permutations {
			o1, o2, o3 := ops[perm.Perm[0]], ops[perm.Perm[1]], ops[perm.Perm[2]]
			var blocks [4]int
			blocks[0], blocks[3] = cxp.Right(), cxp.Left()
			blocks[2] = o3.LeftIndex(blocks[3])
			blocks[1] = o1.RightIndex(blocks[0])
			if blocks[1] == states.InvalidBlock || blocks[2] == states.InvalidBlock || o2.RightIndex(blocks[1]) != blocks[2] {
				continue
			}
			retained := false
			for _, b := range blocks {
				retained = retained || g.dm.IsRetained(b)
			}
			if !retained {
				continue
			}
			p := &Part{
				o1:           o1.PartFromLeft(blocks[0]),
				o2:           o2.PartFromLeft(blocks[1]),
				o3:           o3.PartFromLeft(blocks[2]),
				cx4:          cxp,
				beta:         g.dm.Beta(),
				perm:         perm,
				resonanceTol: g.ReduceResonanceTolerance,
				coeffTol:     g.CoefficientTolerance,
				nonResonant:  lehmann.NewList[NonResonant](g.ReduceResonanceTolerance, g.CoefficientTolerance),
				resonant:     lehmann.NewList[Resonant](g.ReduceResonanceTolerance, g.CoefficientTolerance),
			}
			for k, b := range blocks {
				p.h[k] = ham.Part(b)
				p.dm[k] = g.dm.Part(b)
			}
			g.parts = append(g.parts, p)
		}
	}
	g.status = computable.Prepared
	return nil
}

func (g *TwoParticleGF) lehmannParts() []lehmann.Part {
	parts := make([]lehmann.Part, 0, len(g.parts))
	for _, p := range g.parts {
		parts = append(parts, p)
	}
	return parts
}

func (g *TwoParticleGF) Compute(ctx context.Context, comm *mpi.Comm, opts ...mpi.SkelOption) error {
	if g.status >= computable.Computed {
		return nil
	}
	if err := computable.Require(g.status, computable.Prepared); err != nil {
		return errors.Wrap(err, "")
	}
	parts := g.lehmannParts()
	opts = append([]mpi.SkelOption{mpi.WithName("2pgf part")}, opts...)
	ranks, err := lehmann.Dispatch(ctx, comm, parts, nil, opts...)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := lehmann.BroadcastParts(ctx, comm, parts, ranks); err != nil {
		return errors.Wrap(err, "")
	}
	g.status = computable.Computed
	return nil
}

// Value returns chi at the frequencies z1, z2 of the annihilation operators and z3 of c^dagger_3.
func (g *TwoParticleGF) Value(z1, z2, z3 complex128) complex128 {
	var v complex128
	for _, p := range g.parts {
		v += p.Value(z1, z2, z3)
	}
	return v
}

// At returns chi at the fermionic Matsubara frequencies with indices n1, n2 and n3.
func (g *TwoParticleGF) At(n1, n2, n3 int) (complex128, error) {
	if v, ok := g.grid.Lookup([3]int{n1, n2, n3}); ok {
		return v, nil
	}
	if err := computable.Require(g.status, computable.Computed); err != nil {
		return 0, errors.Wrap(err, "")
	}
	if g.cleared {
		return 0, errors.Errorf("terms cleared, (%d, %d, %d) not in grid", n1, n2, n3)
	}
	beta := g.dm.Beta()
	return g.Value(lehmann.FermionicFrequency(n1, beta), lehmann.FermionicFrequency(n2, beta), lehmann.FermionicFrequency(n3, beta)), nil
}

func (g *TwoParticleGF) NumTerms() int {
	n := 0
	for _, p := range g.parts {
		n += p.NumTerms()
	}
	return n
}
