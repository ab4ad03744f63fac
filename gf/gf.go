// Package gf computes the single-particle Green's function G(z) = -<T c c^dagger> in the Lehmann representation.
package gf

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/computable"
	"github.com/pomerol-ed/pomerol-sub001/density"
	"github.com/pomerol-ed/pomerol-sub001/lehmann"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
	"github.com/pomerol-ed/pomerol-sub001/operator"
)

const (
	DefaultMatrixElementTolerance   = 1e-8
	DefaultReduceResonanceTolerance = 1e-8
	DefaultReduceTolerance          = 1e-8
)

// ErrTermsCleared is returned when the Lehmann terms were dropped after accumulation on a grid.
var ErrTermsCleared = errors.New("terms cleared")

type GreensFunction struct {
	// MatrixElementTolerance drops residues of at most this magnitude.
	MatrixElementTolerance float64
	// ReduceResonanceTolerance is the distance within which two poles are merged.
	ReduceResonanceTolerance float64
	// ReduceTolerance drops merged residues below this magnitude, divided by the number of terms.
	ReduceTolerance float64

	c, cx  *operator.Operator
	dm     *density.DensityMatrix
	parts  []*Part
	status computable.Status

	grid    *lehmann.Grid[int]
	cleared bool
}

// New returns the Green's function of the annihilation operator c and the creation operator cx.
func New(c, cx *operator.Operator, dm *density.DensityMatrix) *GreensFunction {
	return &GreensFunction{
		MatrixElementTolerance:   DefaultMatrixElementTolerance,
		ReduceResonanceTolerance: DefaultReduceResonanceTolerance,
		ReduceTolerance:          DefaultReduceTolerance,
		c:                        c,
		cx:                       cx,
		dm:                       dm,
	}
}

func (g *GreensFunction) Status() computable.Status { return g.status }
func (g *GreensFunction) Parts() []*Part            { return g.parts }
func (g *GreensFunction) Cleared() bool             { return g.cleared }

// IsVanishing reports whether no pair of blocks contributes.
func (g *GreensFunction) IsVanishing() bool { return len(g.parts) == 0 }

// Prepare finds the pairs of blocks connected by both operators in which at least one block is retained.
func (g *GreensFunction) Prepare() error {
	if g.status >= computable.Prepared {
		return nil
	}
	for _, o := range []*operator.Operator{g.c, g.cx} {
		if err := computable.Require(o.Status(), computable.Computed); err != nil {
			return errors.Wrap(err, o.Expression().String())
		}
	}
	if err := computable.Require(g.dm.Status(), computable.Computed); err != nil {
		return errors.Wrap(err, "density matrix")
	}
	ham := g.dm.Hamiltonian()
	for _, cp := range g.c.Parts() {
		outer, inner := cp.Left(), cp.Right()
		cxp := g.cx.PartFromRight(outer)
		if cxp == nil || cxp.Left() != inner {
			continue
		}
		if !g.dm.IsRetained(outer) && !g.dm.IsRetained(inner) {
			continue
		}
		g.parts = append(g.parts, &Part{
			c:             cp,
			cx:            cxp,
			outer:         ham.Part(outer),
			inner:         ham.Part(inner),
			dmOuter:       g.dm.Part(outer),
			dmIn:          g.dm.Part(inner),
			matrixElemTol: g.MatrixElementTolerance,
			terms:         lehmann.NewList[lehmann.Pole](g.ReduceResonanceTolerance, g.ReduceTolerance),
		})
	}
	g.status = computable.Prepared
	return nil
}

func (g *GreensFunction) lehmannParts() []lehmann.Part {
	parts := make([]lehmann.Part, 0, len(g.parts))
	for _, p := range g.parts {
		parts = append(parts, p)
	}
	return parts
}

// Compute generates the terms of every part over the ranks of comm and shares them with all ranks.
func (g *GreensFunction) Compute(ctx context.Context, comm *mpi.Comm, opts ...mpi.SkelOption) error {
	if g.status >= computable.Computed {
		return nil
	}
	if err := computable.Require(g.status, computable.Prepared); err != nil {
		return errors.Wrap(err, "")
	}
	parts := g.lehmannParts()
	opts = append([]mpi.SkelOption{mpi.WithName("gf part")}, opts...)
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

// Value returns G(z).
func (g *GreensFunction) Value(z complex128) complex128 {
	var v complex128
	for _, p := range g.parts {
		v += p.Value(z)
	}
	return v
}

// At returns G at the fermionic Matsubara frequency with index n.
// After a container computation that cleared the terms only the frequencies of its grid are available.
func (g *GreensFunction) At(n int) (complex128, error) {
	if v, ok := g.grid.Lookup(n); ok {
		return v, nil
	}
	if err := computable.Require(g.status, computable.Computed); err != nil {
		return 0, errors.Wrap(err, "")
	}
	if g.cleared {
		return 0, errors.Wrap(ErrTermsCleared, fmt.Sprintf("%d not in grid", n))
	}
	return g.Value(lehmann.FermionicFrequency(n, g.dm.Beta())), nil
}

// OfTau returns G(tau) for 0 < tau < beta.
func (g *GreensFunction) OfTau(tau float64) complex128 {
	var v complex128
	for _, p := range g.parts {
		v += p.OfTau(tau, g.dm.Beta())
	}
	return v
}

func (g *GreensFunction) NumTerms() int {
	n := 0
	for _, p := range g.parts {
		n += p.NumTerms()
	}
	return n
}
