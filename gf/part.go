package gf

import (
	"context"
	"math"
	"math/cmplx"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/density"
	"github.com/pomerol-ed/pomerol-sub001/hamiltonian"
	"github.com/pomerol-ed/pomerol-sub001/lehmann"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
	"github.com/pomerol-ed/pomerol-sub001/operator"
)

// Part collects the transitions between one outer block and one inner block.
// C maps the inner block into the outer one and CX maps it back.
type Part struct {
	c, cx         *operator.Part
	outer, inner  *hamiltonian.Part
	dmOuter, dmIn *density.Part
	matrixElemTol float64
	terms         *lehmann.List[lehmann.Pole]
}

func (p *Part) Complexity() int { return p.outer.NumEigen() * p.inner.NumEigen() }
func (p *Part) NumTerms() int   { return p.terms.Len() }
func (p *Part) Clear()          { p.terms.Clear() }

// Terms returns the poles ordered by position.
func (p *Part) Terms() []lehmann.Pole { return p.terms.Terms() }

func (p *Part) Compute() error {
	p.terms.Clear()
	for i1 := range p.outer.NumEigen() {
		for _, e := range p.c.Row(i1) {
			i2 := e.Col
			r := e.V * p.cx.At(i2, i1) * complex(p.dmOuter.Weight(i1)+p.dmIn.Weight(i2), 0)
			if cmplx.Abs(r) <= p.matrixElemTol {
				continue
			}
			p.terms.Add(lehmann.Pole{Residue: r, Pole: p.inner.EigenValue(i2) - p.outer.EigenValue(i1)})
		}
	}
	if !p.terms.CheckTerms() {
		return errors.Errorf("negligible terms left after merging")
	}
	return nil
}

func (p *Part) Broadcast(ctx context.Context, comm *mpi.Comm, root int) error {
	return lehmann.Broadcast(ctx, comm, root, p.terms)
}

func (p *Part) Value(z complex128) complex128 {
	return p.terms.Sum(func(t lehmann.Pole) complex128 { return t.Value(z) })
}

// OfTau returns the part in imaginary time 0 < tau < beta.
func (p *Part) OfTau(tau, beta float64) complex128 {
	return p.terms.Sum(func(t lehmann.Pole) complex128 { return complex(poleOfTau(t.Pole, tau, beta), 0) * -t.Residue })
}

// poleOfTau is the Fourier transform of 1/(i w_n - P) without the sign, evaluated so that no exponential overflows.
func poleOfTau(pole, tau, beta float64) float64 {
	if pole > 0 {
		return math.Exp(-tau*pole) / (1 + math.Exp(-beta*pole))
	}
	return math.Exp((beta-tau)*pole) / (math.Exp(beta*pole) + 1)
}
