package threepoint

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

// Part is the contribution of one cycle of blocks
//
//	<1|F1|2><2|F2|3><3|B1 B2|1>
//
// where F1 and F2 are the fermionic operators, exchanged if swapped is set.
type Part struct {
	f1, f2, b1, b2 *operator.Part
	h1, h2, h3     *hamiltonian.Part
	dm1, dm2, dm3  *density.Part
	beta           float64
	channel        Channel
	swapped        bool
	resonanceTol   float64
	coeffTol       float64

	ff  *lehmann.List[FF]
	fb  *lehmann.List[FB]
	res *lehmann.List[Resonant]
}

func (p *Part) Complexity() int {
	return p.h1.NumEigen() * p.h2.NumEigen() * p.h3.NumEigen()
}

func (p *Part) NumTerms() int             { return p.ff.Len() + p.fb.Len() + p.res.Len() }
func (p *Part) Swapped() bool             { return p.swapped }
func (p *Part) FFTerms() []FF             { return p.ff.Terms() }
func (p *Part) FBTerms() []FB             { return p.fb.Terms() }
func (p *Part) ResonantTerms() []Resonant { return p.res.Terms() }

func (p *Part) Clear() {
	p.ff.Clear()
	p.fb.Clear()
	p.res.Clear()
}

func (p *Part) Compute() error {
	p.Clear()
	prefactor := complex(1, 0)
	if (p.channel == PH) != p.swapped {
		prefactor = -1
	}
	// Column i1 of B1 B2.
	bcol := make([]complex128, p.h3.NumEigen())
	for i1 := range p.h1.NumEigen() {
		clear(bcol)
		for _, e := range p.b2.Col(i1) {
			for _, f := range p.b1.Col(e.Row) {
				bcol[f.Row] += f.V * e.V
			}
		}
		e1, w1 := p.h1.EigenValue(i1), p.dm1.Weight(i1)
		for _, e2 := range p.f1.Row(i1) {
			i2 := e2.Col
			en2, w2 := p.h2.EigenValue(i2), p.dm2.Weight(i2)
			for _, e3 := range p.f2.Row(i2) {
				i3 := e3.Col
				if bcol[i3] == 0 {
					continue
				}
				me := e2.V * e3.V * bcol[i3] * prefactor
				p.addMultiterm(me, e1, en2, p.h3.EigenValue(i3), w1, w2, p.dm3.Weight(i3))
			}
		}
	}
	if !p.ff.CheckTerms() || !p.fb.CheckTerms() || !p.res.CheckTerms() {
		return errors.Errorf("negligible terms left after merging")
	}
	return nil
}

func (p *Part) addMultiterm(c complex128, ei, ej, ek, wi, wj, wk float64) {
	eij, ejk, eik := ei-ej, ej-ek, ei-ek
	pp := p.channel == PP
	xi := 1
	if pp {
		xi = -1
	}

	if coeff := c * complex(wi+wj, 0); cmplx.Abs(coeff) > p.coeffTol {
		p1, p2 := eij, ejk
		if p.swapped {
			p1, p2 = ejk, eij
		}
		if pp {
			coeff = -coeff
		} else {
			p2 = -p2
		}
		p.ff.Add(FF{Coeff: coeff, P1: p1, P2: p2})
	}

	if math.Abs(eik) < p.resonanceTol {
		coeff := -c * complex(p.beta*wi, 0)
		if cmplx.Abs(coeff) <= p.coeffTol {
			return
		}
		pole := -ejk
		if p.swapped {
			coeff, pole = -coeff, ejk
		}
		p.res.Add(Resonant{Coeff: coeff, P: pole, Xi: xi})
		return
	}

	coeff := c * complex(wk-wi, 0)
	if cmplx.Abs(coeff) <= p.coeffTol {
		return
	}
	if p.swapped {
		p.fb.Add(FB{Coeff: -coeff, P1: ejk, P12: eik, Xi: xi})
		return
	}
	p.fb.Add(FB{Coeff: coeff, P1: eij, P12: eik, Xi: xi})
	if pp {
		p.ff.Add(FF{Coeff: -coeff, P1: eij, P2: ejk})
	} else {
		p.ff.Add(FF{Coeff: coeff, P1: eij, P2: -ejk})
	}
}

func (p *Part) Broadcast(ctx context.Context, comm *mpi.Comm, root int) error {
	if err := lehmann.Broadcast(ctx, comm, root, p.ff); err != nil {
		return errors.Wrap(err, "ff")
	}
	if err := lehmann.Broadcast(ctx, comm, root, p.fb); err != nil {
		return errors.Wrap(err, "fb")
	}
	if err := lehmann.Broadcast(ctx, comm, root, p.res); err != nil {
		return errors.Wrap(err, "resonant")
	}
	return nil
}

func (p *Part) Value(z1, z2 complex128) complex128 {
	v := p.ff.Sum(func(t FF) complex128 { return t.Value(z1, z2) })
	v += p.fb.Sum(func(t FB) complex128 { return t.Value(z1, z2) })
	v += p.res.Sum(func(t Resonant) complex128 { return t.Value(z1, z2, p.resonanceTol) })
	return v
}
