package twopgf

import (
	"context"
	"math/cmplx"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/density"
	"github.com/pomerol-ed/pomerol-sub001/hamiltonian"
	"github.com/pomerol-ed/pomerol-sub001/lehmann"
	pmat "github.com/pomerol-ed/pomerol-sub001/mat"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
	"github.com/pomerol-ed/pomerol-sub001/operator"
)

// Permutation orders the operators c_1, c_2 and c^dagger_3 in front of c^dagger_4.
type Permutation struct {
	Perm [3]int
	Sign int
}

var permutations = [6]Permutation{
	{Perm: [3]int{0, 1, 2}, Sign: 1},
	{Perm: [3]int{0, 2, 1}, Sign: -1},
	{Perm: [3]int{1, 0, 2}, Sign: -1},
	{Perm: [3]int{1, 2, 0}, Sign: 1},
	{Perm: [3]int{2, 0, 1}, Sign: 1},
	{Perm: [3]int{2, 1, 0}, Sign: -1},
}

// Part is the trace of O1 O2 O3 c^dagger_4 over one cycle of four blocks,
// where O1, O2, O3 are c_1, c_2, c^dagger_3 in the order of the permutation.
type Part struct {
	o1, o2, o3, cx4 *operator.Part
	h               [4]*hamiltonian.Part
	dm              [4]*density.Part
	beta            float64
	perm            Permutation
	resonanceTol    float64
	coeffTol        float64

	nonResonant *lehmann.List[NonResonant]
	resonant    *lehmann.List[Resonant]
}

func (p *Part) Complexity() int {
	return p.h[0].NumEigen() * p.h[1].NumEigen() * p.h[2].NumEigen()
}

func (p *Part) NumTerms() int                   { return p.nonResonant.Len() + p.resonant.Len() }
func (p *Part) Permutation() Permutation        { return p.perm }
func (p *Part) NonResonantTerms() []NonResonant { return p.nonResonant.Terms() }
func (p *Part) ResonantTerms() []Resonant       { return p.resonant.Terms() }

func (p *Part) Clear() {
	p.nonResonant.Clear()
	p.resonant.Clear()
}

// chase calls f for every pair of entries of a and b whose indices ka and kb agree.
// Both slices must be sorted by their index.
func chase(a, b []pmat.VRowCol, ka, kb func(pmat.VRowCol) int, f func(x, y pmat.VRowCol)) {
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch x, y := ka(a[i]), kb(b[j]); {
		case x < y:
			i++
		case x > y:
			j++
		default:
			f(a[i], b[j])
			i++
			j++
		}
	}
}

func rowOf(v pmat.VRowCol) int { return v.Row }
func colOf(v pmat.VRowCol) int { return v.Col }

func (p *Part) Compute() error {
	p.Clear()
	type leg struct {
		index int
		v     complex128
	}
	var legs4 []leg
	sign := complex(float64(p.perm.Sign), 0)
	for i1 := range p.h[0].NumEigen() {
		e1, w1 := p.h[0].EigenValue(i1), p.dm[0].Weight(i1)
		for i3 := range p.h[2].NumEigen() {
			// i4 runs over <i3|O3|i4><i4|c^dagger_4|i1>.
			legs4 = legs4[:0]
			chase(p.o3.Row(i3), p.cx4.Col(i1), colOf, rowOf, func(x, y pmat.VRowCol) {
				legs4 = append(legs4, leg{index: x.Col, v: x.V * y.V})
			})
			if len(legs4) == 0 {
				continue
			}
			e3, w3 := p.h[2].EigenValue(i3), p.dm[2].Weight(i3)
			// i2 runs over <i1|O1|i2><i2|O2|i3>.
			chase(p.o1.Row(i1), p.o2.Col(i3), colOf, rowOf, func(x, y pmat.VRowCol) {
				i2 := x.Col
				e2, w2 := p.h[1].EigenValue(i2), p.dm[1].Weight(i2)
				for _, l := range legs4 {
					w4 := p.dm[3].Weight(l.index)
					if w1+w2+w3+w4 < p.coeffTol {
						continue
					}
					me := x.V * y.V * l.v * sign
					p.addMultiterm(me, e1, e2, e3, p.h[3].EigenValue(l.index), w1, w2, w3, w4)
				}
			})
		}
	}
	if !p.nonResonant.CheckTerms() || !p.resonant.CheckTerms() {
		return errors.Errorf("negligible terms left after merging")
	}
	return nil
}

// addMultiterm adds
//
//	1/((z1-P1)(z3-P3)) (C4/(z1+z2+z3-P1-P2-P3) + C2/(z2-P2)
//	    + R12 delta(z1+z2-P1-P2) + N12 (1-delta(z1+z2-P1-P2))/(z1+z2-P1-P2)
//	    + R23 delta(z2+z3-P2-P3) + N23 (1-delta(z2+z3-P2-P3))/(z2+z3-P2-P3))
//
// with P1 = Ej-Ei, P2 = Ek-Ej, P3 = El-Ek, C2 = -C(wj+wk), C4 = C(wi+wl),
// R12 = C beta wi, N12 = C(wk-wi), R23 = -C beta wj and N23 = C(wj-wl).
func (p *Part) addMultiterm(c complex128, ei, ej, ek, el, wi, wj, wk, wl float64) {
	poles := [3]float64{ej - ei, ek - ej, el - ek}
	big := func(v complex128) bool { return cmplx.Abs(v) > p.coeffTol }

	if c2 := -c * complex(wj+wk, 0); big(c2) {
		p.nonResonant.Add(NonResonant{Coeff: c2, Poles: poles})
	}
	if c4 := c * complex(wi+wl, 0); big(c4) {
		p.nonResonant.Add(NonResonant{Coeff: c4, Poles: poles, Z4: true})
	}
	r12, n12 := c*complex(p.beta*wi, 0), c*complex(wk-wi, 0)
	if big(r12) || big(n12) {
		p.resonant.Add(Resonant{ResCoeff: r12, NonResCoeff: n12, Poles: poles, Z1Z2: true})
	}
	r23, n23 := -c*complex(p.beta*wj, 0), c*complex(wj-wl, 0)
	if big(r23) || big(n23) {
		p.resonant.Add(Resonant{ResCoeff: r23, NonResCoeff: n23, Poles: poles})
	}
}

func (p *Part) Broadcast(ctx context.Context, comm *mpi.Comm, root int) error {
	if err := lehmann.Broadcast(ctx, comm, root, p.nonResonant); err != nil {
		return errors.Wrap(err, "non-resonant")
	}
	if err := lehmann.Broadcast(ctx, comm, root, p.resonant); err != nil {
		return errors.Wrap(err, "resonant")
	}
	return nil
}

// Value returns the part at the frequencies of c_1, c_2 and c^dagger_3.
func (p *Part) Value(z1, z2, z3 complex128) complex128 {
	freqs := [3]complex128{z1, z2, -z3}
	w1, w2, w3 := freqs[p.perm.Perm[0]], freqs[p.perm.Perm[1]], freqs[p.perm.Perm[2]]
	v := p.nonResonant.Sum(func(t NonResonant) complex128 { return t.Value(w1, w2, w3) })
	v += p.resonant.Sum(func(t Resonant) complex128 { return t.Value(w1, w2, w3, p.resonanceTol) })
	return v
}
