// Package presets builds model Hamiltonians from terms written in (site, orbital, spin) tuples.
package presets

import (
	"fmt"
	"math/cmplx"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/expr"
	"github.com/pomerol-ed/pomerol-sub001/index"
)

var spins = [2]index.Spin{index.Up, index.Down}

type factor struct {
	index  index.Index
	dagger bool
}

type product struct {
	coeff   complex128
	factors []factor
}

// Term is a sum of products of fermionic ladder operators on index tuples.
type Term []product

func cdag(site string, orbital int, s index.Spin) factor {
	return factor{index: index.Index{Site: site, Orbital: orbital, Spin: s}, dagger: true}
}

func c(site string, orbital int, s index.Spin) factor {
	return factor{index: index.Index{Site: site, Orbital: orbital, Spin: s}}
}

func (t Term) add(coeff complex128, factors ...factor) Term {
	if coeff == 0 {
		return t
	}
	return append(t, product{coeff: coeff, factors: factors})
}

// Sum concatenates terms.
func Sum(terms ...Term) Term {
	var s Term
	for _, t := range terms {
		s = append(s, t...)
	}
	return s
}

// Level is e n_{site,o,s} summed over the orbitals and both spins.
func Level(site string, e float64, orbitals int) Term {
	var t Term
	for o := range orbitals {
		for _, s := range spins {
			t = t.add(complex(e, 0), cdag(site, o, s), c(site, o, s))
		}
	}
	return t
}

// Hopping is t c^dagger_a c_b + h.c. for every orbital and spin.
func Hopping(a, b string, hop complex128, orbitals int) Term {
	var t Term
	for o := range orbitals {
		for _, s := range spins {
			t = t.add(hop, cdag(a, o, s), c(b, o, s))
			t = t.add(cmplx.Conj(hop), cdag(b, o, s), c(a, o, s))
		}
	}
	return t
}

// NupNdown is v n_{site,o1,s1} n_{site,o2,s2}.
func NupNdown(site string, v float64, o1, o2 int, s1, s2 index.Spin) Term {
	var t Term
	return t.add(complex(v, 0), cdag(site, o1, s1), c(site, o1, s1), cdag(site, o2, s2), c(site, o2, s2))
}

// Spinflip is v c^dagger_{o1 s1} c^dagger_{o2 s2} c_{o2 s1} c_{o1 s2}.
func Spinflip(site string, v float64, o1, o2 int, s1, s2 index.Spin) Term {
	var t Term
	return t.add(complex(v, 0), cdag(site, o1, s1), cdag(site, o2, s2), c(site, o2, s1), c(site, o1, s2))
}

// PairHopping is v c^dagger_{o1 s1} c^dagger_{o1 s2} c_{o2 s1} c_{o2 s2}.
func PairHopping(site string, v float64, o1, o2 int, s1, s2 index.Spin) Term {
	var t Term
	return t.add(complex(v, 0), cdag(site, o1, s1), cdag(site, o1, s2), c(site, o2, s1), c(site, o2, s2))
}

// CoulombS is the single orbital interaction level (n_up + n_dn) + U n_up n_dn on every orbital.
func CoulombS(site string, u, level float64, orbitals int) Term {
	t := Level(site, level, orbitals)
	for o := range orbitals {
		t = append(t, NupNdown(site, u, o, o, index.Up, index.Down)...)
	}
	return t
}

// CoulombP is the Kanamori interaction with intra-orbital U, inter-orbital Up and Hund's coupling J.
func CoulombP(site string, u, up, j, level float64, orbitals int) (Term, error) {
	if orbitals < 2 {
		return nil, errors.Errorf("multiorbital interaction on %d orbitals", orbitals)
	}
	var t Term
	for o1 := range orbitals {
		for _, s1 := range spins {
			t = t.add(complex(level, 0), cdag(site, o1, s1), c(site, o1, s1))
			for o2 := range orbitals {
				if o1 != o2 {
					t = append(t, NupNdown(site, (up-j)/2, o1, o2, s1, s1)...)
				}
			}
			for _, s2 := range spins {
				if s2 >= s1 {
					continue
				}
				t = append(t, NupNdown(site, u, o1, o1, s1, s2)...)
				for o2 := range orbitals {
					if o1 == o2 {
						continue
					}
					t = append(t, NupNdown(site, up, o1, o2, s1, s2)...)
					t = append(t, Spinflip(site, -j, o1, o2, s1, s2)...)
					t = append(t, PairHopping(site, -j, o1, o2, s1, s2)...)
				}
			}
		}
	}
	return t, nil
}

// Magnetization is h n_up - h n_dn on every orbital.
func Magnetization(site string, h float64, orbitals int) Term {
	var t Term
	for o := range orbitals {
		t = t.add(complex(h, 0), cdag(site, o, index.Up), c(site, o, index.Up))
		t = t.add(complex(-h, 0), cdag(site, o, index.Down), c(site, o, index.Down))
	}
	return t
}

// HubbardAtom is a single site with interaction u, chemical potential mu and magnetic field h.
func HubbardAtom(u, mu, h float64) Term {
	return Sum(CoulombS("A", u, -mu, 1), Magnetization("A", -h, 1))
}

// HubbardDimer is two Hubbard atoms A and B coupled by hopping -t.
func HubbardDimer(u, mu, t float64) Term {
	return Sum(CoulombS("A", u, -mu, 1), CoulombS("B", u, -mu, 1), Hopping("A", "B", complex(-t, 0), 1))
}

// Anderson is an impurity A hybridized with one bath site per level.
func Anderson(u, mu float64, levels, hoppings []float64) (Term, error) {
	if len(levels) != len(hoppings) {
		return nil, errors.Errorf("%d levels, %d hoppings", len(levels), len(hoppings))
	}
	t := CoulombS("A", u, -mu, 1)
	for i := range levels {
		bath := fmt.Sprintf("b%d", i)
		t = append(t, Level(bath, levels[i], 1)...)
		t = append(t, Hopping("A", bath, complex(hoppings[i], 0), 1)...)
	}
	return t, nil
}

// Build registers every index tuple appearing in terms and returns the Hamiltonian over the flat indices.
func Build(terms ...Term) (*index.Registry[index.Index], expr.Expression, error) {
	var tuples []index.Index
	for _, t := range terms {
		for _, p := range t {
			for _, f := range p.factors {
				tuples = append(tuples, f.index)
			}
		}
	}
	if len(tuples) == 0 {
		return nil, expr.Expression{}, errors.Errorf("no operators in %d terms", len(terms))
	}
	reg := index.NewRegistry(tuples, index.Compare)

	h := expr.Scalar(0)
	for _, t := range terms {
		for _, p := range t {
			m := expr.Scalar(p.coeff)
			for _, f := range p.factors {
				i, err := reg.Flat(f.index)
				if err != nil {
					return nil, expr.Expression{}, errors.Wrap(err, "")
				}
				if f.dagger {
					m = m.Mul(expr.CDag(i))
				} else {
					m = m.Mul(expr.C(i))
				}
			}
			h = h.Add(m)
		}
	}
	return reg, h, nil
}

func MustBuild(terms ...Term) (*index.Registry[index.Index], expr.Expression) {
	reg, h, err := Build(terms...)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return reg, h
}
