// Package expr implements polynomials in fermionic and bosonic ladder operators.
//
// Monomials are kept in canonical order: creation operators first, ascending by (statistics, index),
// then annihilation operators, descending by (statistics, index). Fermions sort before bosons among
// creation operators, so fermionic annihilators end up rightmost.
package expr

import (
	"cmp"
	"fmt"
	"math"
	"math/cmplx"
	"slices"
	"strings"
)

// Coefficients below this magnitude are dropped.
const epsilon = 100 * 2.220446049250313e-16

type Generator struct {
	Dagger bool
	Boson  bool
	Index  int
}

func (g Generator) String() string {
	name := "c"
	if g.Boson {
		name = "a"
	}
	if g.Dagger {
		return fmt.Sprintf("%s†(%d)", name, g.Index)
	}
	return fmt.Sprintf("%s(%d)", name, g.Index)
}

// order returns the canonical ordering of two generators.
func order(a, b Generator) int {
	if a.Dagger != b.Dagger {
		if a.Dagger {
			return -1
		}
		return 1
	}
	c := cmp.Compare(boolInt(a.Boson), boolInt(b.Boson))
	if c == 0 {
		c = cmp.Compare(a.Index, b.Index)
	}
	if !a.Dagger {
		c = -c
	}
	return c
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type Monomial []Generator

func (m Monomial) String() string {
	if len(m) == 0 {
		return "1"
	}
	s := make([]string, 0, len(m))
	for _, g := range m {
		s = append(s, g.String())
	}
	return strings.Join(s, " ")
}

func (m Monomial) key() string {
	var b strings.Builder
	for _, g := range m {
		fmt.Fprintf(&b, "%d%d%d,", boolInt(g.Dagger), boolInt(g.Boson), g.Index)
	}
	return b.String()
}

// Compare orders monomials by length, then generator by generator.
func (m Monomial) Compare(o Monomial) int {
	if c := cmp.Compare(len(m), len(o)); c != 0 {
		return c
	}
	for i := range m {
		if c := order(m[i], o[i]); c != 0 {
			return c
		}
	}
	return 0
}

type Term struct {
	Monomial Monomial
	Coeff    complex128
}

// Expression is an immutable linear combination of canonically ordered monomials.
type Expression struct {
	terms map[string]Term
}

func newExpression() Expression {
	return Expression{terms: make(map[string]Term)}
}

func Scalar(c complex128) Expression {
	e := newExpression()
	e.add(Monomial{}, c)
	return e
}

func generator(g Generator) Expression {
	e := newExpression()
	e.add(Monomial{g}, 1)
	return e
}

func C(i int) Expression    { return generator(Generator{Index: i}) }
func CDag(i int) Expression { return generator(Generator{Dagger: true, Index: i}) }
func A(i int) Expression    { return generator(Generator{Boson: true, Index: i}) }
func ADag(i int) Expression { return generator(Generator{Dagger: true, Boson: true, Index: i}) }

func N(i int) Expression {
	return CDag(i).Mul(C(i))
}

// add accumulates c into the monomial m, which must already be canonical.
func (e Expression) add(m Monomial, c complex128) {
	k := m.key()
	t, ok := e.terms[k]
	if !ok {
		t = Term{Monomial: slices.Clone(m)}
	}
	t.Coeff += c
	if cmplx.Abs(t.Coeff) < epsilon {
		delete(e.terms, k)
		return
	}
	e.terms[k] = t
}

func (e Expression) Add(o Expression) Expression {
	r := e.clone()
	for _, t := range o.terms {
		r.add(t.Monomial, t.Coeff)
	}
	return r
}

func (e Expression) Sub(o Expression) Expression {
	return e.Add(o.Scale(-1))
}

func (e Expression) Scale(c complex128) Expression {
	r := newExpression()
	for _, t := range e.terms {
		r.add(t.Monomial, c*t.Coeff)
	}
	return r
}

func (e Expression) Mul(o Expression) Expression {
	r := newExpression()
	for _, a := range e.terms {
		for _, b := range o.terms {
			m := make(Monomial, 0, len(a.Monomial)+len(b.Monomial))
			m = append(m, a.Monomial...)
			m = append(m, b.Monomial...)
			normalize(r, m, a.Coeff*b.Coeff)
		}
	}
	return r
}

// normalize bubble sorts m into canonical order, accumulating the result into out.
// Swapping two fermions flips the sign; swapping an annihilator past the matching creator
// additionally yields the contracted monomial.
func normalize(out Expression, m Monomial, c complex128) {
	for i := 0; i+1 < len(m); i++ {
		a, b := m[i], m[i+1]
		if a == b && !a.Boson {
			return
		}
		if order(a, b) <= 0 {
			continue
		}

		swapped := slices.Clone(m)
		swapped[i], swapped[i+1] = b, a
		sign := complex(1, 0)
		if !a.Boson && !b.Boson {
			sign = -1
		}
		normalize(out, swapped, sign*c)

		if !a.Dagger && b.Dagger && a.Index == b.Index && a.Boson == b.Boson {
			contracted := make(Monomial, 0, len(m)-2)
			contracted = append(contracted, m[:i]...)
			contracted = append(contracted, m[i+2:]...)
			normalize(out, contracted, c)
		}
		return
	}
	out.add(m, c)
}

func Commutator(a, b Expression) Expression {
	return a.Mul(b).Sub(b.Mul(a))
}

func AntiCommutator(a, b Expression) Expression {
	return a.Mul(b).Add(b.Mul(a))
}

func (e Expression) CommutesWith(o Expression) bool {
	return Commutator(e, o).IsZero()
}

func (e Expression) Equal(o Expression) bool {
	return e.Sub(o).IsZero()
}

func (e Expression) IsZero() bool { return len(e.terms) == 0 }
func (e Expression) Len() int     { return len(e.terms) }

func (e Expression) IsMonomial() bool {
	return len(e.terms) == 1
}

func (e Expression) IsComplex() bool {
	for _, t := range e.terms {
		if math.Abs(imag(t.Coeff)) > epsilon {
			return true
		}
	}
	return false
}

// Conj returns the Hermitian conjugate.
func (e Expression) Conj() Expression {
	r := newExpression()
	for _, t := range e.terms {
		m := make(Monomial, 0, len(t.Monomial))
		for i := len(t.Monomial) - 1; i >= 0; i-- {
			g := t.Monomial[i]
			g.Dagger = !g.Dagger
			m = append(m, g)
		}
		normalize(r, m, cmplx.Conj(t.Coeff))
	}
	return r
}

// Terms returns the terms sorted by monomial.
func (e Expression) Terms() []Term {
	terms := make([]Term, 0, len(e.terms))
	for _, t := range e.terms {
		terms = append(terms, t)
	}
	slices.SortFunc(terms, func(a, b Term) int { return a.Monomial.Compare(b.Monomial) })
	return terms
}

func (e Expression) Monomials() []Monomial {
	terms := e.Terms()
	ms := make([]Monomial, 0, len(terms))
	for _, t := range terms {
		ms = append(ms, t.Monomial)
	}
	return ms
}

// Indices returns the flat indices appearing in e, and whether each one is bosonic.
func (e Expression) Indices() map[int]bool {
	idx := make(map[int]bool)
	for _, t := range e.terms {
		for _, g := range t.Monomial {
			idx[g.Index] = idx[g.Index] || g.Boson
		}
	}
	return idx
}

func (e Expression) String() string {
	if e.IsZero() {
		return "0"
	}
	s := make([]string, 0, len(e.terms))
	for _, t := range e.Terms() {
		s = append(s, fmt.Sprintf("%v*%s", t.Coeff, t.Monomial))
	}
	return strings.Join(s, " + ")
}

func (e Expression) clone() Expression {
	r := Expression{terms: make(map[string]Term, len(e.terms))}
	for k, t := range e.terms {
		r.terms[k] = t
	}
	return r
}
