// Package vertex turns a two-particle Green's function into the two-particle vertex.
package vertex

import (
	"sync"

	"github.com/pkg/errors"
)

// TwoParticle is a two-particle Green's function on fermionic Matsubara indices.
type TwoParticle interface {
	At(n1, n2, n3 int) (complex128, error)
}

// SingleParticle is a Green's function on fermionic Matsubara indices.
type SingleParticle interface {
	At(n int) (complex128, error)
}

// Vertex4 is
//
//	chi(n1, n2, n3) + beta delta(n1, n3) G13(n1) G24(n2) - beta delta(n2, n3) G14(n1) G23(n2)
//
// for chi = <c_1 c_2 c^dagger_3 c^dagger_4>.
type Vertex4 struct {
	beta               float64
	chi                TwoParticle
	g13, g24, g14, g23 SingleParticle

	mu     sync.Mutex
	values map[[3]int]complex128
}

func New(beta float64, chi TwoParticle, g13, g24, g14, g23 SingleParticle) *Vertex4 {
	return &Vertex4{beta: beta, chi: chi, g13: g13, g24: g24, g14: g14, g23: g23, values: make(map[[3]int]complex128)}
}

func (v *Vertex4) Value(n1, n2, n3 int) (complex128, error) {
	key := [3]int{n1, n2, n3}
	v.mu.Lock()
	val, ok := v.values[key]
	v.mu.Unlock()
	if ok {
		return val, nil
	}

	val, err := v.chi.At(n1, n2, n3)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	beta := complex(v.beta, 0)
	if n1 == n3 {
		g, err := product(v.g13, n1, v.g24, n2)
		if err != nil {
			return 0, errors.Wrap(err, "")
		}
		val += beta * g
	}
	if n2 == n3 {
		g, err := product(v.g14, n1, v.g23, n2)
		if err != nil {
			return 0, errors.Wrap(err, "")
		}
		val -= beta * g
	}

	v.mu.Lock()
	v.values[key] = val
	v.mu.Unlock()
	return val, nil
}

// Amputated divides Value by the legs g1(n1) g2(n2) g3(n3) g4(n1+n2-n3).
func (v *Vertex4) Amputated(g1, g2, g3, g4 SingleParticle, n1, n2, n3 int) (complex128, error) {
	val, err := v.Value(n1, n2, n3)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	a, err := product(g1, n1, g2, n2)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	b, err := product(g3, n3, g4, n1+n2-n3)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	if a == 0 || b == 0 {
		return 0, errors.Errorf("vanishing leg at (%d, %d, %d)", n1, n2, n3)
	}
	return val / (a * b), nil
}

func product(a SingleParticle, na int, b SingleParticle, nb int) (complex128, error) {
	x, err := a.At(na)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	y, err := b.At(nb)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	return x * y, nil
}
