package threepoint

import (
	"math"
	"math/cmplx"

	"github.com/pomerol-ed/pomerol-sub001/lehmann"
)

func xiFlag(xi int) uint8 {
	if xi > 0 {
		return 1
	}
	return 0
}

func xiOf(f float64) int {
	if f > 0 {
		return 1
	}
	return -1
}

// FF is the non-resonant term C / ((z1 - P1)(z2 - P2)).
type FF struct {
	Coeff  complex128
	P1, P2 float64
	// Weight counts the terms merged into this one, zero meaning one.
	Weight int
}

func (t FF) Value(z1, z2 complex128) complex128 {
	return t.Coeff / ((z1 - complex(t.P1, 0)) * (z2 - complex(t.P2, 0)))
}

func (t FF) Key(width float64) lehmann.Key { return lehmann.NewKey(width, 0, t.P1, t.P2) }

func (t FF) Similar(o FF, tol float64) bool {
	return math.Abs(t.P1-o.P1) < tol && math.Abs(t.P2-o.P2) < tol
}

func (t FF) Merge(o FF) FF {
	t.P1 = lehmann.MeanPole(t.P1, t.Weight, o.P1, o.Weight)
	t.P2 = lehmann.MeanPole(t.P2, t.Weight, o.P2, o.Weight)
	t.Weight = lehmann.MergedWeight(t.Weight, o.Weight)
	t.Coeff += o.Coeff
	return t
}

func (t FF) Negligible(tol float64) bool { return lehmann.AbsLess(t.Coeff, tol) }

func (t FF) AppendFloats(f []float64) []float64 {
	return append(lehmann.AppendComplex(f, t.Coeff), t.P1, t.P2, float64(t.Weight))
}

func (FF) Decode(f []float64) (FF, int, error) {
	if err := lehmann.Need(f, 5); err != nil {
		return FF{}, 0, err
	}
	return FF{Coeff: complex(f[0], f[1]), P1: f[2], P2: f[3], Weight: int(f[4])}, 5, nil
}

// FB is the non-resonant term C / ((z1 - P1)(z1 - Xi z2 - P12)), with Xi = -1 in the particle-particle channel.
type FB struct {
	Coeff   complex128
	P1, P12 float64
	Xi      int
	Weight  int
}

func (t FB) Value(z1, z2 complex128) complex128 {
	return t.Coeff / ((z1 - complex(t.P1, 0)) * (z1 - complex(float64(t.Xi), 0)*z2 - complex(t.P12, 0)))
}

func (t FB) Key(width float64) lehmann.Key { return lehmann.NewKey(width, xiFlag(t.Xi), t.P1, t.P12) }

func (t FB) Similar(o FB, tol float64) bool {
	return t.Xi == o.Xi && math.Abs(t.P1-o.P1) < tol && math.Abs(t.P12-o.P12) < tol
}

func (t FB) Merge(o FB) FB {
	t.P1 = lehmann.MeanPole(t.P1, t.Weight, o.P1, o.Weight)
	t.P12 = lehmann.MeanPole(t.P12, t.Weight, o.P12, o.Weight)
	t.Weight = lehmann.MergedWeight(t.Weight, o.Weight)
	t.Coeff += o.Coeff
	return t
}

func (t FB) Negligible(tol float64) bool { return lehmann.AbsLess(t.Coeff, tol) }

func (t FB) AppendFloats(f []float64) []float64 {
	return append(lehmann.AppendComplex(f, t.Coeff), t.P1, t.P12, float64(t.Xi), float64(t.Weight))
}

func (FB) Decode(f []float64) (FB, int, error) {
	if err := lehmann.Need(f, 6); err != nil {
		return FB{}, 0, err
	}
	return FB{Coeff: complex(f[0], f[1]), P1: f[2], P12: f[3], Xi: xiOf(f[4]), Weight: int(f[5])}, 6, nil
}

// Resonant is the term C / (z1 - P), present only where z1 = Xi z2.
type Resonant struct {
	Coeff  complex128
	P      float64
	Xi     int
	Weight int
}

// Value returns the term, with z1 = Xi z2 tested within tol.
func (t Resonant) Value(z1, z2 complex128, tol float64) complex128 {
	if cmplx.Abs(z1-complex(float64(t.Xi), 0)*z2) >= tol {
		return 0
	}
	return t.Coeff / (z1 - complex(t.P, 0))
}

func (t Resonant) Key(width float64) lehmann.Key { return lehmann.NewKey(width, xiFlag(t.Xi), t.P) }

func (t Resonant) Similar(o Resonant, tol float64) bool {
	return t.Xi == o.Xi && math.Abs(t.P-o.P) < tol
}

func (t Resonant) Merge(o Resonant) Resonant {
	t.P = lehmann.MeanPole(t.P, t.Weight, o.P, o.Weight)
	t.Weight = lehmann.MergedWeight(t.Weight, o.Weight)
	t.Coeff += o.Coeff
	return t
}

func (t Resonant) Negligible(tol float64) bool { return lehmann.AbsLess(t.Coeff, tol) }

func (t Resonant) AppendFloats(f []float64) []float64 {
	return append(lehmann.AppendComplex(f, t.Coeff), t.P, float64(t.Xi), float64(t.Weight))
}

func (Resonant) Decode(f []float64) (Resonant, int, error) {
	if err := lehmann.Need(f, 5); err != nil {
		return Resonant{}, 0, err
	}
	return Resonant{Coeff: complex(f[0], f[1]), P: f[2], Xi: xiOf(f[3]), Weight: int(f[4])}, 5, nil
}
