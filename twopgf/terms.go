package twopgf

import (
	"math"

	"github.com/pomerol-ed/pomerol-sub001/lehmann"
)

func boolFlag(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func meanPoles(a [3]float64, wa int, b [3]float64, wb int) [3]float64 {
	for i := range a {
		a[i] = lehmann.MeanPole(a[i], wa, b[i], wb)
	}
	return a
}

func samePoles(a, b [3]float64, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) >= tol {
			return false
		}
	}
	return true
}

// NonResonant is the term
//
//	C / ((z1 - P1)(z2 - P2)(z3 - P3))
//
// or, if Z4 is set,
//
//	C / ((z1 - P1)(z1 + z2 + z3 - P1 - P2 - P3)(z3 - P3)).
type NonResonant struct {
	Coeff complex128
	Poles [3]float64
	Z4    bool
	// Weight counts the terms merged into this one, zero meaning one.
	Weight int
}

func (t NonResonant) Value(z1, z2, z3 complex128) complex128 {
	p1, p2, p3 := complex(t.Poles[0], 0), complex(t.Poles[1], 0), complex(t.Poles[2], 0)
	if t.Z4 {
		return t.Coeff / ((z1 - p1) * (z1 + z2 + z3 - p1 - p2 - p3) * (z3 - p3))
	}
	return t.Coeff / ((z1 - p1) * (z2 - p2) * (z3 - p3))
}

func (t NonResonant) Key(width float64) lehmann.Key {
	return lehmann.NewKey(width, boolFlag(t.Z4), t.Poles[:]...)
}

func (t NonResonant) Similar(o NonResonant, tol float64) bool {
	return t.Z4 == o.Z4 && samePoles(t.Poles, o.Poles, tol)
}

func (t NonResonant) Merge(o NonResonant) NonResonant {
	t.Poles = meanPoles(t.Poles, t.Weight, o.Poles, o.Weight)
	t.Weight = lehmann.MergedWeight(t.Weight, o.Weight)
	t.Coeff += o.Coeff
	return t
}

func (t NonResonant) Negligible(tol float64) bool { return lehmann.AbsLess(t.Coeff, tol) }

func (t NonResonant) AppendFloats(f []float64) []float64 {
	f = append(lehmann.AppendComplex(f, t.Coeff), t.Poles[:]...)
	return append(f, float64(boolFlag(t.Z4)), float64(t.Weight))
}

func (NonResonant) Decode(f []float64) (NonResonant, int, error) {
	if err := lehmann.Need(f, 7); err != nil {
		return NonResonant{}, 0, err
	}
	return NonResonant{Coeff: complex(f[0], f[1]), Poles: [3]float64{f[2], f[3], f[4]}, Z4: f[5] != 0, Weight: int(f[6])}, 7, nil
}

// Resonant is the term
//
//	(R delta(D) + N (1 - delta(D)) / D) / ((z1 - P1)(z3 - P3))
//
// with D = z1 + z2 - P1 - P2 if Z1Z2 is set and D = z2 + z3 - P2 - P3 otherwise.
type Resonant struct {
	ResCoeff    complex128
	NonResCoeff complex128
	Poles       [3]float64
	Z1Z2        bool
	Weight      int
}

// Value returns the term, with delta(D) = 1 for |D| < tol.
func (t Resonant) Value(z1, z2, z3 complex128, tol float64) complex128 {
	p1, p2, p3 := complex(t.Poles[0], 0), complex(t.Poles[1], 0), complex(t.Poles[2], 0)
	d := z2 + z3 - p2 - p3
	if t.Z1Z2 {
		d = z1 + z2 - p1 - p2
	}
	num := t.ResCoeff
	if !lehmann.AbsLess(d, tol) {
		num = t.NonResCoeff / d
	}
	return num / ((z1 - p1) * (z3 - p3))
}

func (t Resonant) Key(width float64) lehmann.Key {
	return lehmann.NewKey(width, boolFlag(t.Z1Z2), t.Poles[:]...)
}

func (t Resonant) Similar(o Resonant, tol float64) bool {
	return t.Z1Z2 == o.Z1Z2 && samePoles(t.Poles, o.Poles, tol)
}

func (t Resonant) Merge(o Resonant) Resonant {
	t.Poles = meanPoles(t.Poles, t.Weight, o.Poles, o.Weight)
	t.Weight = lehmann.MergedWeight(t.Weight, o.Weight)
	t.ResCoeff += o.ResCoeff
	t.NonResCoeff += o.NonResCoeff
	return t
}

func (t Resonant) Negligible(tol float64) bool {
	return lehmann.AbsLess(t.ResCoeff, tol) && lehmann.AbsLess(t.NonResCoeff, tol)
}

func (t Resonant) AppendFloats(f []float64) []float64 {
	f = append(lehmann.AppendComplex(f, t.ResCoeff, t.NonResCoeff), t.Poles[:]...)
	return append(f, float64(boolFlag(t.Z1Z2)), float64(t.Weight))
}

func (Resonant) Decode(f []float64) (Resonant, int, error) {
	if err := lehmann.Need(f, 9); err != nil {
		return Resonant{}, 0, err
	}
	return Resonant{
		ResCoeff:    complex(f[0], f[1]),
		NonResCoeff: complex(f[2], f[3]),
		Poles:       [3]float64{f[4], f[5], f[6]},
		Z1Z2:        f[7] != 0,
		Weight:      int(f[8]),
	}, 9, nil
}
