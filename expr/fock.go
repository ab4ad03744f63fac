package expr

import (
	"math"
	"slices"

	"github.com/pkg/errors"
)

// FockState is an occupation-number basis state packed into bits.
type FockState uint64

// Layout fixes how every flat index is packed into a FockState.
// Fermionic indices take one bit, bosonic indices take Bits[i] bits.
type Layout struct {
	Offsets []uint
	Bits    []uint
	Boson   []bool
}

func NewLayout(boson []bool, bits []uint) (Layout, error) {
	if len(boson) != len(bits) {
		return Layout{}, errors.Errorf("%d %d", len(boson), len(bits))
	}
	l := Layout{Offsets: make([]uint, len(bits)), Bits: slices.Clone(bits), Boson: slices.Clone(boson)}
	var off uint
	for i, b := range bits {
		if !boson[i] && b != 1 {
			return Layout{}, errors.Errorf("fermion %d with %d bits", i, b)
		}
		if b == 0 {
			return Layout{}, errors.Errorf("index %d with no bits", i)
		}
		l.Offsets[i] = off
		off += b
	}
	return l, nil
}

func (l Layout) TotalBits() uint {
	var n uint
	for _, b := range l.Bits {
		n += b
	}
	return n
}

func (l Layout) Dim() int {
	return 1 << l.TotalBits()
}

func (l Layout) Occupation(s FockState, i int) int {
	mask := FockState(1)<<l.Bits[i] - 1
	return int((s >> l.Offsets[i]) & mask)
}

func (l Layout) setOccupation(s FockState, i, n int) FockState {
	mask := (FockState(1)<<l.Bits[i] - 1) << l.Offsets[i]
	return (s &^ mask) | (FockState(n) << l.Offsets[i] & mask)
}

// fermionSign is the Jordan-Wigner sign of the occupied fermionic modes below index i.
func (l Layout) fermionSign(s FockState, i int) float64 {
	sign := 1.0
	for j := 0; j < i; j++ {
		if !l.Boson[j] && l.Occupation(s, j) == 1 {
			sign = -sign
		}
	}
	return sign
}

// apply acts with a single generator, returning false if the result vanishes.
func (l Layout) apply(g Generator, s FockState) (FockState, float64, bool) {
	n := l.Occupation(s, g.Index)
	if g.Boson {
		if g.Dagger {
			if n+1 > 1<<l.Bits[g.Index]-1 {
				return 0, 0, false
			}
			return l.setOccupation(s, g.Index, n+1), math.Sqrt(float64(n + 1)), true
		}
		if n == 0 {
			return 0, 0, false
		}
		return l.setOccupation(s, g.Index, n-1), math.Sqrt(float64(n)), true
	}

	if g.Dagger == (n == 1) {
		return 0, 0, false
	}
	sign := l.fermionSign(s, g.Index)
	if g.Dagger {
		return l.setOccupation(s, g.Index, 1), sign, true
	}
	return l.setOccupation(s, g.Index, 0), sign, true
}

// ActMonomial applies the generators of m right to left.
func (l Layout) ActMonomial(m Monomial, s FockState) (FockState, float64, bool) {
	amp := 1.0
	for i := len(m) - 1; i >= 0; i-- {
		var a float64
		var ok bool
		s, a, ok = l.apply(m[i], s)
		if !ok {
			return 0, 0, false
		}
		amp *= a
	}
	return s, amp, true
}

type Amplitude struct {
	State FockState
	Coeff complex128
}

// ActOn returns e|s> as a list of basis states with nonzero amplitude, sorted by state.
func (l Layout) ActOn(e Expression, s FockState) []Amplitude {
	acc := make(map[FockState]complex128)
	for _, t := range e.terms {
		to, amp, ok := l.ActMonomial(t.Monomial, s)
		if !ok {
			continue
		}
		acc[to] += t.Coeff * complex(amp, 0)
	}
	res := make([]Amplitude, 0, len(acc))
	for to, c := range acc {
		if c == 0 {
			continue
		}
		res = append(res, Amplitude{State: to, Coeff: c})
	}
	slices.SortFunc(res, func(a, b Amplitude) int {
		switch {
		case a.State < b.State:
			return -1
		case a.State > b.State:
			return 1
		}
		return 0
	})
	return res
}

// MatrixElement returns <bra|e|ket>.
func (l Layout) MatrixElement(e Expression, bra, ket FockState) complex128 {
	var v complex128
	for _, t := range e.terms {
		to, amp, ok := l.ActMonomial(t.Monomial, ket)
		if ok && to == bra {
			v += t.Coeff * complex(amp, 0)
		}
	}
	return v
}
