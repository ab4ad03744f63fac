// Package lehmann stores correlators as lists of rational terms in one or several complex frequencies.
package lehmann

import (
	"cmp"
	"context"
	"math"
	"math/cmplx"
	"slices"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/mpi"
)

// Key is the bucket of a term: its poles rounded to multiples of the grouping width plus its flags.
type Key struct {
	Bucket [3]int64
	N      int
	Flags  uint8
}

func compareKey(a, b Key) int {
	for i := range a.Bucket {
		if c := cmp.Compare(a.Bucket[i], b.Bucket[i]); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(a.N, b.N); c != 0 {
		return c
	}
	return cmp.Compare(a.Flags, b.Flags)
}

// NewKey buckets poles with width.
func NewKey(width float64, flags uint8, poles ...float64) Key {
	k := Key{N: len(poles), Flags: flags}
	for i, p := range poles {
		k.Bucket[i] = int64(math.Round(p / width))
	}
	return k
}

// Term is a single rational contribution to a correlator.
// Implementations are value types; Decode is called on the zero value.
type Term[T any] interface {
	Key(width float64) Key
	// Similar reports whether the poles of two terms coincide within tol and their flags agree.
	Similar(other T, tol float64) bool
	Merge(other T) T
	// Negligible reports whether every coefficient is smaller than tol in magnitude.
	Negligible(tol float64) bool
	AppendFloats(f []float64) []float64
	Decode(f []float64) (T, int, error)
}

// List is a multiset of terms in which similar terms are merged by summing their coefficients.
type List[T Term[T]] struct {
	// Width is both the bucket width and the tolerance within which poles are considered equal.
	Width float64
	// Tolerance is the coefficient magnitude below which merged terms are discarded. The threshold is divided
	// by the number of terms in the list.
	Tolerance float64

	buckets map[Key][]T
	n       int
}

func NewList[T Term[T]](width, tol float64) *List[T] {
	return &List[T]{Width: width, Tolerance: tol, buckets: make(map[Key][]T)}
}

func (l *List[T]) Len() int { return l.n }

func (l *List[T]) Clear() {
	clear(l.buckets)
	l.n = 0
}

func (l *List[T]) negligible(t T, divisor int) bool {
	return t.Negligible(l.Tolerance / float64(divisor))
}

// Add inserts t, or merges it into a similar term already present.
func (l *List[T]) Add(t T) {
	k := t.Key(l.Width)
	bk, j, ok := l.find(k, t)
	if !ok {
		l.buckets[k] = append(l.buckets[k], t)
		l.n++
		return
	}
	ts := l.buckets[bk]
	sum := ts[j].Merge(t)
	ts[j] = ts[len(ts)-1]
	ts = ts[:len(ts)-1]
	if len(ts) == 0 {
		delete(l.buckets, bk)
	} else {
		l.buckets[bk] = ts
	}
	l.n--
	if !l.negligible(sum, l.n+1) {
		l.buckets[bk] = append(l.buckets[bk], sum)
		l.n++
	}
}

// find searches the bucket of k and its neighbours for a term similar to t.
func (l *List[T]) find(k Key, t T) (Key, int, bool) {
	var offsets [3]int64
	var search func(d int) (Key, int, bool)
	search = func(d int) (Key, int, bool) {
		if d == k.N {
			bk := k
			for i := range k.N {
				bk.Bucket[i] += offsets[i]
			}
			for j, s := range l.buckets[bk] {
				if s.Similar(t, l.Width) {
					return bk, j, true
				}
			}
			return Key{}, 0, false
		}
		for _, o := range [...]int64{0, -1, 1} {
			offsets[d] = o
			if bk, j, ok := search(d + 1); ok {
				return bk, j, true
			}
		}
		return Key{}, 0, false
	}
	return search(0)
}

// Sum adds up f over all terms.
func (l *List[T]) Sum(f func(T) complex128) complex128 {
	var s complex128
	for _, ts := range l.buckets {
		for _, t := range ts {
			s += f(t)
		}
	}
	return s
}

// Terms returns the terms ordered by bucket.
func (l *List[T]) Terms() []T {
	keys := make([]Key, 0, len(l.buckets))
	for k := range l.buckets {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKey)
	terms := make([]T, 0, l.n)
	for _, k := range keys {
		terms = append(terms, l.buckets[k]...)
	}
	return terms
}

// CheckTerms reports whether no term in the list is negligible.
func (l *List[T]) CheckTerms() bool {
	for _, ts := range l.buckets {
		for _, t := range ts {
			if l.negligible(t, l.n+1) {
				return false
			}
		}
	}
	return true
}

func (l *List[T]) floats() []float64 {
	f := []float64{l.Width, l.Tolerance, float64(l.n)}
	for _, t := range l.Terms() {
		f = t.AppendFloats(f)
	}
	return f
}

func (l *List[T]) setFloats(f []float64) error {
	if len(f) < 3 {
		return errors.Errorf("%d floats", len(f))
	}
	l.Width, l.Tolerance = f[0], f[1]
	n := int(f[2])
	l.buckets = make(map[Key][]T)
	l.n = 0
	f = f[3:]
	var zero T
	for range n {
		t, used, err := zero.Decode(f)
		if err != nil {
			return errors.Wrap(err, "")
		}
		f = f[used:]
		k := t.Key(l.Width)
		l.buckets[k] = append(l.buckets[k], t)
		l.n++
	}
	if len(f) != 0 {
		return errors.Errorf("%d trailing floats", len(f))
	}
	return nil
}

// Broadcast replaces the list on every rank with the list held by root.
func Broadcast[T Term[T]](ctx context.Context, comm *mpi.Comm, root int, l *List[T]) error {
	var f []float64
	if comm.Rank() == root {
		f = l.floats()
	}
	f, err := comm.BcastFloat64s(ctx, root, f)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if comm.Rank() == root {
		return nil
	}
	if err := l.setFloats(f); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// FermionicFrequency returns i pi (2n+1) / beta.
func FermionicFrequency(n int, beta float64) complex128 {
	return complex(0, math.Pi*float64(2*n+1)/beta)
}

// BosonicFrequency returns i 2 pi n / beta.
func BosonicFrequency(n int, beta float64) complex128 {
	return complex(0, math.Pi*float64(2*n)/beta)
}

// MeanPole returns the average of the poles x and y of two merged terms, weighted by the number of terms
// wx and wy each of them already absorbed. A zero count stands for a single term.
func MeanPole(x float64, wx int, y float64, wy int) float64 {
	a, b := float64(max(wx, 1)), float64(max(wy, 1))
	return (a*x + b*y) / (a + b)
}

// MergedWeight returns the number of terms absorbed by merging terms of weights wx and wy.
func MergedWeight(wx, wy int) int { return max(wx, 1) + max(wy, 1) }

// AbsLess reports whether |c| < tol.
func AbsLess(c complex128, tol float64) bool { return cmplx.Abs(c) < tol }

// AppendComplex appends the real and imaginary parts of c.
func AppendComplex(f []float64, c ...complex128) []float64 {
	for _, v := range c {
		f = append(f, real(v), imag(v))
	}
	return f
}

// Need returns an error unless f holds at least n floats.
func Need(f []float64, n int) error {
	if len(f) < n {
		return errors.Errorf("%d floats, expected at least %d", len(f), n)
	}
	return nil
}

// Pole is the term R / (z - P).
type Pole struct {
	Residue complex128
	Pole    float64
}

func (t Pole) Value(z complex128) complex128 { return t.Residue / (z - complex(t.Pole, 0)) }

func (t Pole) Key(width float64) Key { return NewKey(width, 0, t.Pole) }

func (t Pole) Similar(o Pole, tol float64) bool { return math.Abs(t.Pole-o.Pole) < tol }

func (t Pole) Merge(o Pole) Pole { return Pole{Residue: t.Residue + o.Residue, Pole: t.Pole} }

func (t Pole) Negligible(tol float64) bool { return AbsLess(t.Residue, tol) }

func (t Pole) AppendFloats(f []float64) []float64 {
	return append(AppendComplex(f, t.Residue), t.Pole)
}

func (Pole) Decode(f []float64) (Pole, int, error) {
	if err := Need(f, 3); err != nil {
		return Pole{}, 0, err
	}
	return Pole{Residue: complex(f[0], f[1]), Pole: f[2]}, 3, nil
}
