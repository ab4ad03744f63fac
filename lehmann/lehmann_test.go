package lehmann

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/pomerol-ed/pomerol-sub001/mpi"
)

func TestAdd(t *testing.T) {
	t.Parallel()
	tests := []struct {
		terms []Pole
		want  []Pole
	}{
		{
			terms: []Pole{{Residue: 1, Pole: 0.5}, {Residue: 2, Pole: 0.5 + 1e-10}, {Residue: 3, Pole: 1}},
			want:  []Pole{{Residue: 3, Pole: 0.5}, {Residue: 3, Pole: 1}},
		},
		// Poles straddling a bucket boundary are still merged.
		{
			terms: []Pole{{Residue: 1i, Pole: 0.5e-8 - 1e-12}, {Residue: 1i, Pole: 0.5e-8 + 1e-12}},
			want:  []Pole{{Residue: 2i, Pole: 0.5e-8 - 1e-12}},
		},
		// Cancelling residues remove the term.
		{
			terms: []Pole{{Residue: 1, Pole: -2}, {Residue: -1, Pole: -2}, {Residue: 1, Pole: 3}},
			want:  []Pole{{Residue: 1, Pole: 3}},
		},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			l := NewList[Pole](1e-8, 1e-8)
			for _, term := range test.terms {
				l.Add(term)
			}
			got := l.Terms()
			if len(got) != len(test.want) {
				t.Fatalf("%v, expected %v", got, test.want)
			}
			for k := range got {
				if got[k].Residue != test.want[k].Residue || math.Abs(got[k].Pole-test.want[k].Pole) > 1e-8 {
					t.Fatalf("%v, expected %v", got, test.want)
				}
			}
			if !l.CheckTerms() {
				t.Fatalf("negligible terms in %v", got)
			}
		})
	}
}

func TestMeanPole(t *testing.T) {
	t.Parallel()
	tests := []struct {
		x, y   float64
		wx, wy int
		want   float64
	}{
		{x: 1, y: 2, want: 1.5},
		{x: 1, y: 2, wx: 1, wy: 1, want: 1.5},
		{x: 1, y: 4, wx: 2, want: 2},
		{x: 1, y: 4, wx: 3, wy: 3, want: 2.5},
	}
	for _, test := range tests {
		if got := MeanPole(test.x, test.wx, test.y, test.wy); math.Abs(got-test.want) > 1e-15 {
			t.Fatalf("%#v: %f, expected %f", test, got, test.want)
		}
	}
	if w := MergedWeight(0, 3); w != 4 {
		t.Fatalf("%d, expected 4", w)
	}
}

func TestBroadcast(t *testing.T) {
	t.Parallel()
	err := mpi.Run(context.Background(), 3, func(ctx context.Context, comm *mpi.Comm) error {
		l := NewList[Pole](1e-8, 1e-8)
		if comm.Rank() == 1 {
			for k := range 10 {
				l.Add(Pole{Residue: complex(float64(k), 1), Pole: float64(k) / 3})
			}
		}
		if err := Broadcast(ctx, comm, 1, l); err != nil {
			return err
		}
		if l.Len() != 10 {
			return errors.Errorf("%d, expected 10", l.Len())
		}
		z := FermionicFrequency(2, 10)
		got := l.Sum(func(p Pole) complex128 { return p.Value(z) })
		var want complex128
		for k := range 10 {
			want += complex(float64(k), 1) / (z - complex(float64(k)/3, 0))
		}
		if !scalar.EqualWithinAbs(real(got), real(want), 1e-14) || !scalar.EqualWithinAbs(imag(got), imag(want), 1e-14) {
			return errors.Errorf("%v, expected %v", got, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestFrequency(t *testing.T) {
	t.Parallel()
	if got := FermionicFrequency(-1, math.Pi); got != complex(0, -1) {
		t.Fatalf("%v, expected %v", got, complex(0, -1))
	}
	if got := BosonicFrequency(3, 2*math.Pi); got != complex(0, 3) {
		t.Fatalf("%v, expected %v", got, complex(0, 3))
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	os.Exit(m.Run())
}
