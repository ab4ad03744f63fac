package presets

import (
	"fmt"
	"testing"

	"github.com/pomerol-ed/pomerol-sub001/expr"
	"github.com/pomerol-ed/pomerol-sub001/index"
)

func TestBuild(t *testing.T) {
	t.Parallel()
	u, mu, h, hop := 1.0, 0.4, 0.1, -0.5
	// Flat indices: (A,0,dn)=0, (A,0,up)=1, (B,0,dn)=2, (B,0,up)=3.
	nA := expr.N(0).Add(expr.N(1))
	nB := expr.N(2).Add(expr.N(3))
	tests := []struct {
		name  string
		terms []Term
		want  expr.Expression
		len   int
	}{
		{
			name:  "CoulombS",
			terms: []Term{CoulombS("A", u, -u/2, 1)},
			want:  expr.N(1).Mul(expr.N(0)).Scale(complex(u, 0)).Sub(nA.Scale(complex(u/2, 0))),
			len:   2,
		},
		{
			name:  "HubbardAtom",
			terms: []Term{HubbardAtom(u, mu, h)},
			want: expr.N(1).Mul(expr.N(0)).Scale(complex(u, 0)).
				Sub(nA.Scale(complex(mu, 0))).
				Sub(expr.N(1).Sub(expr.N(0)).Scale(complex(h, 0))),
			len: 2,
		},
		{
			name:  "Hopping",
			terms: []Term{Hopping("A", "B", complex(hop, 0), 1), Level("B", 0.3, 1)},
			want: expr.CDag(1).Mul(expr.C(3)).Add(expr.CDag(3).Mul(expr.C(1))).
				Add(expr.CDag(0).Mul(expr.C(2))).Add(expr.CDag(2).Mul(expr.C(0))).Scale(complex(hop, 0)).
				Add(nB.Scale(0.3)),
			len: 4,
		},
		{
			name:  "PairHopping",
			terms: []Term{PairHopping("A", 2, 0, 1, index.Up, index.Down)},
			// (A,0,dn)=0, (A,0,up)=1, (A,1,dn)=2, (A,1,up)=3.
			want: expr.CDag(1).Mul(expr.CDag(0)).Mul(expr.C(3)).Mul(expr.C(2)).Scale(2),
			len:  4,
		},
		{
			name:  "Spinflip",
			terms: []Term{Spinflip("A", 2, 0, 1, index.Up, index.Down)},
			want:  expr.CDag(1).Mul(expr.CDag(2)).Mul(expr.C(3)).Mul(expr.C(0)).Scale(2),
			len:   4,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			reg, got, err := Build(test.terms...)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if reg.Len() != test.len {
				t.Fatalf("%d indices, expected %d\n%s", reg.Len(), test.len, reg)
			}
			if !got.Equal(test.want) {
				t.Fatalf("%s, expected %s", got, test.want)
			}
		})
	}
}

func TestHermitian(t *testing.T) {
	t.Parallel()
	p, err := CoulombP("A", 2, 1.2, 0.4, -1, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	a, err := Anderson(0.5, 0.25, []float64{1, -1}, []float64{0.3, 0.3})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	tests := []Term{
		HubbardDimer(1, 0.5, 0.25),
		Hopping("A", "B", complex(0.1, 0.2), 2),
		p,
		a,
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			_, h := MustBuild(test)
			if !h.Conj().Equal(h) {
				t.Fatalf("%s is not hermitian", h)
			}
		})
	}
}

func TestInvalid(t *testing.T) {
	t.Parallel()
	if _, err := CoulombP("A", 1, 1, 0.1, 0, 1); err == nil {
		t.Fatalf("expected error for a single orbital")
	}
	if _, err := Anderson(1, 0.5, []float64{1}, nil); err == nil {
		t.Fatalf("expected error for mismatched bath")
	}
	if _, _, err := Build(Level("A", 1, 0)); err == nil {
		t.Fatalf("expected error for an empty model")
	}
}
