package vertex

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"os"
	"testing"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/density"
	"github.com/pomerol-ed/pomerol-sub001/gf"
	"github.com/pomerol-ed/pomerol-sub001/hamiltonian"
	"github.com/pomerol-ed/pomerol-sub001/hilbert"
	"github.com/pomerol-ed/pomerol-sub001/index"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
	"github.com/pomerol-ed/pomerol-sub001/operator"
	"github.com/pomerol-ed/pomerol-sub001/presets"
	"github.com/pomerol-ed/pomerol-sub001/twopgf"
)

type constant complex128

func (c constant) At(int) (complex128, error) { return complex128(c), nil }

type failing struct{}

func (failing) At(n1, n2, n3 int) (complex128, error) {
	return 0, errors.Errorf("(%d, %d, %d) not computed", n1, n2, n3)
}

// hubbardAtom returns the up spin Green's function and the all up two-particle Green's function.
func hubbardAtom(ctx context.Context, comm *mpi.Comm, u, beta float64) (*gf.GreensFunction, *twopgf.TwoParticleGF, error) {
	reg, h, err := presets.Build(presets.CoulombS("A", u, -u/2, 1))
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	up := reg.MustFlat(index.Index{Site: "A", Spin: index.Up})

	space, err := hilbert.New(h, reg.Len())
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	cls, err := space.Partition()
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	ham := hamiltonian.New(h, space.Layout, cls)
	if err := ham.Prepare(ctx, comm); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	if err := ham.Compute(ctx, comm); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	dm := density.New(ham, beta)
	if err := dm.Prepare(); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	if err := dm.Compute(); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	ops := operator.NewContainer(ham, []int{up}, nil)
	if err := ops.ComputeAll(ctx, comm); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	c, err := ops.Annihilation(up)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	cx, err := ops.Creation(up)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}

	g := gf.New(c, cx, dm)
	if err := g.Prepare(); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	if err := g.Compute(ctx, comm); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	chi, err := twopgf.New(c, c, cx, cx, dm)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	chi.CoefficientTolerance = 1e-12
	if err := chi.Prepare(); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	if err := chi.Compute(ctx, comm); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	return g, chi, nil
}

func TestHubbardAtom(t *testing.T) {
	t.Parallel()
	u, beta := 1.0, 40.0
	delta := func(a, b int) float64 {
		if a == b {
			return 1
		}
		return 0
	}
	// The exact all up vertex of the half filled atom.
	want := func(n1, n2, n3 int) complex128 {
		w1 := math.Pi * float64(2*n1+1) / beta
		w2 := math.Pi * float64(2*n2+1) / beta
		x1, x2 := u/2/w1, u/2/w2
		return complex(-beta*(delta(n1, n3)-delta(n2, n3))*(u/2)*(u/2)*(1+x1*x1)*(1+x2*x2), 0)
	}

	for _, ranks := range []int{1, 3} {
		t.Run(fmt.Sprintf("%d", ranks), func(t *testing.T) {
			t.Parallel()
			err := mpi.Run(context.Background(), ranks, func(ctx context.Context, comm *mpi.Comm) error {
				g, chi, err := hubbardAtom(ctx, comm, u, beta)
				if err != nil {
					return err
				}
				v := New(beta, chi, g, g, g, g)
				for n1 := -3; n1 < 4; n1++ {
					for n2 := -3; n2 < 4; n2++ {
						for n3 := -3; n3 < 4; n3++ {
							got, err := v.Amputated(g, g, g, g, n1, n2, n3)
							if err != nil {
								return err
							}
							w := want(n1, n2, n3)
							if cmplx.Abs(got-w) > 1e-10*math.Max(1, cmplx.Abs(w)) {
								return errors.Errorf("(%d, %d, %d): %v, expected %v", n1, n2, n3, got, w)
							}
						}
					}
				}

				// chi(2, 5, 2) = Gamma G(2)^2 G(5)^2 - beta G(2) G(5).
				g2, _ := g.At(2)
				g5, _ := g.At(5)
				c, err := chi.At(2, 5, 2)
				if err != nil {
					return err
				}
				w := want(2, 5, 2)*g2*g2*g5*g5 - complex(beta, 0)*g2*g5
				if cmplx.Abs(c-w) > 1e-10*math.Max(1, cmplx.Abs(w)) {
					return errors.Errorf("%v, expected %v", c, w)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("%+v", err)
			}
		})
	}
}

func TestValue(t *testing.T) {
	t.Parallel()
	g13, g24, g14, g23 := constant(2), constant(3i), constant(-1), constant(0.5)
	chi := constant(1)
	beta := 10.0
	tests := []struct {
		n    [3]int
		want complex128
	}{
		{n: [3]int{0, 1, 2}, want: 1},
		{n: [3]int{2, 1, 2}, want: 1 + 10*2*3i},
		{n: [3]int{0, 2, 2}, want: 1 - 10*(-1)*0.5},
		{n: [3]int{2, 2, 2}, want: 1 + 10*2*3i - 10*(-1)*0.5},
	}
	v := New(beta, threeIndex{chi}, g13, g24, g14, g23)
	for _, test := range tests {
		got, err := v.Value(test.n[0], test.n[1], test.n[2])
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if got != test.want {
			t.Fatalf("%v: %v, expected %v", test.n, got, test.want)
		}
	}

	if _, err := New(beta, failing{}, g13, g24, g14, g23).Value(0, 0, 0); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := v.Amputated(g13, constant(0), g13, g13, 0, 1, 2); err == nil {
		t.Fatalf("expected error for a vanishing leg")
	}
}

type threeIndex struct{ c constant }

func (t threeIndex) At(int, int, int) (complex128, error) { return complex128(t.c), nil }

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	os.Exit(m.Run())
}
