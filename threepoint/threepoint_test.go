package threepoint

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
	"github.com/pomerol-ed/pomerol-sub001/expr"
	"github.com/pomerol-ed/pomerol-sub001/hamiltonian"
	"github.com/pomerol-ed/pomerol-sub001/hilbert"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
	"github.com/pomerol-ed/pomerol-sub001/operator"
)

const (
	up = 0
	dn = 1
)

type model struct {
	ops *operator.Container
	dm  *density.DensityMatrix
}

func solve(ctx context.Context, comm *mpi.Comm, h expr.Expression, numIndices int, beta float64) (*model, error) {
	space, err := hilbert.New(h, numIndices)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cls, err := space.Partition()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	ham := hamiltonian.New(h, space.Layout, cls)
	if err := ham.Prepare(ctx, comm); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := ham.Compute(ctx, comm); err != nil {
		return nil, errors.Wrap(err, "")
	}
	m := &model{dm: density.New(ham, beta)}
	if err := m.dm.Prepare(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := m.dm.Compute(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	indices := make([]int, numIndices)
	for i := range indices {
		indices[i] = i
	}
	m.ops = operator.NewContainer(ham, indices, nil)
	if err := m.ops.ComputeAll(ctx, comm); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return m, nil
}

func (m *model) susceptibility(ctx context.Context, comm *mpi.Comm, channel Channel, i1, i2, i3, i4 int) (*Susceptibility, error) {
	cx1, err := m.ops.Creation(i1)
	if err != nil {
		return nil, err
	}
	c2, err := m.ops.Annihilation(i2)
	if err != nil {
		return nil, err
	}
	cx3, err := m.ops.Creation(i3)
	if err != nil {
		return nil, err
	}
	c4, err := m.ops.Annihilation(i4)
	if err != nil {
		return nil, err
	}
	s, err := New(channel, cx1, c2, cx3, c4, m.dm)
	if err != nil {
		return nil, err
	}
	if err := s.Prepare(); err != nil {
		return nil, err
	}
	if err := s.Compute(ctx, comm); err != nil {
		return nil, err
	}
	return s, nil
}

func atom(u, mu, field float64) expr.Expression {
	h := expr.N(up).Mul(expr.N(dn)).Scale(complex(u, 0))
	h = h.Sub(expr.N(up).Add(expr.N(dn)).Scale(complex(mu, 0)))
	return h.Sub(expr.N(up).Sub(expr.N(dn)).Scale(complex(field, 0)))
}

// atomic is the closed form of a single three-point term of the atom.
// States are ordered as empty, up, down, double.
type atomic struct {
	beta float64
	e    [4]float64
	rho  [4]float64
}

func newAtomic(beta, u, mu, field float64) atomic {
	a := atomic{beta: beta, e: [4]float64{0, -mu - field, -mu + field, u - 2*mu}}
	z := 0.0
	for i, e := range a.e {
		a.rho[i] = math.Exp(-beta * e)
		z += a.rho[i]
	}
	for i := range a.rho {
		a.rho[i] /= z
	}
	return a
}

func (a atomic) g(i, j, k int, w1, w2 float64) complex128 {
	iw1, iw2 := complex(0, w1), complex(0, w2)
	e := func(x int) complex128 { return complex(a.e[x], 0) }
	rho := func(x int) complex128 { return complex(a.rho[x], 0) }
	if math.Abs(a.rho[k]-a.rho[i]) < 1e-14 {
		v := 1 / (iw2 + e(j) - e(k)) * (rho(i) + rho(j)) / (iw1 + e(i) - e(j))
		if math.Abs(w1+w2) < 1e-14 {
			v += complex(a.beta, 0) * rho(i) / (iw2 + e(j) - e(i))
		}
		return v
	}
	return 1 / (iw2 + e(j) - e(k)) * ((rho(k)-rho(i))/(iw1+iw2+e(i)-e(k)) + (rho(i)+rho(j))/(iw1+e(i)-e(j)))
}

func stateOf(index int) int {
	if index == up {
		return 1
	}
	return 2
}

func TestAtom(t *testing.T) {
	t.Parallel()
	u, mu, beta := 1.0, 0.4, 10.0
	const nw = 20
	omega := func(n int) float64 { return math.Pi * float64(2*n+1) / beta }

	for _, field := range []float64{0, 0.01} {
		t.Run(fmt.Sprintf("%g", field), func(t *testing.T) {
			t.Parallel()
			a := newAtomic(beta, u, mu, field)
			err := mpi.Run(context.Background(), 2, func(ctx context.Context, comm *mpi.Comm) error {
				m, err := solve(ctx, comm, atom(u, mu, field), 2, beta)
				if err != nil {
					return err
				}
				tests := []struct {
					channel Channel
					i1, i2  int
					ref     func(n1, n2 int) complex128
				}{
					{channel: PP, i1: up, i2: up},
					{channel: PP, i1: up, i2: dn, ref: func(n1, n2 int) complex128 {
						return a.g(3, 2, 0, -omega(n1), -omega(n2)) + a.g(3, 1, 0, -omega(n2), -omega(n1))
					}},
					{channel: PP, i1: dn, i2: up, ref: func(n1, n2 int) complex128 {
						return a.g(3, 1, 0, -omega(n1), -omega(n2)) + a.g(3, 2, 0, -omega(n2), -omega(n1))
					}},
					{channel: PH, i1: up, i2: up, ref: func(n1, n2 int) complex128 {
						return a.g(1, 0, 1, -omega(n1), omega(n2)) + a.g(3, 2, 3, -omega(n1), omega(n2))
					}},
					{channel: PH, i1: dn, i2: dn, ref: func(n1, n2 int) complex128 {
						return a.g(2, 0, 2, -omega(n1), omega(n2)) + a.g(3, 1, 3, -omega(n1), omega(n2))
					}},
					{channel: PH, i1: dn, i2: up, ref: func(n1, n2 int) complex128 {
						st := stateOf(up)
						return a.g(3, st, 3, -omega(n1), omega(n2)) - a.g(st, 3, st, omega(n1), -omega(n2))
					}},
					{channel: XPH, i1: up, i2: dn, ref: func(n1, n2 int) complex128 {
						return -a.g(1, 0, 2, -omega(n1), omega(n2)) - a.g(1, 3, 2, omega(n2), -omega(n1))
					}},
				}
				for _, test := range tests {
					s, err := m.susceptibility(ctx, comm, test.channel, test.i1, test.i1, test.i2, test.i2)
					if err != nil {
						return err
					}
					if test.ref == nil {
						if !s.IsVanishing() {
							return errors.Errorf("%s %d %d: %d parts, expected vanishing", test.channel, test.i1, test.i2, len(s.Parts()))
						}
						continue
					}
					for n1 := -nw; n1 < nw; n1++ {
						for n2 := -nw; n2 < nw; n2++ {
							got, err := s.At(n1, n2)
							if err != nil {
								return err
							}
							if want := test.ref(n1, n2); cmplx.Abs(got-want) > 1e-14 {
								return errors.Errorf("%s %d %d (%d, %d): %v, expected %v", test.channel, test.i1, test.i2, n1, n2, got, want)
							}
						}
					}
				}
				return nil
			})
			if err != nil {
				t.Fatalf("%+v", err)
			}
		})
	}
}

func TestCrossing(t *testing.T) {
	t.Parallel()
	u, mu, beta := 1.0, 0.4, 10.0
	err := mpi.Run(context.Background(), 3, func(ctx context.Context, comm *mpi.Comm) error {
		m, err := solve(ctx, comm, atom(u, mu, 0.01), 2, beta)
		if err != nil {
			return err
		}
		for i := range 16 {
			i1, i2, i3, i4 := i&1, (i>>1)&1, (i>>2)&1, (i>>3)&1
			ph, err := m.susceptibility(ctx, comm, PH, i1, i2, i3, i4)
			if err != nil {
				return err
			}
			xph, err := m.susceptibility(ctx, comm, XPH, i1, i4, i3, i2)
			if err != nil {
				return err
			}
			for n1 := -5; n1 < 5; n1++ {
				for n2 := -5; n2 < 5; n2++ {
					a, err := ph.At(n1, n2)
					if err != nil {
						return err
					}
					b, err := xph.At(n1, n2)
					if err != nil {
						return err
					}
					if cmplx.Abs(a+b) > 1e-14 {
						return errors.Errorf("%d%d%d%d (%d, %d): xPH %v, expected %v", i1, i2, i3, i4, n1, n2, b, -a)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestContainer(t *testing.T) {
	t.Parallel()
	u, mu, beta := 1.0, 0.4, 10.0
	freqs := [][2]int{{0, 0}, {-1, 2}, {3, -4}}
	err := mpi.Run(context.Background(), 3, func(ctx context.Context, comm *mpi.Comm) error {
		m, err := solve(ctx, comm, atom(u, mu, 0.01), 2, beta)
		if err != nil {
			return err
		}
		c, err := NewContainer(m.ops, m.dm, PP, up, dn, nil)
		if err != nil {
			return err
		}
		if err := c.PrepareAll([]Pair{{dn, up}, {up, up}}); err != nil {
			return err
		}
		if err := c.ComputeAll(ctx, comm, freqs, true); err != nil {
			return err
		}
		for _, ij := range c.Pairs() {
			got, err := c.Get(ij[0], ij[1])
			if err != nil {
				return err
			}
			want, err := m.susceptibility(ctx, comm, PP, ij[0], up, ij[1], dn)
			if err != nil {
				return err
			}
			for _, n := range freqs {
				g, err := got.At(n[0], n[1])
				if err != nil {
					return err
				}
				w, err := want.At(n[0], n[1])
				if err != nil {
					return err
				}
				if cmplx.Abs(g-w) > 1e-14 {
					return errors.Errorf("%v %v: %v, expected %v", ij, n, g, w)
				}
			}
			if _, err := got.At(5, 5); err == nil {
				return errors.Errorf("expected error for cleared terms")
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()
	ff := FF{Coeff: 1, P1: 1, P2: 2}.Merge(FF{Coeff: 1, P1: 1 + 2e-9, P2: 2 - 2e-9})
	if ff.Weight != 2 || math.Abs(ff.P1-(1+1e-9)) > 1e-15 || math.Abs(ff.P2-(2-1e-9)) > 1e-15 {
		t.Fatalf("%+v", ff)
	}
	ff = ff.Merge(FF{Coeff: 1, P1: 1 + 4e-9, P2: 2})
	if ff.Weight != 3 || ff.Coeff != 3 || math.Abs(ff.P1-(1+2e-9)) > 1e-15 {
		t.Fatalf("%+v", ff)
	}
	if got, n, err := (FF{}).Decode(ff.AppendFloats(nil)); err != nil || n != 5 || got != ff {
		t.Fatalf("%+v %d %+v, expected %+v", got, n, err, ff)
	}

	fb := FB{Coeff: 1, P1: 0, P12: 1, Xi: -1}.Merge(FB{Coeff: 1, P1: 3e-9, P12: 1 + 3e-9, Xi: -1})
	if fb.Weight != 2 || math.Abs(fb.P1-1.5e-9) > 1e-15 || math.Abs(fb.P12-(1+1.5e-9)) > 1e-15 {
		t.Fatalf("%+v", fb)
	}
	if got, n, err := (FB{}).Decode(fb.AppendFloats(nil)); err != nil || n != 6 || got != fb {
		t.Fatalf("%+v %d %+v, expected %+v", got, n, err, fb)
	}

	r := Resonant{Coeff: 1, P: 1, Xi: 1, Weight: 3}.Merge(Resonant{Coeff: 1, P: 1 + 4e-9, Xi: 1})
	if r.Weight != 4 || math.Abs(r.P-(1+1e-9)) > 1e-15 {
		t.Fatalf("%+v", r)
	}
	if got, n, err := (Resonant{}).Decode(r.AppendFloats(nil)); err != nil || n != 5 || got != r {
		t.Fatalf("%+v %d %+v, expected %+v", got, n, err, r)
	}
}

func TestInvalid(t *testing.T) {
	t.Parallel()
	if _, err := ParseChannel("ppx"); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("%+v", err)
	}
	if c, err := ParseChannel("xph"); err != nil || c != XPH {
		t.Fatalf("%v %+v, expected %v", c, err, XPH)
	}
	err := mpi.Run(context.Background(), 1, func(ctx context.Context, comm *mpi.Comm) error {
		m, err := solve(ctx, comm, atom(1, 0.4, 0), 2, 10)
		if err != nil {
			return err
		}
		cx, _ := m.ops.Creation(up)
		c, _ := m.ops.Annihilation(dn)
		if _, err := New(Channel(7), cx, c, cx, c, m.dm); !errors.Is(err, ErrInvalidChannel) {
			return errors.Errorf("%v, expected %v", err, ErrInvalidChannel)
		}
		if _, err := New(PH, c, cx, cx, c, m.dm); !errors.Is(err, ErrDaggerPattern) {
			return errors.Errorf("%v, expected %v", err, ErrDaggerPattern)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	os.Exit(m.Run())
}
