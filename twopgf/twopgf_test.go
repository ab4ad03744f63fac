package twopgf

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
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pomerol-ed/pomerol-sub001/density"
	"github.com/pomerol-ed/pomerol-sub001/expr"
	"github.com/pomerol-ed/pomerol-sub001/hamiltonian"
	"github.com/pomerol-ed/pomerol-sub001/hilbert"
	"github.com/pomerol-ed/pomerol-sub001/lehmann"
	"github.com/pomerol-ed/pomerol-sub001/metrics"
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

func solve(ctx context.Context, comm *mpi.Comm, h expr.Expression, numIndices int, beta float64, fields []int) (*model, error) {
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
	m.ops = operator.NewContainer(ham, fields, nil)
	if err := m.ops.ComputeAll(ctx, comm); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return m, nil
}

// anderson is an impurity on indices 0 and 1 coupled to bath sites 2i+2, 2i+3.
func anderson(u, mu float64, levels, hoppings []float64) expr.Expression {
	h := expr.N(up).Mul(expr.N(dn)).Scale(complex(u, 0))
	h = h.Sub(expr.N(up).Add(expr.N(dn)).Scale(complex(mu, 0)))
	for i, e := range levels {
		for s := range 2 {
			b := 2*i + 2 + s
			h = h.Add(expr.N(b).Scale(complex(e, 0)))
			hop := expr.CDag(s).Mul(expr.C(b))
			h = h.Add(hop.Add(hop.Conj()).Scale(complex(hoppings[i], 0)))
		}
	}
	return h
}

func TestAnderson(t *testing.T) {
	t.Parallel()
	u, mu, beta := 0.5, 0.25, 26.0
	levels := []float64{1.02036910873357, -1.02036910873357}
	hoppings := []float64{0.296439333614347, 0.296439333614347}
	want := []float64{
		-2.342841271771e+01,
		0.000000000000e+00,
		6.932231165814e-03,
		2.037522082872e-03,
		-2.150424835716e-03,
		-4.384848776411e-03,
		-5.253420668000e-03,
		-5.370700986029e-03,
		-5.126175681822e-03,
		-4.732777836189e-03,
	}
	// (w + W, w_n, w) with w the first fermionic frequency and W the first nonzero bosonic one.
	freqs := make([][3]int, len(want))
	for n := range freqs {
		freqs[n] = [3]int{1, n, 0}
	}
	uuuu, dddd, udud, uddu := Quad{up, up, up, up}, Quad{dn, dn, dn, dn}, Quad{up, dn, up, dn}, Quad{up, dn, dn, up}

	for _, clearTerms := range []bool{false, true} {
		t.Run(fmt.Sprintf("%t", clearTerms), func(t *testing.T) {
			t.Parallel()
			mtr := metrics.New()
			err := mpi.Run(context.Background(), 3, func(ctx context.Context, comm *mpi.Comm) error {
				m, err := solve(ctx, comm, anderson(u, mu, levels, hoppings), 6, beta, []int{up, dn})
				if err != nil {
					return err
				}
				c := NewContainer(m.ops, m.dm, mtr)
				c.ReduceResonanceTolerance = 1e-5
				c.CoefficientTolerance = 1e-8
				if err := c.PrepareAll([]Quad{uuuu, dddd, udud, uddu}); err != nil {
					return err
				}
				if err := c.ComputeAll(ctx, comm, freqs, clearTerms); err != nil {
					return err
				}
				at := func(q Quad, n [3]int) (complex128, error) {
					g, err := c.Get(q)
					if err != nil {
						return 0, err
					}
					return g.At(n[0], n[1], n[2])
				}
				for i, n := range freqs {
					for _, q := range []Quad{uuuu, dddd} {
						got, err := at(q, n)
						if err != nil {
							return err
						}
						if cmplx.Abs(got-complex(want[i], 0)) > 1e-6 {
							return errors.Errorf("%v %v: %v, expected %v", q, n, got, want[i])
						}
					}
					// Spin rotation invariance.
					a, _ := at(uuuu, n)
					b, _ := at(udud, n)
					d, _ := at(uddu, n)
					if cmplx.Abs(a-b-d) > 1e-5 {
						return errors.Errorf("%v: %v - %v - %v != 0", n, a, b, d)
					}
				}
				if !clearTerms {
					g, _ := c.Get(uuuu)
					w := func(n int) complex128 { return lehmann.FermionicFrequency(n, beta) }
					direct := g.Value(w(1), w(0), w(0))
					if got, _ := at(uuuu, [3]int{1, 0, 0}); cmplx.Abs(got-direct) > 1e-10 {
						return errors.Errorf("%v, expected %v", got, direct)
					}
				} else if _, err := at(uuuu, [3]int{2, 2, 2}); err == nil {
					return errors.Errorf("expected error for cleared terms")
				}
				return nil
			})
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if got := testutil.ToFloat64(mtr.LehmannTerms.WithLabelValues("2pgf")); got <= 0 {
				t.Fatalf("%f terms counted", got)
			}
		})
	}
}

func TestAtom(t *testing.T) {
	t.Parallel()
	u, mu, beta := 1.0, 0.4, 10.0
	err := mpi.Run(context.Background(), 2, func(ctx context.Context, comm *mpi.Comm) error {
		h := expr.N(up).Mul(expr.N(dn)).Scale(complex(u, 0)).Sub(expr.N(up).Add(expr.N(dn)).Scale(complex(mu, 0)))
		m, err := solve(ctx, comm, h, 2, beta, []int{up, dn})
		if err != nil {
			return err
		}
		c := NewContainer(m.ops, m.dm, nil)
		c.MultiTermCoefficientTolerance = 1e-3
		if err := c.PrepareAll([]Quad{{up, up, dn, dn}, {up, dn, up, dn}, {dn, up, up, dn}}); err != nil {
			return err
		}
		for _, q := range c.Quads() {
			if g, _ := c.Get(q); g.MultiTermCoefficientTolerance != 1e-3 {
				return errors.Errorf("%v: %g, expected 1e-3", q, g.MultiTermCoefficientTolerance)
			}
		}
		if err := c.ComputeAll(ctx, comm, nil, false); err != nil {
			return err
		}
		if g, _ := c.Get(Quad{up, up, dn, dn}); !g.IsVanishing() {
			return errors.Errorf("%d parts, expected vanishing", len(g.Parts()))
		}

		// Exchanging the annihilation operators together with their frequencies flips the sign.
		udud, _ := c.Get(Quad{up, dn, up, dn})
		duud, _ := c.Get(Quad{dn, up, up, dn})
		for n1 := -3; n1 < 3; n1++ {
			for n2 := -3; n2 < 3; n2++ {
				for n3 := -3; n3 < 3; n3++ {
					a, err := udud.At(n1, n2, n3)
					if err != nil {
						return err
					}
					b, err := duud.At(n2, n1, n3)
					if err != nil {
						return err
					}
					if cmplx.Abs(a+b) > 1e-12 {
						return errors.Errorf("(%d, %d, %d): %v, expected %v", n1, n2, n3, b, -a)
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

func TestMerge(t *testing.T) {
	t.Parallel()
	l := lehmann.NewList[NonResonant](1e-8, 1e-16)
	l.Add(NonResonant{Coeff: 1, Poles: [3]float64{1, 2, 3}})
	l.Add(NonResonant{Coeff: 2, Poles: [3]float64{1 + 3e-9, 2, 3 - 3e-9}})
	l.Add(NonResonant{Coeff: 3, Poles: [3]float64{1 + 3e-9, 2, 3 - 3e-9}})
	l.Add(NonResonant{Coeff: 1, Poles: [3]float64{1, 2, 3}, Z4: true})
	terms := l.Terms()
	if len(terms) != 2 {
		t.Fatalf("%v, expected 2 terms", terms)
	}
	for _, term := range terms {
		if term.Z4 {
			continue
		}
		want := NonResonant{Coeff: 6, Poles: [3]float64{1 + 2e-9, 2, 3 - 2e-9}, Weight: 3}
		if term.Coeff != want.Coeff || term.Weight != want.Weight {
			t.Fatalf("%v, expected %v", term, want)
		}
		for i := range want.Poles {
			if math.Abs(term.Poles[i]-want.Poles[i]) > 1e-15 {
				t.Fatalf("%v, expected %v", term, want)
			}
		}

		got, n, err := NonResonant{}.Decode(term.AppendFloats(nil))
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if n != 7 || got != term {
			t.Fatalf("%v %d, expected %v", got, n, term)
		}
	}

	r := Resonant{ResCoeff: 1, Poles: [3]float64{0, 1, 2}, Weight: 2}.Merge(Resonant{ResCoeff: 1, Poles: [3]float64{3, 1, 2}})
	if r.Weight != 3 || math.Abs(r.Poles[0]-1) > 1e-15 || r.ResCoeff != 2 {
		t.Fatalf("%v", r)
	}
}

func TestDaggerPattern(t *testing.T) {
	t.Parallel()
	err := mpi.Run(context.Background(), 1, func(ctx context.Context, comm *mpi.Comm) error {
		m, err := solve(ctx, comm, expr.N(up).Mul(expr.N(dn)), 2, 1, []int{up, dn})
		if err != nil {
			return err
		}
		c, _ := m.ops.Annihilation(up)
		cx, _ := m.ops.Creation(dn)
		if _, err := New(c, cx, cx, c, m.dm); !errors.Is(err, ErrDaggerPattern) {
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
