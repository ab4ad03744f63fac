package hamiltonian

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"os"
	"slices"
	"testing"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/computable"
	"github.com/pomerol-ed/pomerol-sub001/expr"
	"github.com/pomerol-ed/pomerol-sub001/hilbert"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
)

func dimer(u, mu, t float64, phase complex128) expr.Expression {
	h := expr.Scalar(0)
	for i := range 4 {
		h = h.Add(expr.N(i).Scale(complex(-mu, 0)))
	}
	h = h.Add(expr.N(0).Mul(expr.N(1)).Scale(complex(u, 0)))
	h = h.Add(expr.N(2).Mul(expr.N(3)).Scale(complex(u, 0)))
	for s := range 2 {
		hop := expr.CDag(s).Mul(expr.C(2 + s)).Scale(phase)
		h = h.Add(hop.Add(hop.Conj()).Scale(complex(-t, 0)))
	}
	return h
}

func build(ctx context.Context, comm *mpi.Comm, h expr.Expression, numIndices int) (*Hamiltonian, error) {
	space, err := hilbert.New(h, numIndices)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cls, err := space.Partition()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	ham := New(h, space.Layout, cls)
	if err := ham.Prepare(ctx, comm); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := ham.Compute(ctx, comm); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return ham, nil
}

func TestAtom(t *testing.T) {
	t.Parallel()
	u, mu := 1.0, 0.4
	h := expr.N(0).Mul(expr.N(1)).Scale(complex(u, 0)).Sub(expr.N(0).Add(expr.N(1)).Scale(complex(mu, 0)))
	err := mpi.Run(context.Background(), 2, func(ctx context.Context, comm *mpi.Comm) error {
		ham, err := build(ctx, comm, h, 2)
		if err != nil {
			return err
		}
		vals := ham.EigenValues()
		slices.Sort(vals)
		want := []float64{0, -mu, -mu, u - 2*mu}
		slices.Sort(want)
		for i := range want {
			if math.Abs(vals[i]-want[i]) > 1e-14 {
				return errors.Errorf("%v, expected %v", vals, want)
			}
		}
		if math.Abs(ham.GroundEnergy()-want[0]) > 1e-14 {
			return errors.Errorf("%f, expected %f", ham.GroundEnergy(), want[0])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestEigenDecomposition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		h     expr.Expression
		ranks int
	}{
		{h: dimer(1, 0.5, 1, 1), ranks: 1},
		{h: dimer(1, 0.5, 1, 1), ranks: 3},
		{h: dimer(2, 0.3, 0.7, cmplx.Exp(0.3i)), ranks: 2},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %s", test.ranks, test.h), func(t *testing.T) {
			t.Parallel()
			err := mpi.Run(context.Background(), test.ranks, func(ctx context.Context, comm *mpi.Comm) error {
				ham, err := build(ctx, comm, test.h, 4)
				if err != nil {
					return err
				}
				if ham.Status() != computable.Computed {
					return errors.Errorf("%s", ham.Status())
				}
				cls := ham.Classification()
				for b := range ham.NumParts() {
					p := ham.Part(b)
					if err := checkPart(ham, p, cls.States(b)); err != nil {
						return errors.Wrap(err, fmt.Sprintf("rank %d block %d", comm.Rank(), b))
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

func checkPart(ham *Hamiltonian, p *Part, sts []expr.FockState) error {
	n := p.Size()
	for k := range n {
		for l := range n {
			var ov, hv complex128
			for i := range n {
				ov += cmplx.Conj(p.Vector(i, k)) * p.Vector(i, l)
				for j := range n {
					me := ham.layout.MatrixElement(ham.h, sts[i], sts[j])
					hv += cmplx.Conj(p.Vector(i, k)) * me * p.Vector(j, l)
				}
			}
			var wantO, wantH complex128
			if k == l {
				wantO, wantH = 1, complex(p.EigenValue(k), 0)
			}
			if cmplx.Abs(ov-wantO) > 1e-10 || cmplx.Abs(hv-wantH) > 1e-10 {
				return errors.Errorf("%d %d: %v %v, expected %v %v", k, l, ov, hv, wantO, wantH)
			}
		}
	}
	for k := 1; k < p.NumEigen(); k++ {
		if p.EigenValue(k) < p.EigenValue(k-1) {
			return errors.Errorf("%v not ascending", p.EigenValues())
		}
	}
	return nil
}

func TestReduce(t *testing.T) {
	t.Parallel()
	err := mpi.Run(context.Background(), 1, func(ctx context.Context, comm *mpi.Comm) error {
		ham, err := build(ctx, comm, dimer(1, 0.5, 1, 1), 4)
		if err != nil {
			return err
		}
		before := len(ham.EigenValues())
		if err := ham.Reduce(1.0); err != nil {
			return err
		}
		vals := ham.EigenValues()
		if len(vals) >= before {
			return errors.Errorf("%d, expected fewer than %d", len(vals), before)
		}
		for _, e := range vals {
			if e > ham.GroundEnergy()+1.0 {
				return errors.Errorf("%f above cutoff", e)
			}
		}
		for b := range ham.NumParts() {
			p := ham.Part(b)
			for k := range p.NumEigen() {
				var norm float64
				for i := range p.Size() {
					norm += real(p.Vector(i, k) * cmplx.Conj(p.Vector(i, k)))
				}
				if math.Abs(norm-1) > 1e-10 {
					return errors.Errorf("%f", norm)
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	err := mpi.Run(context.Background(), 1, func(ctx context.Context, comm *mpi.Comm) error {
		h := dimer(1, 0.5, 1, 1)
		space, err := hilbert.New(h, 4)
		if err != nil {
			return err
		}
		cls, err := space.Partition()
		if err != nil {
			return err
		}
		ham := New(h, space.Layout, cls)
		if err := ham.Compute(ctx, comm); !errors.Is(err, computable.ErrStatusMismatch) {
			return errors.Errorf("%+v", err)
		}
		for range 2 {
			if err := ham.Prepare(ctx, comm); err != nil {
				return err
			}
		}
		for range 2 {
			if err := ham.Compute(ctx, comm); err != nil {
				return err
			}
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
