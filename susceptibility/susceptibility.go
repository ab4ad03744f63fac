// Package susceptibility computes the dynamical susceptibility
//
//	chi(i W_n) = int_0^beta <T A(tau) B(0)> exp(i W_n tau) dtau
//
// of two quadratic operators A and B, optionally with the disconnected part beta <A><B> subtracted.
package susceptibility

import (
	"context"
	"math"
	"math/cmplx"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/computable"
	"github.com/pomerol-ed/pomerol-sub001/density"
	"github.com/pomerol-ed/pomerol-sub001/hamiltonian"
	"github.com/pomerol-ed/pomerol-sub001/lehmann"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
	"github.com/pomerol-ed/pomerol-sub001/operator"
)

const (
	DefaultMatrixElementTolerance   = 1e-8
	DefaultReduceResonanceTolerance = 1e-8
	DefaultReduceTolerance          = 1e-8

	// zeroFrequency is the magnitude below which a frequency is treated as W = 0.
	zeroFrequency = 1e-15
)

// Part collects the transitions between one outer and one inner block.
// A maps the inner block into the outer one and B maps it back.
type Part struct {
	a, b          *operator.Part
	outer, inner  *hamiltonian.Part
	dmOuter, dmIn *density.Part
	beta          float64
	matrixElemTol float64
	resonanceTol  float64
	terms         *lehmann.List[lehmann.Pole]

	// zeroPoleWeight is the weight of the transitions between degenerate states, which only contribute at W = 0.
	zeroPoleWeight complex128
}

func (p *Part) Complexity() int            { return p.outer.NumEigen() * p.inner.NumEigen() }
func (p *Part) NumTerms() int              { return p.terms.Len() }
func (p *Part) Terms() []lehmann.Pole      { return p.terms.Terms() }
func (p *Part) ZeroPoleWeight() complex128 { return p.zeroPoleWeight }

func (p *Part) Clear() {
	p.terms.Clear()
	p.zeroPoleWeight = 0
}

func (p *Part) Compute() error {
	p.Clear()
	for i1 := range p.outer.NumEigen() {
		w1 := p.dmOuter.Weight(i1)
		for _, e := range p.a.Row(i1) {
			i2 := e.Col
			me := e.V * p.b.At(i2, i1)
			if cmplx.Abs(me) <= p.matrixElemTol {
				continue
			}
			pole := p.inner.EigenValue(i2) - p.outer.EigenValue(i1)
			if math.Abs(pole) < p.resonanceTol {
				p.zeroPoleWeight += me * complex(w1, 0)
				continue
			}
			p.terms.Add(lehmann.Pole{Residue: me * complex(p.dmIn.Weight(i2)-w1, 0), Pole: pole})
		}
	}
	if !p.terms.CheckTerms() {
		return errors.Errorf("negligible terms left after merging")
	}
	return nil
}

func (p *Part) Broadcast(ctx context.Context, comm *mpi.Comm, root int) error {
	if err := lehmann.Broadcast(ctx, comm, root, p.terms); err != nil {
		return errors.Wrap(err, "")
	}
	f, err := comm.BcastFloat64s(ctx, root, []float64{real(p.zeroPoleWeight), imag(p.zeroPoleWeight)})
	if err != nil {
		return errors.Wrap(err, "")
	}
	p.zeroPoleWeight = complex(f[0], f[1])
	return nil
}

func (p *Part) Value(z complex128) complex128 {
	v := p.terms.Sum(func(t lehmann.Pole) complex128 { return t.Value(z) })
	if cmplx.Abs(z) < zeroFrequency {
		v += p.zeroPoleWeight * complex(p.beta, 0)
	}
	return v
}

// OfTau returns the part at imaginary time 0 < tau < beta.
func (p *Part) OfTau(tau float64) complex128 {
	v := p.terms.Sum(func(t lehmann.Pole) complex128 {
		return -t.Residue * complex(bosonicPoleOfTau(t.Pole, tau, p.beta), 0)
	})
	return v + p.zeroPoleWeight
}

func bosonicPoleOfTau(pole, tau, beta float64) float64 {
	if pole > 0 {
		return math.Exp(-tau*pole) / (1 - math.Exp(-beta*pole))
	}
	return math.Exp((beta-tau)*pole) / (math.Exp(beta*pole) - 1)
}

type Susceptibility struct {
	MatrixElementTolerance   float64
	ReduceResonanceTolerance float64
	ReduceTolerance          float64

	a, b   *operator.Operator
	dm     *density.DensityMatrix
	parts  []*Part
	status computable.Status

	subtract   bool
	aveA, aveB complex128
}

func New(a, b *operator.Operator, dm *density.DensityMatrix) *Susceptibility {
	return &Susceptibility{
		MatrixElementTolerance:   DefaultMatrixElementTolerance,
		ReduceResonanceTolerance: DefaultReduceResonanceTolerance,
		ReduceTolerance:          DefaultReduceTolerance,
		a:                        a,
		b:                        b,
		dm:                       dm,
	}
}

func (s *Susceptibility) Status() computable.Status { return s.status }
func (s *Susceptibility) Parts() []*Part            { return s.parts }
func (s *Susceptibility) IsVanishing() bool         { return len(s.parts) == 0 }

func (s *Susceptibility) Prepare() error {
	if s.status >= computable.Prepared {
		return nil
	}
	for _, o := range []*operator.Operator{s.a, s.b} {
		if err := computable.Require(o.Status(), computable.Computed); err != nil {
			return errors.Wrap(err, o.Expression().String())
		}
	}
	if err := computable.Require(s.dm.Status(), computable.Computed); err != nil {
		return errors.Wrap(err, "density matrix")
	}
	ham := s.dm.Hamiltonian()
	for _, ap := range s.a.Parts() {
		outer, inner := ap.Left(), ap.Right()
		bp := s.b.PartFromRight(outer)
		if bp == nil || bp.Left() != inner {
			continue
		}
		if !s.dm.IsRetained(outer) && !s.dm.IsRetained(inner) {
			continue
		}
		s.parts = append(s.parts, &Part{
			a:             ap,
			b:             bp,
			outer:         ham.Part(outer),
			inner:         ham.Part(inner),
			dmOuter:       s.dm.Part(outer),
			dmIn:          s.dm.Part(inner),
			beta:          s.dm.Beta(),
			matrixElemTol: s.MatrixElementTolerance,
			resonanceTol:  s.ReduceResonanceTolerance,
			terms:         lehmann.NewList[lehmann.Pole](s.ReduceResonanceTolerance, s.ReduceTolerance),
		})
	}
	s.status = computable.Prepared
	return nil
}

func (s *Susceptibility) Compute(ctx context.Context, comm *mpi.Comm, opts ...mpi.SkelOption) error {
	if s.status >= computable.Computed {
		return nil
	}
	if err := computable.Require(s.status, computable.Prepared); err != nil {
		return errors.Wrap(err, "")
	}
	parts := make([]lehmann.Part, 0, len(s.parts))
	for _, p := range s.parts {
		parts = append(parts, p)
	}
	opts = append([]mpi.SkelOption{mpi.WithName("susceptibility part")}, opts...)
	ranks, err := lehmann.Dispatch(ctx, comm, parts, nil, opts...)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := lehmann.BroadcastParts(ctx, comm, parts, ranks); err != nil {
		return errors.Wrap(err, "")
	}
	s.status = computable.Computed
	return nil
}

// SubtractDisconnected subtracts beta <A><B> at W = 0, with the averages taken in the density matrix.
func (s *Susceptibility) SubtractDisconnected() error {
	aveA, err := s.dm.Average(s.a)
	if err != nil {
		return errors.Wrap(err, "")
	}
	aveB, err := s.dm.Average(s.b)
	if err != nil {
		return errors.Wrap(err, "")
	}
	s.SubtractDisconnectedWith(aveA, aveB)
	return nil
}

// SubtractDisconnectedWith subtracts beta aveA aveB at W = 0.
func (s *Susceptibility) SubtractDisconnectedWith(aveA, aveB complex128) {
	s.subtract = true
	s.aveA, s.aveB = aveA, aveB
}

func (s *Susceptibility) Value(z complex128) complex128 {
	var v complex128
	for _, p := range s.parts {
		v += p.Value(z)
	}
	if s.subtract && cmplx.Abs(z) < zeroFrequency {
		v -= s.aveA * s.aveB * complex(s.dm.Beta(), 0)
	}
	return v
}

// At returns chi at the bosonic Matsubara frequency with index n.
func (s *Susceptibility) At(n int) complex128 {
	return s.Value(lehmann.BosonicFrequency(n, s.dm.Beta()))
}

func (s *Susceptibility) OfTau(tau float64) complex128 {
	var v complex128
	for _, p := range s.parts {
		v += p.OfTau(tau)
	}
	if s.subtract {
		v -= s.aveA * s.aveB
	}
	return v
}

func (s *Susceptibility) NumTerms() int {
	n := 0
	for _, p := range s.parts {
		n += p.NumTerms()
	}
	return n
}
