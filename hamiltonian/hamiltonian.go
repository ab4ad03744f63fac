// Package hamiltonian diagonalizes a Hamiltonian block by block.
//
// Every rank holds every block. Prepare and Compute distribute the blocks over the ranks of a communicator and
// then broadcast each block from the rank that produced it, so that afterwards all ranks agree.
package hamiltonian

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/computable"
	"github.com/pomerol-ed/pomerol-sub001/expr"
	"github.com/pomerol-ed/pomerol-sub001/metrics"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
	"github.com/pomerol-ed/pomerol-sub001/states"
)

type Option func(*Hamiltonian)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hamiltonian) { h.metrics = m }
}

type Hamiltonian struct {
	h       expr.Expression
	layout  expr.Layout
	cls     *states.Classification
	parts   []*Part
	status  computable.Status
	metrics *metrics.Metrics

	groundEnergy float64
}

func New(h expr.Expression, layout expr.Layout, cls *states.Classification, opts ...Option) *Hamiltonian {
	ham := &Hamiltonian{h: h, layout: layout, cls: cls}
	for _, opt := range opts {
		opt(ham)
	}
	for b := range cls.NumBlocks() {
		ham.parts = append(ham.parts, newPart(b, cls.States(b), h.IsComplex()))
	}
	return ham
}

func (ham *Hamiltonian) Status() computable.Status              { return ham.status }
func (ham *Hamiltonian) IsComplex() bool                        { return ham.h.IsComplex() }
func (ham *Hamiltonian) NumParts() int                          { return len(ham.parts) }
func (ham *Hamiltonian) Part(b int) *Part                       { return ham.parts[b] }
func (ham *Hamiltonian) Classification() *states.Classification { return ham.cls }
func (ham *Hamiltonian) Layout() expr.Layout                    { return ham.layout }
func (ham *Hamiltonian) Expression() expr.Expression            { return ham.h }

// Prepare fills the Fock basis matrix of every block.
func (ham *Hamiltonian) Prepare(ctx context.Context, comm *mpi.Comm) error {
	if ham.status >= computable.Prepared {
		return nil
	}
	jobs := make([]mpi.Job, 0, len(ham.parts))
	for _, p := range ham.parts {
		jobs = append(jobs, mpi.Job{Complexity: p.Size(), Run: func() error {
			return p.prepare(ham.layout, ham.cls, ham.h)
		}})
	}
	ranks, err := mpi.Skel(ctx, comm, jobs, mpi.WithMetrics(ham.metrics), mpi.WithName("hamiltonian part"))
	if err != nil {
		return errors.Wrap(err, "")
	}

	for b, p := range ham.parts {
		var f []float64
		if comm.Rank() == ranks[b] {
			if p.status < computable.Prepared {
				return errors.Errorf("part %d not prepared by rank %d", b, ranks[b])
			}
			f = p.matrixFloats()
		}
		f, err := comm.BcastFloat64s(ctx, ranks[b], f)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if comm.Rank() != ranks[b] {
			if err := p.setMatrixFloats(f); err != nil {
				return errors.Wrap(err, fmt.Sprintf("part %d", b))
			}
		}
	}
	ham.status = computable.Prepared
	return nil
}

// Compute diagonalizes every block, most expensive blocks first.
func (ham *Hamiltonian) Compute(ctx context.Context, comm *mpi.Comm) error {
	if ham.status >= computable.Computed {
		return nil
	}
	if err := computable.Require(ham.status, computable.Prepared); err != nil {
		return errors.Wrap(err, "")
	}
	jobs := make([]mpi.Job, 0, len(ham.parts))
	for _, p := range ham.parts {
		n := p.Size()
		jobs = append(jobs, mpi.Job{Complexity: n * n * n, Run: func() error {
			if err := p.compute(); err != nil {
				return errors.Wrap(err, "")
			}
			ham.metrics.Diagonalized()
			return nil
		}})
	}
	ranks, err := mpi.Skel(ctx, comm, jobs, mpi.WithMetrics(ham.metrics), mpi.WithName("hamiltonian part"))
	if err != nil {
		return errors.Wrap(err, "")
	}

	for b, p := range ham.parts {
		var f []float64
		if comm.Rank() == ranks[b] {
			if p.status < computable.Computed {
				return errors.Errorf("part %d not computed by rank %d", b, ranks[b])
			}
			f = p.eigenFloats()
		}
		f, err := comm.BcastFloat64s(ctx, ranks[b], f)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if comm.Rank() != ranks[b] {
			if err := p.setEigenFloats(f); err != nil {
				return errors.Wrap(err, fmt.Sprintf("part %d", b))
			}
		}
	}

	ham.groundEnergy = math.Inf(1)
	for _, p := range ham.parts {
		for _, e := range p.values {
			ham.groundEnergy = math.Min(ham.groundEnergy, e)
		}
	}
	ham.status = computable.Computed
	return nil
}

// Reduce keeps only the eigenstates with energy at most GroundEnergy() + cutoff.
func (ham *Hamiltonian) Reduce(cutoff float64) error {
	if err := computable.Require(ham.status, computable.Computed); err != nil {
		return errors.Wrap(err, "")
	}
	for _, p := range ham.parts {
		p.reduce(ham.groundEnergy + cutoff)
	}
	return nil
}

func (ham *Hamiltonian) GroundEnergy() float64 { return ham.groundEnergy }

// EigenValues returns all eigenvalues ordered by block, then by inner index.
func (ham *Hamiltonian) EigenValues() []float64 {
	var vals []float64
	for _, p := range ham.parts {
		vals = append(vals, p.values...)
	}
	return vals
}

// EigenValue returns the eigenvalue at position i of EigenValues.
func (ham *Hamiltonian) EigenValue(i int) (float64, error) {
	for _, p := range ham.parts {
		if i < p.NumEigen() {
			return p.values[i], nil
		}
		i -= p.NumEigen()
	}
	return 0, errors.Errorf("eigenvalue %d out of range", i)
}
