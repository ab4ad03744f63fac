package lehmann

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/mpi"
)

// Part is a piece of a correlator whose terms are generated independently of the other pieces.
type Part interface {
	Complexity() int
	Compute() error
	NumTerms() int
	Clear()
	Broadcast(ctx context.Context, comm *mpi.Comm, root int) error
}

// Dispatch computes parts over the ranks of comm.
// after, if not nil, runs on the owning rank right after part k is computed.
// It returns the rank that computed each part.
func Dispatch(ctx context.Context, comm *mpi.Comm, parts []Part, after func(k int) error, opts ...mpi.SkelOption) ([]int, error) {
	jobs := make([]mpi.Job, 0, len(parts))
	for k, p := range parts {
		jobs = append(jobs, mpi.Job{Complexity: p.Complexity(), Run: func() error {
			if err := p.Compute(); err != nil {
				return errors.Wrap(err, fmt.Sprintf("part %d", k))
			}
			if after == nil {
				return nil
			}
			if err := after(k); err != nil {
				return errors.Wrap(err, fmt.Sprintf("part %d", k))
			}
			return nil
		}})
	}
	ranks, err := mpi.Skel(ctx, comm, jobs, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return ranks, nil
}

// BroadcastParts sends the terms of every part from the rank that computed it to all ranks.
func BroadcastParts(ctx context.Context, comm *mpi.Comm, parts []Part, ranks []int) error {
	for k, p := range parts {
		if err := p.Broadcast(ctx, comm, ranks[k]); err != nil {
			return errors.Wrap(err, fmt.Sprintf("part %d", k))
		}
	}
	return nil
}

// Grid is a set of frequency points with one accumulated value per point.
type Grid[K comparable] struct {
	Points []K
	Values []complex128
}

func NewGrid[K comparable](points []K) *Grid[K] {
	return &Grid[K]{Points: points, Values: make([]complex128, len(points))}
}

// Lookup returns the value at point p.
func (g *Grid[K]) Lookup(p K) (complex128, bool) {
	if g == nil {
		return 0, false
	}
	for i, q := range g.Points {
		if q == p {
			return g.Values[i], true
		}
	}
	return 0, false
}

// Accumulate adds f at every point.
func (g *Grid[K]) Accumulate(f func(K) complex128) {
	for i, p := range g.Points {
		g.Values[i] += f(p)
	}
}

// AllreduceGrids sums the grids over all ranks with a single reduction.
func AllreduceGrids[K comparable](ctx context.Context, comm *mpi.Comm, grids []*Grid[K]) error {
	var flat []complex128
	for _, g := range grids {
		flat = append(flat, g.Values...)
	}
	flat, err := comm.AllreduceComplex128s(ctx, flat)
	if err != nil {
		return errors.Wrap(err, "")
	}
	for _, g := range grids {
		n := copy(g.Values, flat)
		flat = flat[n:]
	}
	return nil
}
