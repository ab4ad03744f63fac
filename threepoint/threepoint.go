// Package threepoint computes three-point susceptibilities
//
//	chi3(w1, w2) = <T c^dagger_1 c_2 c^dagger_3 c_4>
//
// in the particle-particle, particle-hole and crossed particle-hole channels.
package threepoint

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/computable"
	"github.com/pomerol-ed/pomerol-sub001/density"
	"github.com/pomerol-ed/pomerol-sub001/lehmann"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
	"github.com/pomerol-ed/pomerol-sub001/operator"
	"github.com/pomerol-ed/pomerol-sub001/states"
)

var (
	ErrInvalidChannel = errors.New("invalid channel")
	ErrDaggerPattern  = errors.New("expected creation, annihilation, creation, annihilation")
)

const (
	DefaultReduceResonanceTolerance = 1e-8
	DefaultCoefficientTolerance     = 1e-16
)

// Channel selects the pair of operators treated as the bosonic vertex.
type Channel int

const (
	PP Channel = iota
	PH
	XPH
)

func (c Channel) String() string {
	switch c {
	case PP:
		return "PP"
	case PH:
		return "PH"
	case XPH:
		return "xPH"
	default:
		return fmt.Sprintf("Channel(%d)", int(c))
	}
}

func ParseChannel(s string) (Channel, error) {
	for _, c := range []Channel{PP, PH, XPH} {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	return 0, errors.Wrap(ErrInvalidChannel, s)
}

type Susceptibility struct {
	ReduceResonanceTolerance float64
	CoefficientTolerance     float64

	channel          Channel
	cx1, c2, cx3, c4 *operator.Operator
	dm               *density.DensityMatrix
	parts            []*Part
	status           computable.Status

	grid    *lehmann.Grid[[2]int]
	cleared bool
}

// New returns the susceptibility of c^dagger_1 c_2 c^dagger_3 c_4 in channel.
func New(channel Channel, cx1, c2, cx3, c4 *operator.Operator, dm *density.DensityMatrix) (*Susceptibility, error) {
	if channel < PP || channel > XPH {
		return nil, errors.Wrap(ErrInvalidChannel, channel.String())
	}
	kinds := []operator.Kind{operator.Creation, operator.Annihilation, operator.Creation, operator.Annihilation}
	for i, o := range []*operator.Operator{cx1, c2, cx3, c4} {
		if o.Kind() != kinds[i] {
			return nil, errors.Wrap(ErrDaggerPattern, fmt.Sprintf("operator %d is %s", i+1, o.Kind()))
		}
	}
	return &Susceptibility{
		ReduceResonanceTolerance: DefaultReduceResonanceTolerance,
		CoefficientTolerance:     DefaultCoefficientTolerance,
		channel:                  channel,
		cx1:                      cx1,
		c2:                       c2,
		cx3:                      cx3,
		c4:                       c4,
		dm:                       dm,
	}, nil
}

func (s *Susceptibility) Channel() Channel          { return s.channel }
func (s *Susceptibility) Status() computable.Status { return s.status }
func (s *Susceptibility) Parts() []*Part            { return s.parts }
func (s *Susceptibility) IsVanishing() bool         { return len(s.parts) == 0 }

// operators returns the fermionic pair F1, F2 and the bosonic pair B1, B2 of the channel.
func (s *Susceptibility) operators() (f1, f2, b1, b2 *operator.Operator) {
	switch s.channel {
	case PP:
		return s.cx1, s.cx3, s.c2, s.c4
	case PH:
		return s.cx1, s.c2, s.cx3, s.c4
	default:
		return s.cx1, s.c4, s.cx3, s.c2
	}
}

func (s *Susceptibility) Prepare() error {
	if s.status >= computable.Prepared {
		return nil
	}
	for _, o := range []*operator.Operator{s.cx1, s.c2, s.cx3, s.c4} {
		if err := computable.Require(o.Status(), computable.Computed); err != nil {
			return errors.Wrap(err, o.Expression().String())
		}
	}
	if err := computable.Require(s.dm.Status(), computable.Computed); err != nil {
		return errors.Wrap(err, "density matrix")
	}

	f1, f2, b1, b2 := s.operators()
	ham := s.dm.Hamiltonian()
	retained := func(blocks ...int) bool {
		for _, b := range blocks {
			if !s.dm.IsRetained(b) {
				return false
			}
		}
		return true
	}
	newPart := func(first, second *operator.Operator, b2right, middle, b1left, b2left int, swapped bool) *Part {
		return &Part{
			f1:           first.PartFromLeft(b2right),
			f2:           second.PartFromLeft(middle),
			b1:           b1.PartFromLeft(b1left),
			b2:           b2.PartFromLeft(b2left),
			h1:           ham.Part(b2right),
			h2:           ham.Part(middle),
			h3:           ham.Part(b1left),
			dm1:          s.dm.Part(b2right),
			dm2:          s.dm.Part(middle),
			dm3:          s.dm.Part(b1left),
			beta:         s.dm.Beta(),
			channel:      s.channel,
			swapped:      swapped,
			resonanceTol: s.ReduceResonanceTolerance,
			coeffTol:     s.CoefficientTolerance,
			ff:           lehmann.NewList[FF](s.ReduceResonanceTolerance, s.CoefficientTolerance),
			fb:           lehmann.NewList[FB](s.ReduceResonanceTolerance, s.CoefficientTolerance),
			res:          lehmann.NewList[Resonant](s.ReduceResonanceTolerance, s.CoefficientTolerance),
		}
	}

	for _, bp := range b2.Parts() {
		b2right, b2left := bp.Right(), bp.Left()
		b1left := b1.LeftIndex(b2left)
		if b1left == states.InvalidBlock {
			continue
		}
		// <b2right|F1|m><m|F2|b1left><b1left|B1 B2|b2right>
		m := f1.RightIndex(b2right)
		if m != states.InvalidBlock && m == f2.LeftIndex(b1left) && retained(b2right, m, b1left) {
			s.parts = append(s.parts, newPart(f1, f2, b2right, m, b1left, b2left, false))
		}
		// <b2right|F2|m><m|F1|b1left><b1left|B1 B2|b2right>
		m = f2.RightIndex(b2right)
		if m != states.InvalidBlock && m == f1.LeftIndex(b1left) && retained(b2right, m, b1left) {
			s.parts = append(s.parts, newPart(f2, f1, b2right, m, b1left, b2left, true))
		}
	}
	s.status = computable.Prepared
	return nil
}

func (s *Susceptibility) lehmannParts() []lehmann.Part {
	parts := make([]lehmann.Part, 0, len(s.parts))
	for _, p := range s.parts {
		parts = append(parts, p)
	}
	return parts
}

func (s *Susceptibility) Compute(ctx context.Context, comm *mpi.Comm, opts ...mpi.SkelOption) error {
	if s.status >= computable.Computed {
		return nil
	}
	if err := computable.Require(s.status, computable.Prepared); err != nil {
		return errors.Wrap(err, "")
	}
	parts := s.lehmannParts()
	opts = append([]mpi.SkelOption{mpi.WithName("threepoint part")}, opts...)
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

func (s *Susceptibility) Value(z1, z2 complex128) complex128 {
	var v complex128
	for _, p := range s.parts {
		v += p.Value(z1, z2)
	}
	return v
}

// At returns chi3 at the fermionic Matsubara frequencies with indices n1 and n2.
func (s *Susceptibility) At(n1, n2 int) (complex128, error) {
	if v, ok := s.grid.Lookup([2]int{n1, n2}); ok {
		return v, nil
	}
	if err := computable.Require(s.status, computable.Computed); err != nil {
		return 0, errors.Wrap(err, "")
	}
	if s.cleared {
		return 0, errors.Errorf("terms cleared, (%d, %d) not in grid", n1, n2)
	}
	beta := s.dm.Beta()
	return s.Value(lehmann.FermionicFrequency(n1, beta), lehmann.FermionicFrequency(n2, beta)), nil
}

func (s *Susceptibility) NumTerms() int {
	n := 0
	for _, p := range s.parts {
		n += p.NumTerms()
	}
	return n
}
