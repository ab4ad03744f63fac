// Package operator represents monomial operators as block to block matrices in the eigenbasis of a Hamiltonian.
package operator

import (
	"context"
	"fmt"
	"slices"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/computable"
	"github.com/pomerol-ed/pomerol-sub001/expr"
	"github.com/pomerol-ed/pomerol-sub001/hamiltonian"
	"github.com/pomerol-ed/pomerol-sub001/hilbert"
	pmat "github.com/pomerol-ed/pomerol-sub001/mat"
	"github.com/pomerol-ed/pomerol-sub001/metrics"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
	"github.com/pomerol-ed/pomerol-sub001/states"
)

var (
	ErrNotMonomial = errors.New("not a monomial")
)

type Kind int

const (
	Generic Kind = iota
	Creation
	Annihilation
	Quadratic
)

func (k Kind) String() string {
	switch k {
	case Creation:
		return "creation"
	case Annihilation:
		return "annihilation"
	case Quadratic:
		return "quadratic"
	default:
		return "generic"
	}
}

// Operator is a monomial operator.
// Its block map relates a right (source) block to the left (destination) block it is mapped into.
type Operator struct {
	kind     Kind
	e        expr.Expression
	monomial expr.Monomial
	coeff    complex128
	ham      *hamiltonian.Hamiltonian
	status   computable.Status

	leftOf  map[int]int
	rightOf map[int]int
	parts   []*Part
}

// New wraps e, which must consist of a single monomial.
func New(e expr.Expression, ham *hamiltonian.Hamiltonian) (*Operator, error) {
	return newOperator(Generic, e, ham)
}

func newOperator(kind Kind, e expr.Expression, ham *hamiltonian.Hamiltonian) (*Operator, error) {
	if !e.IsMonomial() {
		return nil, errors.Wrap(ErrNotMonomial, e.String())
	}
	t := e.Terms()[0]
	return &Operator{kind: kind, e: e, monomial: t.Monomial, coeff: t.Coeff, ham: ham}, nil
}

func NewCreation(i int, ham *hamiltonian.Hamiltonian) *Operator {
	o, _ := newOperator(Creation, expr.CDag(i), ham)
	return o
}

func NewAnnihilation(i int, ham *hamiltonian.Hamiltonian) *Operator {
	o, _ := newOperator(Annihilation, expr.C(i), ham)
	return o
}

// NewQuadratic returns the product of the ladder operators on i and j, each created if its dagger flag is set.
func NewQuadratic(i, j int, daggerI, daggerJ bool, ham *hamiltonian.Hamiltonian) (*Operator, error) {
	ladder := func(k int, dagger bool) expr.Expression {
		if dagger {
			return expr.CDag(k)
		}
		return expr.C(k)
	}
	o, err := newOperator(Quadratic, ladder(i, daggerI).Mul(ladder(j, daggerJ)), ham)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("%d %d", i, j))
	}
	return o, nil
}

func (o *Operator) Kind() Kind                            { return o.kind }
func (o *Operator) Expression() expr.Expression           { return o.e }
func (o *Operator) Status() computable.Status             { return o.status }
func (o *Operator) Hamiltonian() *hamiltonian.Hamiltonian { return o.ham }
func (o *Operator) Parts() []*Part                        { return o.parts }

// Prepare finds the block map and allocates the parts.
func (o *Operator) Prepare() error {
	if o.status >= computable.Prepared {
		return nil
	}
	cls := o.ham.Classification()
	bm, err := hilbert.BlockMap(o.ham.Layout(), cls, o.monomial)
	if err != nil {
		return errors.Wrap(err, "")
	}
	o.leftOf = bm
	o.rightOf = make(map[int]int, len(bm))
	for _, right := range hilbert.Keys(bm) {
		left := bm[right]
		o.rightOf[left] = right
		o.parts = append(o.parts, &Part{
			left:     o.ham.Part(left),
			right:    o.ham.Part(right),
			monomial: o.monomial,
			coeff:    o.coeff,
			layout:   o.ham.Layout(),
			states:   cls,
		})
	}
	slices.SortFunc(o.parts, comparePart)
	o.status = computable.Prepared
	return nil
}

// Compute rotates every part into the eigenbasis.
func (o *Operator) Compute(ctx context.Context, comm *mpi.Comm, opts ...mpi.SkelOption) error {
	if o.status >= computable.Computed {
		return nil
	}
	if err := computable.Require(o.status, computable.Prepared); err != nil {
		return errors.Wrap(err, "")
	}
	if err := computeParts(ctx, comm, o.parts, opts...); err != nil {
		return errors.Wrap(err, "")
	}
	o.status = computable.Computed
	return nil
}

func computeParts(ctx context.Context, comm *mpi.Comm, parts []*Part, opts ...mpi.SkelOption) error {
	jobs := make([]mpi.Job, 0, len(parts))
	for _, p := range parts {
		jobs = append(jobs, mpi.Job{Complexity: p.left.Size() * p.right.Size(), Run: p.compute})
	}
	opts = append([]mpi.SkelOption{mpi.WithName("operator part")}, opts...)
	ranks, err := mpi.Skel(ctx, comm, jobs, opts...)
	if err != nil {
		return errors.Wrap(err, "")
	}
	for k, p := range parts {
		var f []float64
		if comm.Rank() == ranks[k] {
			if p.status < computable.Computed {
				return errors.Errorf("part %d->%d not computed by rank %d", p.Right(), p.Left(), ranks[k])
			}
			f = p.elements.Floats()
		}
		f, err := comm.BcastFloat64s(ctx, ranks[k], f)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if comm.Rank() != ranks[k] {
			if p.elements, err = pmat.COOFromFloats(f); err != nil {
				return errors.Wrap(err, "")
			}
			p.status = computable.Computed
		}
	}
	return nil
}

// LeftIndex returns the block that right is mapped into, or states.InvalidBlock.
func (o *Operator) LeftIndex(right int) int {
	if left, ok := o.leftOf[right]; ok {
		return left
	}
	return states.InvalidBlock
}

// RightIndex returns the block that is mapped into left, or states.InvalidBlock.
func (o *Operator) RightIndex(left int) int {
	if right, ok := o.rightOf[left]; ok {
		return right
	}
	return states.InvalidBlock
}

// BlockMap returns the right to left block map.
func (o *Operator) BlockMap() map[int]int {
	bm := make(map[int]int, len(o.leftOf))
	for k, v := range o.leftOf {
		bm[k] = v
	}
	return bm
}

func (o *Operator) PartFromRight(right int) *Part {
	i, ok := slices.BinarySearchFunc(o.parts, right, func(p *Part, r int) int { return p.Right() - r })
	if !ok {
		return nil
	}
	return o.parts[i]
}

func (o *Operator) PartFromLeft(left int) *Part {
	right := o.RightIndex(left)
	if right == states.InvalidBlock {
		return nil
	}
	return o.PartFromRight(right)
}

func (o *Operator) IsComplex() bool {
	for _, p := range o.parts {
		if p.elements != nil && p.IsComplex() {
			return true
		}
	}
	return false
}

// Container holds the creation and annihilation operators of a set of indices.
type Container struct {
	ham          *hamiltonian.Hamiltonian
	creation     map[int]*Operator
	annihilation map[int]*Operator
	metrics      *metrics.Metrics
}

func NewContainer(ham *hamiltonian.Hamiltonian, indices []int, m *metrics.Metrics) *Container {
	c := &Container{ham: ham, creation: make(map[int]*Operator), annihilation: make(map[int]*Operator), metrics: m}
	for _, i := range indices {
		c.creation[i] = NewCreation(i, ham)
		c.annihilation[i] = NewAnnihilation(i, ham)
	}
	return c
}

// ComputeAll prepares every operator and computes all their parts in one dispatch.
func (c *Container) ComputeAll(ctx context.Context, comm *mpi.Comm) error {
	var parts []*Part
	var ops []*Operator
	for _, i := range c.Indices() {
		for _, o := range []*Operator{c.creation[i], c.annihilation[i]} {
			if err := o.Prepare(); err != nil {
				return errors.Wrap(err, "")
			}
			if o.status >= computable.Computed {
				continue
			}
			parts = append(parts, o.parts...)
			ops = append(ops, o)
		}
	}
	if err := computeParts(ctx, comm, parts, mpi.WithMetrics(c.metrics)); err != nil {
		return errors.Wrap(err, "")
	}
	for _, o := range ops {
		o.status = computable.Computed
	}
	return nil
}

func (c *Container) Indices() []int {
	idx := make([]int, 0, len(c.creation))
	for i := range c.creation {
		idx = append(idx, i)
	}
	slices.Sort(idx)
	return idx
}

func (c *Container) Creation(i int) (*Operator, error) {
	o, ok := c.creation[i]
	if !ok {
		return nil, errors.Errorf("no creation operator for %d", i)
	}
	return o, nil
}

func (c *Container) Annihilation(i int) (*Operator, error) {
	o, ok := c.annihilation[i]
	if !ok {
		return nil, errors.Errorf("no annihilation operator for %d", i)
	}
	return o, nil
}
