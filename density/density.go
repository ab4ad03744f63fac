// Package density holds the Boltzmann weights of the eigenstates of a Hamiltonian.
package density

import (
	"math"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/computable"
	"github.com/pomerol-ed/pomerol-sub001/expr"
	"github.com/pomerol-ed/pomerol-sub001/hamiltonian"
	"github.com/pomerol-ed/pomerol-sub001/operator"
)

// Part holds the normalized weights of one block.
type Part struct {
	h        *hamiltonian.Part
	weights  []float64
	z        float64
	retained bool
}

func (p *Part) Block() int               { return p.h.Block() }
func (p *Part) Weight(inner int) float64 { return p.weights[inner] }
func (p *Part) Weights() []float64       { return p.weights }
func (p *Part) IsRetained() bool         { return p.retained }

func (p *Part) computeUnnormalized(beta, e0 float64) float64 {
	p.weights = make([]float64, p.h.NumEigen())
	p.z = 0
	for i, e := range p.h.EigenValues() {
		p.weights[i] = math.Exp(-beta * (e - e0))
		p.z += p.weights[i]
	}
	return p.z
}

func (p *Part) normalize(z float64) {
	for i := range p.weights {
		p.weights[i] /= z
	}
	p.z /= z
}

func (p *Part) truncate(tol float64) {
	p.retained = false
	for _, w := range p.weights {
		if w > tol {
			p.retained = true
			return
		}
	}
}

type DensityMatrix struct {
	ham    *hamiltonian.Hamiltonian
	beta   float64
	parts  []*Part
	status computable.Status

	// z is the partition function relative to the ground state, sum_i exp(-beta (E_i - E_0)).
	z float64
}

func New(ham *hamiltonian.Hamiltonian, beta float64) *DensityMatrix {
	return &DensityMatrix{ham: ham, beta: beta}
}

func (dm *DensityMatrix) Beta() float64                         { return dm.beta }
func (dm *DensityMatrix) Status() computable.Status             { return dm.status }
func (dm *DensityMatrix) Part(b int) *Part                      { return dm.parts[b] }
func (dm *DensityMatrix) NumParts() int                         { return len(dm.parts) }
func (dm *DensityMatrix) Hamiltonian() *hamiltonian.Hamiltonian { return dm.ham }

func (dm *DensityMatrix) Prepare() error {
	if dm.status >= computable.Prepared {
		return nil
	}
	if err := computable.Require(dm.ham.Status(), computable.Computed); err != nil {
		return errors.Wrap(err, "hamiltonian")
	}
	dm.parts = make([]*Part, 0, dm.ham.NumParts())
	for b := range dm.ham.NumParts() {
		dm.parts = append(dm.parts, &Part{h: dm.ham.Part(b), retained: true})
	}
	dm.status = computable.Prepared
	return nil
}

// Compute evaluates and normalizes the weights. Every block starts out retained.
func (dm *DensityMatrix) Compute() error {
	if dm.status >= computable.Computed {
		return nil
	}
	if err := computable.Require(dm.status, computable.Prepared); err != nil {
		return errors.Wrap(err, "")
	}
	e0 := dm.ham.GroundEnergy()
	dm.z = 0
	for _, p := range dm.parts {
		dm.z += p.computeUnnormalized(dm.beta, e0)
	}
	for _, p := range dm.parts {
		p.normalize(dm.z)
	}
	dm.status = computable.Computed
	return nil
}

// Truncate marks the blocks in which no weight exceeds tol as not retained.
// It returns the number of retained blocks and the number of states in them.
func (dm *DensityMatrix) Truncate(tol float64) (blocks, states int, err error) {
	if err := computable.Require(dm.status, computable.Computed); err != nil {
		return 0, 0, errors.Wrap(err, "")
	}
	for _, p := range dm.parts {
		p.truncate(tol)
		if p.retained {
			blocks++
			states += p.h.Size()
		}
	}
	return blocks, states, nil
}

func (dm *DensityMatrix) IsRetained(b int) bool { return dm.parts[b].retained }

// Weight returns the weight of eigenstate inner of block b.
func (dm *DensityMatrix) Weight(b, inner int) float64 { return dm.parts[b].weights[inner] }

// WeightOf returns the weight of the eigenstate labelled by the Fock state s, which selects the block and the
// position of the eigenvalue inside it.
func (dm *DensityMatrix) WeightOf(s expr.FockState) (float64, error) {
	if err := computable.Require(dm.status, computable.Computed); err != nil {
		return 0, errors.Wrap(err, "")
	}
	cls := dm.ham.Classification()
	if int(s) >= cls.Dim() {
		return 0, errors.Errorf("state %d out of range %d", s, cls.Dim())
	}
	b, i := cls.Block(s), cls.Inner(s)
	if i >= len(dm.parts[b].weights) {
		return 0, nil
	}
	return dm.parts[b].weights[i], nil
}

// Z is the partition function with energies measured from the ground state.
func (dm *DensityMatrix) Z() float64 { return dm.z }

// LogZ is the logarithm of the partition function with absolute energies.
func (dm *DensityMatrix) LogZ() float64 {
	return math.Log(dm.z) - dm.beta*dm.ham.GroundEnergy()
}

func (dm *DensityMatrix) AverageEnergy() (float64, error) {
	if err := computable.Require(dm.status, computable.Computed); err != nil {
		return 0, errors.Wrap(err, "")
	}
	var e float64
	for _, p := range dm.parts {
		for i, w := range p.weights {
			e += w * p.h.EigenValue(i)
		}
	}
	return e, nil
}

// Average returns the thermal expectation value of a computed operator.
// Only the parts that map a block into itself contribute.
func (dm *DensityMatrix) Average(op *operator.Operator) (complex128, error) {
	if err := computable.Require(dm.status, computable.Computed); err != nil {
		return 0, errors.Wrap(err, "")
	}
	if err := computable.Require(op.Status(), computable.Computed); err != nil {
		return 0, errors.Wrap(err, op.Expression().String())
	}
	var avg complex128
	for _, p := range op.Parts() {
		if p.Left() != p.Right() {
			continue
		}
		for i, w := range dm.parts[p.Right()].weights {
			avg += complex(w, 0) * p.At(i, i)
		}
	}
	return avg, nil
}

// AverageOccupation returns the thermal average of the number operator on index i.
// The operator is diagonal in the Fock basis, so the weights of the Fock states in every eigenvector suffice.
func (dm *DensityMatrix) AverageOccupation(i int) (float64, error) {
	if err := computable.Require(dm.status, computable.Computed); err != nil {
		return 0, errors.Wrap(err, "")
	}
	layout := dm.ham.Layout()
	var n float64
	for _, p := range dm.parts {
		for k, w := range p.weights {
			for a := range p.h.Size() {
				v := p.h.Vector(a, k)
				n += w * float64(layout.Occupation(p.h.State(a), i)) * (real(v)*real(v) + imag(v)*imag(v))
			}
		}
	}
	return n, nil
}
