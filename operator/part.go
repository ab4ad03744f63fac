package operator

import (
	"cmp"
	"math/cmplx"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/pomerol-ed/pomerol-sub001/computable"
	"github.com/pomerol-ed/pomerol-sub001/expr"
	"github.com/pomerol-ed/pomerol-sub001/hamiltonian"
	pmat "github.com/pomerol-ed/pomerol-sub001/mat"
	"github.com/pomerol-ed/pomerol-sub001/states"
)

// MatrixElementTolerance is the magnitude below which matrix elements in the eigenbasis are dropped.
const MatrixElementTolerance = 1e-8

// Part is the matrix of a monomial between the eigenstates of two blocks.
// Rows are eigenstates of the left block and columns eigenstates of the right block.
type Part struct {
	left, right *hamiltonian.Part
	monomial    expr.Monomial
	coeff       complex128
	layout      expr.Layout
	states      *states.Classification

	status   computable.Status
	elements *pmat.COO
}

func (p *Part) Left() int                    { return p.left.Block() }
func (p *Part) Right() int                   { return p.right.Block() }
func (p *Part) Status() computable.Status    { return p.status }
func (p *Part) Elements() *pmat.COO          { return p.elements }
func (p *Part) Row(i int) []pmat.VRowCol     { return p.elements.Row(i) }
func (p *Part) Col(j int) []pmat.VRowCol     { return p.elements.Col(j) }
func (p *Part) At(i, j int) complex128       { return p.elements.At(i, j) }
func (p *Part) IsComplex() bool              { return p.elements.IsComplex() }
func (p *Part) LeftPart() *hamiltonian.Part  { return p.left }
func (p *Part) RightPart() *hamiltonian.Part { return p.right }

// Transpose returns the elements with rows and columns swapped.
func (p *Part) Transpose() *pmat.COO { return p.elements.Transpose() }

// fock returns the matrix in the Fock basis of the two blocks.
func (p *Part) fock() ([][]complex128, error) {
	m := make([][]complex128, p.left.Size())
	for i := range m {
		m[i] = make([]complex128, p.right.Size())
	}
	for j := range p.right.Size() {
		ket := p.right.State(j)
		bra, amp, ok := p.layout.ActMonomial(p.monomial, ket)
		if !ok {
			continue
		}
		if b := p.states.Block(bra); b != p.Left() {
			return nil, errors.Errorf("%s maps block %d into %d, expected %d", p.monomial, p.Right(), b, p.Left())
		}
		m[p.states.Inner(bra)][j] += p.coeff * complex(amp, 0)
	}
	return m, nil
}

func (p *Part) compute() error {
	fock, err := p.fock()
	if err != nil {
		return errors.Wrap(err, "")
	}
	nl, nr := p.left.NumEigen(), p.right.NumEigen()
	if nl == 0 || nr == 0 {
		p.elements = pmat.COOZeros(nl, nr)
		p.status = computable.Computed
		return nil
	}

	var data []pmat.VRowCol
	if !p.left.IsComplex() && imag(p.coeff) == 0 {
		data = p.rotateReal(fock, nl, nr)
	} else {
		data = p.rotateComplex(fock, nl, nr)
	}
	p.elements = pmat.NewCOO(nl, nr, data).Prune(MatrixElementTolerance)
	p.status = computable.Computed
	return nil
}

func (p *Part) rotateReal(fock [][]complex128, nl, nr int) []pmat.VRowCol {
	sl, sr := p.left.Size(), p.right.Size()
	m := mat.NewDense(sl, sr, nil)
	for i, row := range fock {
		for j, v := range row {
			m.Set(i, j, real(v))
		}
	}
	ul := p.left.RealVectors().Slice(0, sl, 0, nl)
	ur := p.right.RealVectors().Slice(0, sr, 0, nr)

	var tmp, res mat.Dense
	tmp.Mul(m, ur)
	res.Mul(ul.T(), &tmp)

	data := make([]pmat.VRowCol, 0)
	for i := range nl {
		for j := range nr {
			if v := res.At(i, j); v != 0 {
				data = append(data, pmat.VRowCol{V: complex(v, 0), Row: i, Col: j})
			}
		}
	}
	return data
}

func (p *Part) rotateComplex(fock [][]complex128, nl, nr int) []pmat.VRowCol {
	sl := p.left.Size()
	tmp := make([][]complex128, sl)
	for a := range sl {
		tmp[a] = make([]complex128, nr)
		for b, v := range fock[a] {
			if v == 0 {
				continue
			}
			for j := range nr {
				tmp[a][j] += v * p.right.Vector(b, j)
			}
		}
	}
	data := make([]pmat.VRowCol, 0)
	for i := range nl {
		for j := range nr {
			var v complex128
			for a := range sl {
				v += cmplx.Conj(p.left.Vector(a, i)) * tmp[a][j]
			}
			if v != 0 {
				data = append(data, pmat.VRowCol{V: v, Row: i, Col: j})
			}
		}
	}
	return data
}

func comparePart(a, b *Part) int {
	return cmp.Compare(a.Right(), b.Right())
}
