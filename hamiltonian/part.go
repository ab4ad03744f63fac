package hamiltonian

import (
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/pomerol-ed/pomerol-sub001/computable"
	"github.com/pomerol-ed/pomerol-sub001/expr"
	pmat "github.com/pomerol-ed/pomerol-sub001/mat"
	"github.com/pomerol-ed/pomerol-sub001/states"
)

// Part is the restriction of the Hamiltonian to one block.
// Before Compute it holds the matrix in the Fock basis, afterwards its eigenvectors and eigenvalues.
type Part struct {
	block   int
	states  []expr.FockState
	complex bool
	status  computable.Status

	h  *mat.SymDense
	hc *mat.CDense

	vectors  *mat.Dense
	cvectors *mat.CDense
	values   []float64
}

func newPart(block int, sts []expr.FockState, isComplex bool) *Part {
	return &Part{block: block, states: sts, complex: isComplex}
}

func (p *Part) Block() int                { return p.block }
func (p *Part) Size() int                 { return len(p.states) }
func (p *Part) NumEigen() int             { return len(p.values) }
func (p *Part) IsComplex() bool           { return p.complex }
func (p *Part) Status() computable.Status { return p.status }

// State returns the Fock state at inner index i.
func (p *Part) State(i int) expr.FockState { return p.states[i] }

func (p *Part) EigenValue(i int) float64 { return p.values[i] }
func (p *Part) EigenValues() []float64   { return slices.Clone(p.values) }

// Vector returns component i of eigenvector j.
func (p *Part) Vector(i, j int) complex128 {
	if p.complex {
		return p.cvectors.At(i, j)
	}
	return complex(p.vectors.At(i, j), 0)
}

// RealVectors returns the eigenvectors as columns, or nil for a complex part.
func (p *Part) RealVectors() *mat.Dense { return p.vectors }

func (p *Part) ComplexVectors() *mat.CDense { return p.cvectors }

// MatrixElement returns the Fock basis matrix element before diagonalization.
func (p *Part) MatrixElement(i, j int) complex128 {
	if p.complex {
		return p.hc.At(i, j)
	}
	return complex(p.h.At(i, j), 0)
}

func (p *Part) prepare(layout expr.Layout, cls *states.Classification, h expr.Expression) error {
	n := p.Size()
	if p.complex {
		p.hc = mat.NewCDense(n, n, nil)
	} else {
		p.h = mat.NewSymDense(n, nil)
	}
	for j, ket := range p.states {
		for _, a := range layout.ActOn(h, ket) {
			if cls.Block(a.State) != p.block {
				return errors.Errorf("%b in block %d maps to %b in block %d", ket, p.block, a.State, cls.Block(a.State))
			}
			i := cls.Inner(a.State)
			if p.complex {
				p.hc.Set(i, j, p.hc.At(i, j)+a.Coeff)
				continue
			}
			if i < j {
				continue
			}
			p.h.SetSym(i, j, p.h.At(i, j)+real(a.Coeff))
		}
	}
	p.status = computable.Prepared
	return nil
}

func (p *Part) compute() error {
	if err := computable.Require(p.status, computable.Prepared); err != nil {
		return errors.Wrap(err, "")
	}
	var err error
	if p.complex {
		p.values, p.cvectors, err = pmat.EigenHermitian(p.hc)
	} else {
		p.values, p.vectors, err = pmat.EigenSym(p.h)
	}
	if err != nil {
		return errors.Wrap(err, "")
	}
	p.h, p.hc = nil, nil
	p.status = computable.Computed
	return nil
}

// reduce drops the eigenstates above cutoff.
func (p *Part) reduce(cutoff float64) {
	n := 0
	for n < len(p.values) && p.values[n] <= cutoff {
		n++
	}
	if n == len(p.values) {
		return
	}
	p.values = p.values[:n]
	size := p.Size()
	if p.complex {
		v := mat.NewCDense(size, max(n, 1), nil)
		for i := 0; i < size; i++ {
			for j := 0; j < n; j++ {
				v.Set(i, j, p.cvectors.At(i, j))
			}
		}
		p.cvectors = v
		return
	}
	if n == 0 {
		p.vectors = mat.NewDense(size, 1, nil)
		return
	}
	p.vectors = mat.DenseCopyOf(p.vectors.Slice(0, size, 0, n))
}

func (p *Part) matrixFloats() []float64 {
	n := p.Size()
	f := make([]float64, 0, 2*n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if p.complex {
				v := p.hc.At(i, j)
				f = append(f, real(v), imag(v))
				continue
			}
			f = append(f, p.h.At(i, j))
		}
	}
	return f
}

func (p *Part) setMatrixFloats(f []float64) error {
	n := p.Size()
	if p.complex {
		if len(f) != 2*n*n {
			return errors.Errorf("%d, expected %d", len(f), 2*n*n)
		}
		p.hc = mat.NewCDense(n, n, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				k := 2 * (i*n + j)
				p.hc.Set(i, j, complex(f[k], f[k+1]))
			}
		}
	} else {
		if len(f) != n*n {
			return errors.Errorf("%d, expected %d", len(f), n*n)
		}
		p.h = mat.NewSymDense(n, f)
	}
	p.status = computable.Prepared
	return nil
}

// eigenFloats flattens the number of eigenvalues, the eigenvalues and then the eigenvectors row major.
func (p *Part) eigenFloats() []float64 {
	n, m := p.Size(), p.NumEigen()
	f := make([]float64, 0, 1+m+2*n*m)
	f = append(f, float64(m))
	f = append(f, p.values...)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if p.complex {
				v := p.cvectors.At(i, j)
				f = append(f, real(v), imag(v))
				continue
			}
			f = append(f, p.vectors.At(i, j))
		}
	}
	return f
}

func (p *Part) setEigenFloats(f []float64) error {
	if len(f) == 0 {
		return errors.Errorf("empty")
	}
	n, m := p.Size(), int(f[0])
	width := 1
	if p.complex {
		width = 2
	}
	if len(f) != 1+m+width*n*m {
		return errors.Errorf("%d, expected %d", len(f), 1+m+width*n*m)
	}
	p.values = slices.Clone(f[1 : 1+m])
	data := f[1+m:]
	if p.complex {
		p.cvectors = mat.NewCDense(n, max(m, 1), nil)
		for i := 0; i < n; i++ {
			for j := 0; j < m; j++ {
				k := 2 * (i*m + j)
				p.cvectors.Set(i, j, complex(data[k], data[k+1]))
			}
		}
	} else if m > 0 {
		p.vectors = mat.NewDense(n, m, slices.Clone(data))
	} else {
		p.vectors = mat.NewDense(n, 1, nil)
	}
	p.h, p.hc = nil, nil
	p.status = computable.Computed
	return nil
}
