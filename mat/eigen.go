package mat

import (
	"cmp"
	"math"
	"math/cmplx"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EigenSym diagonalizes a real symmetric matrix.
// Eigenvalues are ascending and the columns of the returned matrix are the eigenvectors.
func EigenSym(a *mat.SymDense) ([]float64, *mat.Dense, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(a, true); !ok {
		return nil, nil, errors.Errorf("factorize failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	return vals, &vecs, nil
}

// EigenHermitian diagonalizes a complex Hermitian matrix through its real symmetric embedding
// [[Re A, -Im A], [Im A, Re A]], whose spectrum is that of A with every eigenvalue doubled.
// Eigenvectors of a degenerate group are orthonormalized with a pivoted complex Gram-Schmidt.
func EigenHermitian(a *mat.CDense) ([]float64, *mat.CDense, error) {
	n, c := a.Dims()
	if n != c {
		return nil, nil, errors.Errorf("%d %d", n, c)
	}
	embed := mat.NewSymDense(2*n, nil)
	scale := 1.0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := a.At(i, j)
			embed.SetSym(i, j, real(v))
			embed.SetSym(n+i, n+j, real(v))
			embed.SetSym(i, n+j, -imag(v))
			embed.SetSym(j, n+i, imag(v))
			scale = math.Max(scale, cmplx.Abs(v))
		}
	}
	vals, vecs, err := EigenSym(embed)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}

	type valVec struct {
		val float64
		vec []complex128
	}
	found := make([]valVec, 0, n)
	tol := 1e-9 * scale
	for start := 0; start < len(vals); {
		end := start + 1
		for end < len(vals) && vals[end]-vals[start] < tol {
			end++
		}

		candidates := make([][]complex128, 0, end-start)
		for k := start; k < end; k++ {
			v := make([]complex128, n)
			for i := range v {
				v[i] = complex(vecs.At(i, k), vecs.At(n+i, k))
			}
			candidates = append(candidates, v)
		}
		for _, v := range orthonormalize(candidates) {
			found = append(found, valVec{val: rayleigh(a, v), vec: v})
		}
		start = end
	}
	if len(found) != n {
		return nil, nil, errors.Errorf("%d eigenvectors for dimension %d", len(found), n)
	}
	slices.SortStableFunc(found, func(x, y valVec) int { return cmp.Compare(x.val, y.val) })

	values := make([]float64, n)
	vectors := mat.NewCDense(n, n, nil)
	for k, vv := range found {
		values[k] = vv.val
		for i, x := range vv.vec {
			vectors.Set(i, k, x)
		}
	}
	return values, vectors, nil
}

// orthonormalize picks a complex orthonormal basis of the span of candidates.
func orthonormalize(candidates [][]complex128) [][]complex128 {
	const minResidual = 1e-6
	var basis [][]complex128
	for len(candidates) > 0 {
		best, bestNorm := -1, minResidual
		for k, v := range candidates {
			if nv := norm2(v); nv > bestNorm {
				best, bestNorm = k, nv
			}
		}
		if best < 0 {
			break
		}
		q := candidates[best]
		s := complex(1/math.Sqrt(bestNorm), 0)
		for i := range q {
			q[i] *= s
		}
		basis = append(basis, q)
		candidates = slices.Delete(candidates, best, best+1)
		for _, v := range candidates {
			p := dot(q, v)
			for i := range v {
				v[i] -= p * q[i]
			}
		}
	}
	return basis
}

func dot(x, y []complex128) complex128 {
	var s complex128
	for i := range x {
		s += cmplx.Conj(x[i]) * y[i]
	}
	return s
}

func norm2(x []complex128) float64 {
	return real(dot(x, x))
}

func rayleigh(a *mat.CDense, v []complex128) float64 {
	var s complex128
	for i := range v {
		var av complex128
		for j := range v {
			av += a.At(i, j) * v[j]
		}
		s += cmplx.Conj(v[i]) * av
	}
	return real(s)
}
