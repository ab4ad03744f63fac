// Package mat provides sparse coordinate matrices with row and column views, and dense Hermitian eigensolvers.
package mat

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"math/cmplx"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type VRowCol struct {
	V   complex128
	Row int
	Col int
}

// COO is an immutable sparse matrix.
// Data is sorted row major, and a column major copy backs Col.
type COO struct {
	rows int
	cols int
	Data []VRowCol

	colMajor []VRowCol
	rowStart []int
	colStart []int
}

func M(dense [][]complex128) *COO {
	data := make([]VRowCol, 0)
	for i, row := range dense {
		for j, v := range row {
			if v == 0 {
				continue
			}
			data = append(data, VRowCol{V: v, Row: i, Col: j})
		}
	}
	cols := 0
	if len(dense) > 0 {
		cols = len(dense[0])
	}
	return NewCOO(len(dense), cols, data)
}

// NewCOO builds a matrix from entries, summing duplicates and dropping zeros.
func NewCOO(rows, cols int, data []VRowCol) *COO {
	m := &COO{rows: rows, cols: cols, Data: slices.Clone(data)}
	slices.SortFunc(m.Data, rowMajor)
	merged := m.Data[:0]
	for _, v := range m.Data {
		if n := len(merged); n > 0 && merged[n-1].Row == v.Row && merged[n-1].Col == v.Col {
			merged[n-1].V += v.V
			continue
		}
		merged = append(merged, v)
	}
	m.Data = slices.DeleteFunc(merged, func(v VRowCol) bool { return v.V == 0 })

	m.colMajor = slices.Clone(m.Data)
	slices.SortFunc(m.colMajor, colMajor)
	m.rowStart = starts(m.Data, rows, func(v VRowCol) int { return v.Row })
	m.colStart = starts(m.colMajor, cols, func(v VRowCol) int { return v.Col })
	return m
}

func COOZeros(rows, cols int) *COO {
	return NewCOO(rows, cols, nil)
}

func starts(data []VRowCol, n int, key func(VRowCol) int) []int {
	s := make([]int, n+1)
	for _, v := range data {
		s[key(v)+1]++
	}
	for i := 0; i < n; i++ {
		s[i+1] += s[i]
	}
	return s
}

func (m *COO) Rows() int       { return m.rows }
func (m *COO) Cols() int       { return m.cols }
func (m *COO) NumNonZero() int { return len(m.Data) }

// Row returns the nonzero entries of row i, ascending by column.
func (m *COO) Row(i int) []VRowCol {
	return m.Data[m.rowStart[i]:m.rowStart[i+1]]
}

// Col returns the nonzero entries of column j, ascending by row.
func (m *COO) Col(j int) []VRowCol {
	return m.colMajor[m.colStart[j]:m.colStart[j+1]]
}

func (m *COO) At(i, j int) complex128 {
	row := m.Row(i)
	k, ok := slices.BinarySearchFunc(row, j, func(v VRowCol, j int) int { return cmp.Compare(v.Col, j) })
	if !ok {
		return 0
	}
	return row[k].V
}

func (m *COO) IsComplex() bool {
	for _, v := range m.Data {
		if imag(v.V) != 0 {
			return true
		}
	}
	return false
}

func (m *COO) Transpose() *COO {
	data := make([]VRowCol, 0, len(m.Data))
	for _, v := range m.Data {
		data = append(data, VRowCol{V: v.V, Row: v.Col, Col: v.Row})
	}
	return NewCOO(m.cols, m.rows, data)
}

// Prune drops entries with magnitude below tol.
func (m *COO) Prune(tol float64) *COO {
	data := slices.DeleteFunc(slices.Clone(m.Data), func(v VRowCol) bool { return cmplx.Abs(v.V) < tol })
	return NewCOO(m.rows, m.cols, data)
}

func (a *COO) Equal(b *COO) bool {
	if a.rows != b.rows {
		return false
	}
	if a.cols != b.cols {
		return false
	}
	if len(a.Data) != len(b.Data) {
		return false
	}
	for i, av := range a.Data {
		bv := b.Data[i]
		if av != bv {
			return false
		}
	}
	return true
}

// Floats flattens m as rows, cols, then (re, im, row, col) per entry.
func (m *COO) Floats() []float64 {
	f := make([]float64, 0, 2+4*len(m.Data))
	f = append(f, float64(m.rows), float64(m.cols))
	for _, v := range m.Data {
		f = append(f, real(v.V), imag(v.V), float64(v.Row), float64(v.Col))
	}
	return f
}

func COOFromFloats(f []float64) (*COO, error) {
	if len(f) < 2 || (len(f)-2)%4 != 0 {
		return nil, errors.Errorf("%d", len(f))
	}
	data := make([]VRowCol, 0, (len(f)-2)/4)
	for k := 2; k < len(f); k += 4 {
		data = append(data, VRowCol{V: complex(f[k], f[k+1]), Row: int(f[k+2]), Col: int(f[k+3])})
	}
	return NewCOO(int(f[0]), int(f[1]), data), nil
}

// WriteCSV writes the shape as the first record, then one (row, col, value) record per entry.
func (m *COO) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{strconv.Itoa(m.rows), strconv.Itoa(m.cols)}); err != nil {
		return errors.Wrap(err, "")
	}
	for _, v := range m.Data {
		if err := cw.Write([]string{strconv.Itoa(v.Row), strconv.Itoa(v.Col), FormatNumpy(v.V)}); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%#v", v))
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func (m *COO) WriteFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err1 := m.WriteCSV(f); err1 != nil && err == nil {
		err = errors.Wrap(err1, path)
	}
	if err1 := f.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

// ReadCSV parses the output of WriteCSV.
func ReadCSV(r io.Reader) (*COO, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	shape, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "shape")
	}
	dims, err := atois(shape, 2)
	if err != nil {
		return nil, errors.Wrap(err, "shape")
	}

	var data []VRowCol
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if len(record) != 3 {
			return nil, errors.Errorf("%#v", record)
		}
		rc, err := atois(record[:2], 2)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", record))
		}
		v, err := ParseNumpy(record[2])
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", record))
		}
		if rc[0] < 0 || rc[0] >= dims[0] || rc[1] < 0 || rc[1] >= dims[1] {
			return nil, errors.Errorf("%#v outside %v", record, dims)
		}
		data = append(data, VRowCol{V: v, Row: rc[0], Col: rc[1]})
	}
	return NewCOO(dims[0], dims[1], data), nil
}

func ReadFile(path string) (*COO, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer f.Close()
	m, err := ReadCSV(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return m, nil
}

func atois(record []string, n int) ([]int, error) {
	if len(record) != n {
		return nil, errors.Errorf("%d fields, expected %d", len(record), n)
	}
	x := make([]int, n)
	for i, s := range record {
		var err error
		if x[i], err = strconv.Atoi(s); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return x, nil
}

func (m *COO) String() string {
	lines := []string{}
	for i := 0; i < m.rows; i++ {
		cs := []string{}
		for j := 0; j < m.cols; j++ {
			v := m.At(i, j)
			switch {
			case imag(v) == 0:
				cs = append(cs, format(real(v)))
			case real(v) == 0:
				cs = append(cs, format(imag(v))+"i")
			default:
				cs = append(cs, format(real(v))+"+"+format(imag(v))+"i")
			}
		}
		l := strings.Join(cs, "\t")
		lines = append(lines, l)
	}

	return strings.Join(lines, "\n")
}

func format(v float64) string {
	// Print 0 and -0 alike.
	if v == 0 {
		return " 0"
	}

	s := strconv.FormatFloat(v, 'g', 6, 64)

	// Pad non-negative numbers to align with negative ones.
	if v >= 0 {
		s = " " + s
	}

	return s
}

// FormatNumpy formats v the way numpy parses complex numbers.
func FormatNumpy(v complex128) string {
	switch {
	case imag(v) == 0:
		return strconv.FormatFloat(real(v), 'g', -1, 64)
	default:
		s := strconv.FormatComplex(v, 'g', -1, 128)
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
		s = strings.ReplaceAll(s, "i", "j")
		return s
	}
}

// ParseNumpy is the inverse of FormatNumpy.
func ParseNumpy(s string) (complex128, error) {
	v, err := strconv.ParseComplex(strings.ReplaceAll(s, "j", "i"), 128)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	return v, nil
}

func rowMajor(a, b VRowCol) int {
	if c := cmp.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	return cmp.Compare(a.Col, b.Col)
}

func colMajor(a, b VRowCol) int {
	if c := cmp.Compare(a.Col, b.Col); c != 0 {
		return c
	}
	return cmp.Compare(a.Row, b.Row)
}

