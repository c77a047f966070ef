// Package svmlight reads and writes the sparse-vector text format used by
// SVM-Light, LIBSVM and the gtsvm toolchain, and decodes the toolchain's
// prediction files.
//
// One sample per line: an integer label followed by index:value pairs with
// 1-based, strictly increasing indices. Zero values are not written.
package svmlight

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Feature is one non-zero entry of a sparse row. Index is 1-based.
type Feature struct {
	Index int
	Value float64
}

// sparseRower is implemented by matrices that can list the non-zero entries
// of a row without scanning every column.
type sparseRower interface {
	SparseRow(i int) []Feature
}

// Sparse is a row-major sparse matrix. It implements mat.Matrix so it can be
// passed wherever a dense gonum matrix is accepted.
type Sparse struct {
	rows [][]Feature
	cols int
}

// NewSparse builds a matrix from rows of features sorted by index. The column
// count is the largest index seen.
func NewSparse(rows [][]Feature) *Sparse {
	s := &Sparse{rows: rows}
	for _, row := range rows {
		if n := len(row); n > 0 && row[n-1].Index > s.cols {
			s.cols = row[n-1].Index
		}
	}
	return s
}

func (s *Sparse) Dims() (r, c int) {
	return len(s.rows), s.cols
}

// At returns the value at zero-based row i and column j.
func (s *Sparse) At(i, j int) float64 {
	row := s.rows[i]
	k := sort.Search(len(row), func(k int) bool { return row[k].Index >= j+1 })
	if k < len(row) && row[k].Index == j+1 {
		return row[k].Value
	}
	return 0
}

func (s *Sparse) T() mat.Matrix {
	return mat.Transpose{Matrix: s}
}

func (s *Sparse) SparseRow(i int) []Feature {
	return s.rows[i]
}

// Subset returns the rows at the given positions, sharing storage.
func (s *Sparse) Subset(idx []int) *Sparse {
	rows := make([][]Feature, len(idx))
	for k, i := range idx {
		rows[k] = s.rows[i]
	}
	return &Sparse{rows: rows, cols: s.cols}
}

// Rows adapts a list of dense rows to mat.Matrix. Rows may differ in length;
// missing trailing entries read as zero.
type Rows [][]float64

func (r Rows) Dims() (int, int) {
	cols := 0
	for _, row := range r {
		if len(row) > cols {
			cols = len(row)
		}
	}
	return len(r), cols
}

func (r Rows) At(i, j int) float64 {
	if j < len(r[i]) {
		return r[i][j]
	}
	return 0
}

func (r Rows) T() mat.Matrix {
	return mat.Transpose{Matrix: r}
}

func (r Rows) SparseRow(i int) []Feature {
	return denseRow(r[i])
}

func denseRow(values []float64) []Feature {
	var row []Feature
	for j, v := range values {
		if v != 0 {
			row = append(row, Feature{Index: j + 1, Value: v})
		}
	}
	return row
}

// RowFeatures returns the non-zero entries of row i of any matrix.
func RowFeatures(x mat.Matrix, i int) []Feature {
	if s, ok := x.(sparseRower); ok {
		return s.SparseRow(i)
	}
	_, c := x.Dims()
	var row []Feature
	for j := 0; j < c; j++ {
		if v := x.At(i, j); v != 0 {
			row = append(row, Feature{Index: j + 1, Value: v})
		}
	}
	return row
}

// SubsetRows selects rows of any matrix. Sparse inputs stay sparse; others
// are copied into a Sparse.
func SubsetRows(x mat.Matrix, idx []int) *Sparse {
	if s, ok := x.(*Sparse); ok {
		return s.Subset(idx)
	}
	_, c := x.Dims()
	rows := make([][]Feature, len(idx))
	for k, i := range idx {
		rows[k] = RowFeatures(x, i)
	}
	return &Sparse{rows: rows, cols: c}
}
