package svmlight

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// maxLineBytes matches the line buffer of the toolchain's own reader.
const maxLineBytes = 1 << 24

// Encode writes one line per row of x with the matching label from y.
func Encode(w io.Writer, x mat.Matrix, y []int) error {
	r, _ := x.Dims()
	if len(y) != r {
		return fmt.Errorf("label count %d does not match row count %d", len(y), r)
	}

	bw := bufio.NewWriter(w)
	for i := 0; i < r; i++ {
		bw.WriteString(strconv.Itoa(y[i]))
		for _, f := range RowFeatures(x, i) {
			if math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
				return fmt.Errorf("row %d feature %d: value %v is not finite", i, f.Index, f.Value)
			}
			bw.WriteByte(' ')
			bw.WriteString(strconv.Itoa(f.Index))
			bw.WriteByte(':')
			bw.WriteString(FormatValue(f.Value))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// EncodeFile writes x and y to path, replacing any existing file.
func EncodeFile(path string, x mat.Matrix, y []int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	if err := Encode(f, x, y); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// FormatValue renders v with the fewest digits that parse back to v. The
// toolchain rejects a '+' in exponents, so "1e+20" is written "1e20".
func FormatValue(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'g', -1, 64), "e+", "e", 1)
}

// Decode reads a dataset. Blank lines and '#' comments are skipped, as are
// "qid:" tokens. Zero values are dropped.
func Decode(r io.Reader) (*Sparse, []int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		rows   [][]Feature
		labels []int
		lineNo int
	)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if k := strings.IndexByte(line, '#'); k >= 0 {
			line = line[:k]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		label, err := parseLabel(fields[0])
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		row, err := parseFeatures(fields[1:])
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		labels = append(labels, label)
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	return NewSparse(rows), labels, nil
}

// DecodeFile reads the dataset at path.
func DecodeFile(path string) (*Sparse, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	x, y, err := Decode(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return x, y, nil
}

func parseLabel(token string) (int, error) {
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid label %q", token)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid label %q", token)
	}
	return int(math.Round(v)), nil
}

func parseFeatures(tokens []string) ([]Feature, error) {
	var (
		row  []Feature
		last int
	)
	for _, token := range tokens {
		if strings.HasPrefix(token, "qid:") {
			continue
		}
		idxStr, valStr, ok := strings.Cut(token, ":")
		if !ok {
			return nil, fmt.Errorf("malformed feature %q", token)
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, fmt.Errorf("malformed feature index %q", token)
		}
		if idx < 1 {
			return nil, fmt.Errorf("feature index %d is not 1-based", idx)
		}
		if idx <= last {
			return nil, fmt.Errorf("feature indices must increase: %d after %d", idx, last)
		}
		last = idx

		val, err := strconv.ParseFloat(valStr, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed feature value %q", token)
		}
		if val != 0 {
			row = append(row, Feature{Index: idx, Value: val})
		}
	}
	return row, nil
}
