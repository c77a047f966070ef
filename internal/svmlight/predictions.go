package svmlight

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// DecodeBinaryScores reads one decision value per line.
func DecodeBinaryScores(r io.Reader) ([]float64, error) {
	scanner := bufio.NewScanner(r)
	var (
		scores []float64
		lineNo int
	)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid score %q", lineNo, line)
		}
		scores = append(scores, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scores: %w", err)
	}
	return scores, nil
}

// DecodeMulticlassScores reads one comma-separated row of per-class decision
// values per line. Every row must have the same number of classes.
func DecodeMulticlassScores(r io.Reader) ([][]float64, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	var scores [][]float64
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read scores: %w", err)
		}

		row := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				line, _ := reader.FieldPos(j)
				return nil, fmt.Errorf("line %d: invalid score %q", line, field)
			}
			row[j] = v
		}
		scores = append(scores, row)
	}
	return scores, nil
}

// BinaryLabels rounds each score half to even (2.6 -> 3, -0.5 -> 0,
// 1.5 -> 2) and truncates it to an int.
func BinaryLabels(scores []float64) []int {
	labels := make([]int, len(scores))
	for i, s := range scores {
		labels[i] = int(math.RoundToEven(s))
	}
	return labels
}

// MulticlassLabels picks the column of the largest score in each row. Ties go
// to the lowest index.
func MulticlassLabels(scores [][]float64) ([]int, error) {
	labels := make([]int, len(scores))
	for i, row := range scores {
		if len(row) == 0 {
			return nil, fmt.Errorf("row %d has no scores", i)
		}
		labels[i] = floats.MaxIdx(row)
	}
	return labels, nil
}

// ReadLabels decodes a prediction file into labels for the given mode.
func ReadLabels(path string, multiclass bool) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if multiclass {
		scores, err := DecodeMulticlassScores(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return MulticlassLabels(scores)
	}

	scores, err := DecodeBinaryScores(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return BinaryLabels(scores), nil
}

// DetectMode reports whether a prediction stream holds more than one score
// per row, which is how multiclass models write their output.
func DetectMode(r io.Reader) (multiclass bool, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			return strings.Contains(line, ","), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("failed to read scores: %w", err)
	}
	return false, nil
}
