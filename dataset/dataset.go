// Package dataset reads sparse classification data: one instance per line,
// a label followed by 1-based index:value pairs in increasing index order.
// Blank lines and lines starting with # are skipped.
//
//	+1 1:0.5 3:1.25
//	-1 2:1
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrEmpty         = errors.New("dataset has no instances")
	ErrNoTargetClass = errors.New("dataset has no instance of the target class")
)

type Feature struct {
	// Index is 0-based.
	Index int
	Value float64
}

type Options struct {
	// Bias is appended to every row as one extra last feature when it is
	// not negative.
	Bias float64
	// Encoding is "utf8" (the default, BOM tolerated) or "iso-8859-1".
	Encoding string
}

type Dataset struct {
	Labels []float64
	Rows   [][]Feature
	// NumFeatures counts the bias feature, if any.
	NumFeatures int
	Bias        float64
}

func (d *Dataset) Len() int { return len(d.Labels) }

func (d *Dataset) HasBias() bool { return d.Bias >= 0 }

func decoder(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(encoding) {
	case "", "utf8", "utf-8":
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	case "iso-8859-1", "latin1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", encoding)
}

func Read(r io.Reader, opts Options) (*Dataset, error) {
	r, err := decoder(r, opts.Encoding)
	if err != nil {
		return nil, err
	}
	d := &Dataset{Bias: opts.Bias}
	maxIndex := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		label, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad label %q: %w", lineNo, fields[0], err)
		}
		row := make([]Feature, 0, len(fields))
		last := 0
		for _, f := range fields[1:] {
			idx, val, ok := strings.Cut(f, ":")
			if !ok {
				return nil, fmt.Errorf("line %d: feature %q is not index:value", lineNo, f)
			}
			i, err := strconv.Atoi(idx)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad index %q: %w", lineNo, idx, err)
			}
			if i <= last {
				return nil, fmt.Errorf("line %d: index %d must be positive and increasing", lineNo, i)
			}
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad value %q: %w", lineNo, val, err)
			}
			last = i
			if v != 0 {
				row = append(row, Feature{Index: i - 1, Value: v})
			}
		}
		maxIndex = max(maxIndex, last)
		d.Labels = append(d.Labels, label)
		d.Rows = append(d.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(d.Labels) == 0 {
		return nil, ErrEmpty
	}
	d.NumFeatures = maxIndex
	if d.HasBias() {
		for i := range d.Rows {
			d.Rows[i] = append(d.Rows[i], Feature{Index: maxIndex, Value: d.Bias})
		}
		d.NumFeatures++
	}
	log.Debug().Int("instances", d.Len()).Int("features", d.NumFeatures).
		Bool("bias", d.HasBias()).Msg("dataset-read")
	return d, nil
}

func Load(path string, opts Options) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Binarize maps labels equal to class to 1 and every other label to 0.
func (d *Dataset) Binarize(class float64) ([]float64, error) {
	tags := make([]float64, d.Len())
	found := false
	for i, l := range d.Labels {
		if l == class {
			tags[i] = 1
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %v", ErrNoTargetClass, class)
	}
	return tags, nil
}

// Dense returns the Len() x NumFeatures feature matrix.
func (d *Dataset) Dense() *mat.Dense {
	m := mat.NewDense(d.Len(), d.NumFeatures, nil)
	for i, row := range d.Rows {
		for _, f := range row {
			m.Set(i, f.Index, f.Value)
		}
	}
	return m
}
