package learning

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// WriteModel writes one parameter per line.
func WriteModel(w io.Writer, theta []float64) error {
	bw := bufio.NewWriter(w)
	for _, v := range theta {
		if _, err := bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func ReadModel(r io.Reader) ([]float64, error) {
	var theta []float64
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("model line %d: %w", lineNo, err)
		}
		theta = append(theta, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(theta) == 0 {
		return nil, fmt.Errorf("model has no parameters")
	}
	return theta, nil
}

func WriteModelFile(path string, theta []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteModel(f, theta); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func LoadModelFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadModel(f)
}

// alignTheta resizes theta to n parameters for a dataset with a different
// feature count. With a bias feature, the bias stays last.
func alignTheta(theta []float64, n int, hasBias bool) []float64 {
	out := make([]float64, n)
	k := min(len(theta), n)
	if hasBias {
		copy(out[:k-1], theta[:k-1])
		out[n-1] = theta[len(theta)-1]
	} else {
		copy(out, theta[:k])
	}
	log.Warn().Int("features", n).Int("parameters", len(theta)).Msg("aligned-parameters-to-dataset")
	return out
}
