package learning

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/domino14/mpg/config"
	"github.com/domino14/mpg/dataset"
	"github.com/domino14/mpg/doubleoracle"
	"github.com/domino14/mpg/objective"
	"github.com/domino14/mpg/pool"
	"github.com/domino14/mpg/target/binary"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	os.Exit(m.Run())
}

const train = `1 1:1.0 2:0.2
1 1:0.8 2:-0.1
1 1:1.2 2:0.4
1 1:0.9 2:0.1
0 1:-1.0 2:0.3
0 1:-0.7 2:-0.2
0 1:-1.1 2:0.0
0 1:-0.9 2:0.5
`

// test has a third feature the model never saw.
const test = `1 1:1.1 2:0.0 3:2
1 1:0.7 2:0.3
0 1:-0.8 2:0.1
0 1:-1.2 2:-0.3 3:1
`

func read(t *testing.T, data string, cfg config.Config) *dataset.Dataset {
	t.Helper()
	d, err := dataset.Read(strings.NewReader(data), dataset.Options{Bias: cfg.BiasFeatureValue})
	require.NoError(t, err)
	return d
}

func TestAlignTheta(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 3, 4, 0, 0, 0, 0, 5}, alignTheta([]float64{1, 2, 3, 4, 5}, 9, true))
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 0, 0, 0, 0}, alignTheta([]float64{1, 2, 3, 4, 5}, 9, false))
	desc := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	assert.Equal(t, []float64{10, 9, 8, 7, 6, 1}, alignTheta(desc, 6, true))
	assert.Equal(t, []float64{10, 9, 8, 7, 6, 5}, alignTheta(desc, 6, false))
}

func TestModelRoundTrip(t *testing.T) {
	is := is.New(t)
	theta := []float64{0.1, -2.5e-7, 3, 0}
	var buf bytes.Buffer
	is.NoErr(WriteModel(&buf, theta))
	is.Equal(buf.String(), "0.1\n-2.5e-07\n3\n0\n")
	got, err := ReadModel(&buf)
	is.NoErr(err)
	is.Equal(got, theta)

	path := filepath.Join(t.TempDir(), "model.txt")
	is.NoErr(WriteModelFile(path, theta))
	got, err = LoadModelFile(path)
	is.NoErr(err)
	is.Equal(got, theta)

	_, err = ReadModel(strings.NewReader("1\nfoo\n"))
	is.True(err != nil)
	_, err = ReadModel(strings.NewReader("\n"))
	is.True(err != nil)
}

func TestPredictionString(t *testing.T) {
	is := is.New(t)
	p := Prediction[binaryKey]{Score: 0.5, Probability: 0.25}
	is.Equal(p.String(), "0.5(25%)")
}

type binaryKey string

func (b binaryKey) Key() string { return string(b) }

func TestLogisticWeights(t *testing.T) {
	is := is.New(t)
	cfg := config.DefaultConfig()
	d := read(t, train, cfg)
	tags, err := d.Binarize(1)
	is.NoErr(err)

	w := logisticWeights(d.Dense(), tags, objective.L2(0.1), 1e-6)
	is.Equal(len(w), 3)
	is.True(w[0] > 0)

	scores := mat.NewVecDense(d.Len(), nil)
	scores.MulVec(d.Dense(), mat.NewVecDense(3, w))
	for i, tag := range tags {
		is.Equal(scores.AtVec(i) > 0, tag == 1)
	}

	l1 := logisticWeights(d.Dense(), tags, objective.L1(0.1), 1e-6)
	is.Equal(len(l1), 3)

	is.Equal(logisticWeights(d.Dense(), tags, objective.L2(0), 1e-6), []float64{0, 0, 0})
}

func newClassifier(t *testing.T, measure string, cfg config.Config) *BinaryClassifier {
	t.Helper()
	p := pool.New(2)
	t.Cleanup(p.Close)
	c, err := NewBinaryClassifier(measure, 1, cfg, p)
	require.NoError(t, err)
	return c
}

func TestLearnAndPredict(t *testing.T) {
	for _, measure := range []string{"f1", "precision@k"} {
		t.Run(measure, func(t *testing.T) {
			is := is.New(t)
			ctx := context.Background()
			cfg := config.DefaultConfig()
			cfg.LBFGSMaxIterations = 30
			c := newClassifier(t, measure, cfg)

			events := 0
			c.Listener = func(doubleoracle.Event) { events++ }
			iterations := 0
			c.Callback = func(int, []float64) { iterations++ }

			d := read(t, train, cfg)
			_, err := c.Learn(ctx, d, objective.L2(0.1))
			is.NoErr(err)
			is.Equal(len(c.Theta()), 3)
			is.True(events > 0)
			is.True(c.Stats().Solves > 0)

			pred, err := c.Predict(ctx, d)
			is.NoErr(err)
			is.Equal(pred.Labeling.Len(), 8)
			is.Equal(pred.Gold.String(), "11110000")
			is.True(pred.Probability > 0 && pred.Probability <= 1)
			is.True(pred.Score >= 0 && pred.Score <= 1)

			pred, err = c.Predict(ctx, read(t, test, cfg))
			is.NoErr(err)
			is.Equal(pred.Labeling.Len(), 4)
			is.Equal(pred.Gold.String(), "1100")
		})
	}
}

func TestUnregularizedRecoversGold(t *testing.T) {
	for _, measure := range []string{"f1", "precision@k"} {
		t.Run(measure, func(t *testing.T) {
			is := is.New(t)
			ctx := context.Background()
			cfg := config.DefaultConfig()
			cfg.LBFGSMaxIterations = 50
			c := newClassifier(t, measure, cfg)

			d := read(t, train, cfg)
			_, err := c.Learn(ctx, d, objective.L2(0))
			is.NoErr(err)

			pred, err := c.Predict(ctx, d)
			is.NoErr(err)
			is.Equal(pred.Gold.String(), "11110000")
			// Every predicted positive is a gold positive.
			is.Equal(pred.Labeling.IntersectionCount(pred.Gold), pred.Labeling.Count())
			if measure == "f1" {
				is.Equal(pred.Labeling.String(), pred.Gold.String())
				is.Equal(pred.Score, 1.0)
			}
		})
	}
}

func TestLearnWarmStart(t *testing.T) {
	is := is.New(t)
	cfg := config.DefaultConfig()
	cfg.LearnInitialTheta = true
	cfg.LBFGSMaxIterations = 10
	c := newClassifier(t, "f1", cfg)
	_, err := c.Learn(context.Background(), read(t, train, cfg), objective.L2(0.1))
	is.NoErr(err)
	is.Equal(len(c.Theta()), 3)
}

func TestLearnFeatureWise(t *testing.T) {
	is := is.New(t)
	cfg := config.DefaultConfig()
	cfg.Optimizer = "adadelta"
	cfg.AdaDeltaIterations = 5
	c := newClassifier(t, "f1", cfg)
	d := read(t, train, cfg)
	_, err := c.LearnFeatureWise(context.Background(), d, objective.FeatureWiseL2([]float64{0.1, 0.2, 0}))
	is.NoErr(err)

	_, err = c.LearnFeatureWise(context.Background(), d, objective.FeatureWiseL2([]float64{0.1}))
	is.True(err != nil)
}

func TestClassifierErrors(t *testing.T) {
	is := is.New(t)
	cfg := config.DefaultConfig()
	p := pool.New(1)
	defer p.Close()

	_, err := NewBinaryClassifier("accuracy", 1, cfg, p)
	is.True(errors.Is(err, binary.ErrUnknownMeasure))

	bad := cfg
	bad.LPSolver = "gurobi"
	_, err = NewBinaryClassifier("f1", 1, bad, p)
	is.True(err != nil)

	c := newClassifier(t, "f1", cfg)
	_, err = c.Predict(context.Background(), read(t, train, cfg))
	is.True(errors.Is(err, ErrNoModel))
	is.True(errors.Is(c.WriteModel(filepath.Join(t.TempDir(), "m")), ErrNoModel))

	c2, err := NewBinaryClassifier("f1", 7, cfg, p)
	is.NoErr(err)
	_, err = c2.Learn(context.Background(), read(t, train, cfg), objective.L2(1))
	is.True(errors.Is(err, dataset.ErrNoTargetClass))
}

func TestModelFileThroughClassifier(t *testing.T) {
	is := is.New(t)
	cfg := config.DefaultConfig()
	c := newClassifier(t, "f1", cfg)
	c.SetTheta([]float64{1, 0.5, -0.2})
	path := filepath.Join(t.TempDir(), "model.txt")
	is.NoErr(c.WriteModel(path))

	loaded := newClassifier(t, "f1", cfg)
	is.NoErr(loaded.LoadModel(path))
	is.Equal(loaded.Theta(), []float64{1, 0.5, -0.2})

	pred, err := loaded.Predict(context.Background(), read(t, train, cfg))
	is.NoErr(err)
	is.Equal(pred.Index, 0)
}
