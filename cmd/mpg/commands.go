package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/domino14/mpg/config"
	"github.com/domino14/mpg/dataset"
	"github.com/domino14/mpg/doubleoracle"
	"github.com/domino14/mpg/learning"
	"github.com/domino14/mpg/objective"
	"github.com/domino14/mpg/pool"
	"github.com/domino14/mpg/target/binary"
)

// common holds the flags every command shares.
type common struct {
	configPath  string
	measure     string
	targetClass float64
	debug       bool
	cpuProfile  string
	trace       string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML config file")
	fs.StringVar(&c.measure, "measure", "f1", fmt.Sprintf("performance measure %v", binary.Names()))
	fs.Float64Var(&c.targetClass, "target", 1, "label of the positive class")
	fs.BoolVar(&c.debug, "debug", false, "debug logging")
	fs.StringVar(&c.cpuProfile, "cpuprofile", "", "write a CPU profile here")
	fs.StringVar(&c.trace, "trace", "", "append double-oracle events to this YAML file")
}

// session is what a command needs once its flags are parsed.
type session struct {
	cfg        config.Config
	logger     zerolog.Logger
	pool       *pool.Pool
	classifier *learning.BinaryClassifier
	summary    *solveSummary
	closers    []func() error
}

func (c *common) open(ctx context.Context) (context.Context, *session, error) {
	overrides := map[string]any{}
	if c.debug {
		overrides[config.ConfigDebug] = true
	}
	if c.trace != "" {
		overrides[config.ConfigTraceFile] = c.trace
	}
	cfg, err := config.Load(c.configPath, overrides)
	if err != nil {
		return ctx, nil, err
	}
	logger := setupLogging(cfg)
	ctx = logger.WithContext(ctx)
	logger.Debug().Interface("config", cfg).Msg("loaded-config")

	s := &session{cfg: cfg, logger: logger, pool: pool.New(cfg.Parallelism)}
	s.classifier, err = learning.NewBinaryClassifier(c.measure, c.targetClass, cfg, s.pool)
	if err != nil {
		s.close()
		return ctx, nil, err
	}
	s.summary = newSolveSummary()
	listeners := []doubleoracle.Listener{s.summary.Listener(), doubleoracle.LogListener(logger)}
	if cfg.TraceFile != "" {
		f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			s.close()
			return ctx, nil, err
		}
		trace := doubleoracle.NewYAMLTrace(f)
		listeners = append(listeners, trace.Listener())
		s.closers = append(s.closers, trace.Err, f.Close)
	}
	s.classifier.Listener = doubleoracle.MultiListener(listeners...)
	return ctx, s, nil
}

func (s *session) close() error {
	s.pool.Close()
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func (s *session) load(path string) (*dataset.Dataset, error) {
	return dataset.Load(path, dataset.Options{Bias: s.cfg.BiasFeatureValue})
}

type regFlags struct {
	l1, l2 float64
}

func (r *regFlags) register(fs *flag.FlagSet) {
	fs.Float64Var(&r.l1, "l1", 0, "L1 regularization weight")
	fs.Float64Var(&r.l2, "l2", 0, "L2 regularization weight")
}

func (r *regFlags) regularization() (objective.Regularization, error) {
	switch {
	case r.l1 != 0 && r.l2 != 0:
		return objective.Regularization{}, errors.New("-l1 and -l2 are mutually exclusive")
	case r.l1 != 0:
		return objective.L1(r.l1), nil
	}
	return objective.L2(r.l2), nil
}

func (s *session) train(ctx context.Context, path string, reg objective.Regularization) error {
	d, err := s.load(path)
	if err != nil {
		return err
	}
	p := message.NewPrinter(language.English)
	s.logger.Info().Str("data", path).
		Str("instances", p.Sprintf("%d", d.Len())).
		Int("features", d.NumFeatures).
		Str("regularization", reg.String()).Msg("training")
	s.classifier.Callback = func(iter int, theta []float64) {
		s.logger.Debug().Int("iteration", iter).Floats64("theta", theta).Msg("optimizer-iteration")
	}
	converged, err := s.classifier.Learn(ctx, d, reg)
	if err != nil {
		return err
	}
	if !converged {
		s.logger.Warn().Msg("optimizer-did-not-converge")
	}
	return nil
}

func (s *session) predict(ctx context.Context, path string) error {
	d, err := s.load(path)
	if err != nil {
		return err
	}
	pred, err := s.classifier.Predict(ctx, d)
	if err != nil {
		return err
	}
	fmt.Printf("score: %v\n", pred)
	fmt.Printf("predicted: %s\n", pred.Labeling)
	fmt.Printf("gold:      %s\n", pred.Gold)
	return nil
}

func runTrain(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	var c common
	var r regFlags
	c.register(fs)
	r.register(fs)
	data := fs.String("data", "", "training data")
	model := fs.String("model", "", "write the model here")
	fs.Parse(args)
	if *data == "" || *model == "" {
		return errors.New("train needs -data and -model")
	}
	reg, err := r.regularization()
	if err != nil {
		return err
	}
	stopProfile, err := startProfile(c.cpuProfile)
	if err != nil {
		return err
	}
	defer stopProfile()

	ctx, s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.close()) }()

	if err := s.train(ctx, *data, reg); err != nil {
		return err
	}
	if err := s.classifier.WriteModel(*model); err != nil {
		return err
	}
	log.Info().Str("model", *model).Msg("model-written")
	s.summary.Print(os.Stdout)
	return nil
}

func runPredict(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	var c common
	c.register(fs)
	data := fs.String("data", "", "data to predict")
	model := fs.String("model", "", "model file")
	fs.Parse(args)
	if *data == "" || *model == "" {
		return errors.New("predict needs -data and -model")
	}

	ctx, s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.close()) }()

	if err := s.classifier.LoadModel(*model); err != nil {
		return err
	}
	return s.predict(ctx, *data)
}

func runEval(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	var c common
	var r regFlags
	c.register(fs)
	r.register(fs)
	train := fs.String("train", "", "training data")
	test := fs.String("test", "", "held-out data")
	model := fs.String("model", "", "optionally write the model here")
	fs.Parse(args)
	if *train == "" || *test == "" {
		return errors.New("eval needs -train and -test")
	}
	reg, err := r.regularization()
	if err != nil {
		return err
	}
	stopProfile, err := startProfile(c.cpuProfile)
	if err != nil {
		return err
	}
	defer stopProfile()

	ctx, s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.close()) }()

	if err := s.train(ctx, *train, reg); err != nil {
		return err
	}
	if *model != "" {
		if err := s.classifier.WriteModel(*model); err != nil {
			return err
		}
	}
	if err := s.predict(ctx, *test); err != nil {
		return err
	}
	s.summary.Print(os.Stdout)
	return nil
}
