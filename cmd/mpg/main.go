package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/domino14/mpg/config"
)

var GitVersion string

func usage(w io.Writer) {
	io.WriteString(w, "usage: mpg <command> [flags]\n\n")
	io.WriteString(w, "commands:\n")
	io.WriteString(w, "train   -data <file> -model <out> - learn parameters and write the model\n")
	io.WriteString(w, "predict -data <file> -model <in>  - predict a dataset with a saved model\n")
	io.WriteString(w, "eval    -train <file> -test <file> - train, then predict the held-out file\n")
	io.WriteString(w, "version\n\n")
	io.WriteString(w, "run `mpg <command> -h` for the flags of a command\n")
}

func setupLogging(cfg config.Config) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	log.Logger = logger
	return logger
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	var run func(ctx context.Context, args []string) error
	switch os.Args[1] {
	case "train":
		run = runTrain
	case "predict":
		run = runPredict
	case "eval":
		run = runEval
	case "version":
		fmt.Println(GitVersion)
		return
	case "-h", "--help", "help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[2:]); err != nil {
		log.Error().Err(err).Msg("mpg-failed")
		stop()
		os.Exit(1)
	}
}

func startProfile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}
