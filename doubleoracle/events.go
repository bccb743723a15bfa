package doubleoracle

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type EventKind int

const (
	MaximizerCapReached EventKind = iota
	MinimizerCapReached
	// MinimizerSettled: the minimizer's best response cannot improve on the
	// current value.
	MinimizerSettled
	// MinimizerRepeated: the minimizer's best response is already in play.
	MinimizerRepeated
	MaximizerSettled
	MaximizerRepeated
	// BothSettled: two consecutive best responses, one per player, left the
	// restricted game unchanged. The mixed strategies are an equilibrium of
	// the full game.
	BothSettled
	MaximizerAdded
	MinimizerAdded
	// BackupOracle: the primary LP oracle failed and the solve restarts on
	// the backup.
	BackupOracle
)

var eventNames = [...]string{
	MaximizerCapReached: "maximizer-cap-reached",
	MinimizerCapReached: "minimizer-cap-reached",
	MinimizerSettled:    "minimizer-settled",
	MinimizerRepeated:   "minimizer-repeated",
	MaximizerSettled:    "maximizer-settled",
	MaximizerRepeated:   "maximizer-repeated",
	BothSettled:         "both-settled",
	MaximizerAdded:      "maximizer-added",
	MinimizerAdded:      "minimizer-added",
	BackupOracle:        "backup-oracle",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

func (k EventKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

// Terminal reports whether the solve loop stops on this event.
func (k EventKind) Terminal() bool {
	switch k {
	case MaximizerCapReached, MinimizerCapReached, BothSettled:
		return true
	}
	return false
}

// Event reports the progress of one solve.
type Event struct {
	Kind       EventKind `yaml:"kind"`
	Round      int       `yaml:"round"`
	Value      float64   `yaml:"value"`
	Maximizers int       `yaml:"maximizers"`
	Minimizers int       `yaml:"minimizers"`
	Oracle     string    `yaml:"oracle,omitempty"`
}

// Listener receives solve events. Listeners may be shared by solvers
// running on different goroutines.
type Listener func(Event)

// MultiListener fans an event out to every non-nil listener.
func MultiListener(ls ...Listener) Listener {
	return func(e Event) {
		for _, l := range ls {
			if l != nil {
				l(e)
			}
		}
	}
}

// LogListener writes events to logger at debug level.
func LogListener(logger zerolog.Logger) Listener {
	return func(e Event) {
		logger.Debug().
			Str("event", e.Kind.String()).
			Int("round", e.Round).
			Float64("value", e.Value).
			Int("maximizers", e.Maximizers).
			Int("minimizers", e.Minimizers).
			Str("oracle", e.Oracle).
			Msg("double-oracle")
	}
}

// YAMLTrace appends every event as an element of a YAML list.
type YAMLTrace struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

func NewYAMLTrace(w io.Writer) *YAMLTrace {
	return &YAMLTrace{w: w}
}

func (t *YAMLTrace) Listener() Listener {
	return func(e Event) {
		out, err := yaml.Marshal([]Event{e})
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.err != nil {
			return
		}
		if err != nil {
			t.err = err
			return
		}
		_, t.err = t.w.Write(out)
	}
}

// Err returns the first marshalling or write error, if any.
func (t *YAMLTrace) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
