// Package history manages the append-only turn log AgentLoop feeds to the
// ModelClient and the pluggable processors that shrink it to fit a context
// window. The store and its processors are kept deliberately separate: the
// store never loses data, and a HistoryProcessor only computes a (possibly
// elided) view for the next request, following the usual split between
// storage and compaction for summarization.
package history

import (
	"fmt"
	"sync"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// Store is the append-only log of a single instance's turns.
type Store struct {
	mu    sync.RWMutex
	turns []swe.Turn
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Append adds a turn to the log.
func (s *Store) Append(turn swe.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
}

// DropLast removes the most recently appended turn, used when a parse or
// provider-transient failure means the turn never completed and must not be
// replayed to the model on retry.
func (s *Store) DropLast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) > 0 {
		s.turns = s.turns[:len(s.turns)-1]
	}
}

// Snapshot returns a copy of every turn recorded so far.
func (s *Store) Snapshot() []swe.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]swe.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len reports how many turns have been recorded.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Processor computes the view of history sent to the model for the next
// turn. Implementations must not mutate the input slice; AgentLoop always
// passes a fresh Store.Snapshot().
type Processor interface {
	Process(turns []swe.Turn) []swe.Turn
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(turns []swe.Turn) []swe.Turn

func (f ProcessorFunc) Process(turns []swe.Turn) []swe.Turn { return f(turns) }

// Identity returns history unchanged, the default when no compaction is
// configured.
func Identity() Processor {
	return ProcessorFunc(func(turns []swe.Turn) []swe.Turn { return turns })
}

// Compose chains processors left to right: the output of one becomes the
// input of the next.
func Compose(procs ...Processor) Processor {
	return ProcessorFunc(func(turns []swe.Turn) []swe.Turn {
		for _, p := range procs {
			turns = p.Process(turns)
		}
		return turns
	})
}

// elidedPlaceholder reports which tool's output was dropped and that the
// removal was a truncation, not an empty result, so the model isn't misled
// into thinking the command produced nothing.
func elidedPlaceholder(toolName string) string {
	if toolName == "" {
		toolName = "unknown"
	}
	return fmt.Sprintf("[observation from %q elided by history processor, output truncated]", toolName)
}

// ElideOlderObservations truncates tool observation output on all but the
// most recent KeepLast turns, optionally overridden per tool name via
// PerToolKeep (e.g. keeping more of a recent "search" output than a "cat"
// dump). This keeps the most recent content and drops from the tail
// backwards, but operates on individual observations instead of whole
// messages so a turn's
// Action/Thought text — needed by the model to stay coherent about what it
// already tried — is always preserved.
type ElideOlderObservations struct {
	KeepLast    int
	PerToolKeep map[string]int
}

func (e ElideOlderObservations) Process(turns []swe.Turn) []swe.Turn {
	keepLast := e.KeepLast
	if keepLast < 0 {
		keepLast = 0
	}
	out := make([]swe.Turn, len(turns))
	copy(out, turns)

	cutoff := len(out) - keepLast
	for i := range out {
		if out[i].Observation == nil {
			continue
		}
		keep := keepLast
		if e.PerToolKeep != nil && out[i].Action != nil {
			if n, ok := e.PerToolKeep[out[i].Action.Name]; ok {
				keep = n
			}
		}
		toolCutoff := len(out) - keep
		if i < cutoff && i < toolCutoff {
			name := ""
			if out[i].Action != nil {
				name = out[i].Action.Name
			}
			obs := *out[i].Observation
			obs.Output = []byte(elidedPlaceholder(name))
			obs.Truncated = true
			out[i].Observation = &obs
		}
	}
	return out
}

// DropLastTurn removes the final turn from the view, used on a retry after a
// ParseError or ProviderTransientError to avoid replaying a turn whose
// action never executed.
func DropLastTurn() Processor {
	return ProcessorFunc(func(turns []swe.Turn) []swe.Turn {
		if len(turns) == 0 {
			return turns
		}
		return turns[:len(turns)-1]
	})
}
