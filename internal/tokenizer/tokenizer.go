package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the encoding assumed by the default configuration.
// Processor logic never reads this; callers select an encoding by name
// when they assemble a pipeline.
const DefaultEncoding = "cl100k_base"

// Counter estimates the token cost of a text span. Implementations must
// be deterministic and safe for concurrent use; a failed count returns
// an error rather than a guess.
type Counter interface {
	Count(text string) (int, error)
}

// Encoding wraps a tiktoken encoding table loaded by name. Loading
// happens once at configuration time; Count itself performs no I/O.
type Encoding struct {
	name string
	tkm  *tiktoken.Tiktoken
}

// ForEncoding resolves a named encoding table. Unknown names are a
// configuration error.
func ForEncoding(name string) (*Encoding, error) {
	tkm, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", name, err)
	}
	return &Encoding{name: name, tkm: tkm}, nil
}

// Name returns the encoding table name this counter was loaded from.
func (e *Encoding) Name() string { return e.name }

// Count implements Counter.
func (e *Encoding) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return len(e.tkm.Encode(text, nil, nil)), nil
}

// HeuristicCounter approximates tokens from byte length without an
// encoding table. It errs toward overestimation so budgets are never
// silently exceeded, and serves offline use where loading a tiktoken
// table is unwanted.
type HeuristicCounter struct{}

// Count implements Counter.
func (HeuristicCounter) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n, nil
}
