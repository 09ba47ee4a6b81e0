package pipeline

import (
	"errors"
	"fmt"

	"github.com/stellarlinkco/recallpipe/internal/history"
	"github.com/stellarlinkco/recallpipe/internal/tokenizer"
)

// TokenLimiter bounds the total estimated token count of a sequence,
// dropping the oldest messages first. Inclusion is whole-message: the
// walk from newest to oldest stops at the first message that would
// overflow the limit, so the output is always a contiguous suffix of the
// input. The sole exception is a newest message that alone exceeds a
// positive limit; it is kept rather than emptying the window.
type TokenLimiter struct {
	limit   int
	counter tokenizer.Counter
}

// NewTokenLimiter constructs a limiter for the given budget. A negative
// limit or nil counter is a configuration error. A zero limit is
// accepted and yields an empty sequence on every invocation.
func NewTokenLimiter(limit int, counter tokenizer.Counter) (*TokenLimiter, error) {
	if limit < 0 {
		return nil, fmt.Errorf("token limiter: negative limit %d", limit)
	}
	if counter == nil {
		return nil, errors.New("token limiter: nil counter")
	}
	return &TokenLimiter{limit: limit, counter: counter}, nil
}

// Name implements Processor.
func (l *TokenLimiter) Name() string { return "token_limit" }

// Process implements Processor.
func (l *TokenLimiter) Process(msgs []history.Message) ([]history.Message, error) {
	if l.limit == 0 || len(msgs) == 0 {
		return []history.Message{}, nil
	}

	tokens := 0
	kept := make([]history.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		cost, err := MessageCost(l.counter, msgs[i])
		if err != nil {
			return nil, err
		}
		if tokens+cost > l.limit {
			if len(kept) == 0 {
				kept = append(kept, history.CloneMessage(msgs[i]))
			}
			break
		}
		kept = append(kept, history.CloneMessage(msgs[i]))
		tokens += cost
	}

	// Restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept, nil
}

// Cost returns the estimated token cost of a single message under this
// limiter's counter. Exposed for callers that report budget statistics.
func (l *TokenLimiter) Cost(m history.Message) (int, error) {
	return MessageCost(l.counter, m)
}
