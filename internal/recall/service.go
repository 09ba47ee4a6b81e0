// Package recall orchestrates history retrieval: it loads a session's
// transcript, threads it through the configured processing chain and
// reports window statistics alongside the processed messages.
package recall

import (
	"errors"
	"fmt"
	"log"

	"github.com/stellarlinkco/recallpipe/internal/history"
	"github.com/stellarlinkco/recallpipe/internal/pipeline"
	"github.com/stellarlinkco/recallpipe/internal/tokenizer"
)

// TranscriptSource loads a session's messages in chronological order.
type TranscriptSource interface {
	Messages(sessionID string) ([]history.Message, error)
}

// Stats describes one recall invocation.
type Stats struct {
	MessagesIn  int `json:"messages_in"`
	MessagesOut int `json:"messages_out"`
	Dropped     int `json:"dropped"`
	TokensOut   int `json:"tokens_out"`
}

// Service wires a transcript source to a processing chain.
type Service struct {
	source  TranscriptSource
	chain   *pipeline.Chain
	counter tokenizer.Counter
}

// NewService builds a recall service. The chain may be nil, in which
// case transcripts pass through unprocessed.
func NewService(source TranscriptSource, chain *pipeline.Chain, counter tokenizer.Counter) (*Service, error) {
	if source == nil {
		return nil, errors.New("recall: nil transcript source")
	}
	if counter == nil {
		return nil, errors.New("recall: nil counter")
	}
	return &Service{source: source, chain: chain, counter: counter}, nil
}

// Stages returns the diagnostic names of the configured chain stages.
func (s *Service) Stages() []string {
	return s.chain.Names()
}

// Recall loads the session transcript, applies the chain and returns
// the processed window with its statistics.
func (s *Service) Recall(sessionID string) ([]history.Message, Stats, error) {
	if sessionID == "" {
		return nil, Stats{}, errors.New("recall: empty session id")
	}

	msgs, err := s.source.Messages(sessionID)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("load session %q: %w", sessionID, err)
	}

	out, err := s.chain.Run(msgs)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("process session %q: %w", sessionID, err)
	}

	tokens, err := pipeline.SequenceCost(s.counter, out)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("estimate session %q: %w", sessionID, err)
	}

	stats := Stats{
		MessagesIn:  len(msgs),
		MessagesOut: len(out),
		Dropped:     len(msgs) - len(out),
		TokensOut:   tokens,
	}
	log.Printf("[recall] session %s: %d -> %d messages, ~%d tokens", sessionID, stats.MessagesIn, stats.MessagesOut, stats.TokensOut)
	return out, stats, nil
}
