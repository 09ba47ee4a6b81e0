package pipeline

import (
	"errors"
	"testing"

	"github.com/stellarlinkco/recallpipe/internal/history"
)

func TestSequenceCostSumsMessages(t *testing.T) {
	msgs := []history.Message{
		history.TextMessage(history.RoleUser, "hello"),
		history.TextMessage(history.RoleAssistant, "hi"),
		history.PartsMessage(history.RoleAssistant,
			history.TextPart("done"),
		),
	}
	// Each plain message costs 4+10, the parts message 4+4+10.
	got, err := SequenceCost(fixedCounter{per: 10}, msgs)
	if err != nil {
		t.Fatalf("SequenceCost: %v", err)
	}
	if want := 14 + 14 + 18; got != want {
		t.Fatalf("SequenceCost = %d, want %d", got, want)
	}
}

func TestSequenceCostEmpty(t *testing.T) {
	got, err := SequenceCost(fixedCounter{per: 10}, nil)
	if err != nil {
		t.Fatalf("SequenceCost: %v", err)
	}
	if got != 0 {
		t.Fatalf("SequenceCost = %d, want 0", got)
	}
}

func TestSequenceCostPropagatesCounterError(t *testing.T) {
	boom := errors.New("no such vocabulary")
	msgs := []history.Message{history.TextMessage(history.RoleUser, "hello")}
	if _, err := SequenceCost(failCounter{err: boom}, msgs); !errors.Is(err, boom) {
		t.Fatalf("SequenceCost error = %v, want %v", err, boom)
	}
}
