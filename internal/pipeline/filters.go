package pipeline

import (
	"fmt"

	"github.com/stellarlinkco/recallpipe/internal/history"
)

// dropParts rebuilds the sequence without the parts drop selects,
// pruning any message whose content empties out. Plain-text messages
// pass through cloned and untouched; kept messages are deep copies.
func dropParts(msgs []history.Message, drop func(history.Part) bool) []history.Message {
	out := make([]history.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsPlainText() {
			out = append(out, history.CloneMessage(m))
			continue
		}
		parts := make([]history.Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			if drop(p) {
				continue
			}
			parts = append(parts, history.ClonePart(p))
		}
		if len(parts) == 0 && m.Text == "" {
			continue
		}
		out = append(out, history.Message{Role: m.Role, Text: m.Text, Parts: parts})
	}
	return out
}

// MediaFilter strips media parts that the downstream model cannot accept.
// It only ever removes audio and image parts; tool and reasoning content
// belongs to the dedicated filters.
type MediaFilter struct {
	kinds map[history.PartKind]bool
}

// NewMediaFilter constructs a filter over the given media kinds. With no
// kinds both audio and image parts are stripped. Kinds other than audio
// and image are a configuration error.
func NewMediaFilter(kinds ...history.PartKind) (*MediaFilter, error) {
	if len(kinds) == 0 {
		kinds = []history.PartKind{history.PartAudio, history.PartImage}
	}
	set := make(map[history.PartKind]bool, len(kinds))
	for _, k := range kinds {
		if k != history.PartAudio && k != history.PartImage {
			return nil, fmt.Errorf("media filter: unsupported kind %q", k)
		}
		set[k] = true
	}
	return &MediaFilter{kinds: set}, nil
}

// Name implements Processor.
func (f *MediaFilter) Name() string { return "media_filter" }

// Process implements Processor.
func (f *MediaFilter) Process(msgs []history.Message) ([]history.Message, error) {
	return dropParts(msgs, func(p history.Part) bool {
		return f.kinds[p.Kind]
	}), nil
}

// ReasoningFilter strips reasoning and redacted-reasoning parts so
// intermediate traces never re-enter a model context.
type ReasoningFilter struct{}

// NewReasoningFilter constructs the filter.
func NewReasoningFilter() *ReasoningFilter { return &ReasoningFilter{} }

// Name implements Processor.
func (f *ReasoningFilter) Name() string { return "reasoning_filter" }

// Process implements Processor.
func (f *ReasoningFilter) Process(msgs []history.Message) ([]history.Message, error) {
	return dropParts(msgs, func(p history.Part) bool {
		return p.Kind == history.PartReasoning || p.Kind == history.PartRedactedReasoning
	}), nil
}
