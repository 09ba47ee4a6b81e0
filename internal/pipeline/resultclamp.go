package pipeline

import (
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/stellarlinkco/recallpipe/internal/history"
)

// ToolResultClamp rewrites oversized tool-result payloads down to a byte
// budget. JSON payloads are replaced by a small envelope carrying a
// truncation marker and a clamped preview, so downstream consumers can
// tell a clamped result from a short one; other payloads are cut at the
// budget with a trailing marker. The clamp never drops parts or messages.
type ToolResultClamp struct {
	maxBytes int
}

// NewToolResultClamp constructs a clamp with the given payload budget in
// bytes. A non-positive budget is a configuration error.
func NewToolResultClamp(maxBytes int) (*ToolResultClamp, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("tool result clamp: non-positive byte budget %d", maxBytes)
	}
	return &ToolResultClamp{maxBytes: maxBytes}, nil
}

// Name implements Processor.
func (c *ToolResultClamp) Name() string { return "tool_result_clamp" }

// Process implements Processor.
func (c *ToolResultClamp) Process(msgs []history.Message) ([]history.Message, error) {
	out := make([]history.Message, 0, len(msgs))
	for _, m := range msgs {
		clone := history.CloneMessage(m)
		for i := range clone.Parts {
			p := &clone.Parts[i]
			if p.Kind != history.PartToolResult || len(p.Text) <= c.maxBytes {
				continue
			}
			p.Text = c.clamp(p.Text)
		}
		out = append(out, clone)
	}
	return out, nil
}

func (c *ToolResultClamp) clamp(text string) string {
	if gjson.Valid(text) {
		marker, err := sjson.Set(`{"truncated":true}`, "original_bytes", len(text))
		if err == nil {
			marker, err = sjson.Set(marker, "preview", clampUTF8(text, c.maxBytes))
		}
		if err == nil {
			return marker
		}
	}
	return clampUTF8(text, c.maxBytes) + "\n[truncated]"
}

// clampUTF8 cuts s to at most n bytes without splitting a rune.
func clampUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut
}
