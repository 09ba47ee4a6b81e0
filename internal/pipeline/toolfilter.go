package pipeline

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/recallpipe/internal/history"
)

// ToolCallFilter removes tool-call parts and their paired results. With
// no exclusions every tool call and every tool result is removed; with a
// non-empty exclude set only the named tools' calls are removed, along
// with the results matched by call identifier. A result whose call is
// absent from the input is left in place untouched.
//
// Non-tool content is preserved, part and message order is preserved,
// and a message whose part list empties out is dropped from the output.
// Plain-text messages are never touched.
type ToolCallFilter struct {
	exclude map[string]bool
}

// NewToolCallFilter constructs a filter scoped to the named tools. With
// no names the filter removes all tool content. Blank tool names are a
// configuration error.
func NewToolCallFilter(exclude ...string) (*ToolCallFilter, error) {
	set := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("tool call filter: blank tool name in exclude set")
		}
		set[name] = true
	}
	return &ToolCallFilter{exclude: set}, nil
}

// Name implements Processor.
func (f *ToolCallFilter) Name() string { return "tool_call_filter" }

// Process implements Processor.
func (f *ToolCallFilter) Process(msgs []history.Message) ([]history.Message, error) {
	removeAll := len(f.exclude) == 0

	// Collect the identifiers of calls being removed so their results
	// go with them, wherever in the sequence they sit.
	removed := make(map[string]bool)
	if !removeAll {
		for _, m := range msgs {
			for _, p := range m.Parts {
				if p.Kind == history.PartToolCall && f.exclude[p.ToolName] {
					removed[p.CallID] = true
				}
			}
		}
	}

	return dropParts(msgs, func(p history.Part) bool {
		switch p.Kind {
		case history.PartToolCall:
			return removeAll || f.exclude[p.ToolName]
		case history.PartToolResult:
			return removeAll || removed[p.CallID]
		}
		return false
	}), nil
}
