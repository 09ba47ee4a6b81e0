// Package export converts recalled history into agentsdk-go request
// payloads. The processed window is flattened into a role-prefixed
// transcript for the prompt, and media parts become content blocks so
// binary payloads reach the model alongside the text.
package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/stellarlinkco/recallpipe/internal/history"
)

// Request assembles an agent request from a processed message window.
// agentsdk-go ignores Prompt when ContentBlocks are present, so when the
// window carries media the transcript rides as the leading text block
// and Prompt stays empty.
func Request(sessionID string, msgs []history.Message) api.Request {
	transcript := Transcript(msgs)
	blocks := Blocks(msgs)
	if len(blocks) > 0 && transcript != "" {
		merged := make([]model.ContentBlock, 0, len(blocks)+1)
		merged = append(merged, model.ContentBlock{Type: model.ContentBlockText, Text: transcript})
		merged = append(merged, blocks...)
		return api.Request{ContentBlocks: merged, SessionID: sessionID}
	}
	return api.Request{
		Prompt:        transcript,
		ContentBlocks: blocks,
		SessionID:     sessionID,
	}
}

// Transcript flattens a message window into role-prefixed lines, one
// message per line. Tool activity is rendered inline in a compact
// bracket notation; media parts leave a placeholder naming the payload
// that travels separately as a content block. Reasoning parts never
// appear in exported text.
func Transcript(msgs []history.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		body := renderBody(m)
		if body == "" {
			continue
		}
		lines = append(lines, string(m.Role)+": "+body)
	}
	return strings.Join(lines, "\n")
}

// Blocks collects the media payloads of a message window as content
// blocks, in message order. Images map to image blocks; audio travels
// as a document block since the SDK has no dedicated audio kind.
func Blocks(msgs []history.Message) []model.ContentBlock {
	var blocks []model.ContentBlock
	for _, m := range msgs {
		for _, p := range m.Parts {
			switch p.Kind {
			case history.PartImage:
				blocks = append(blocks, model.ContentBlock{
					Type:      model.ContentBlockImage,
					MediaType: p.MediaType,
					Data:      p.Data,
					URL:       p.URL,
				})
			case history.PartAudio:
				blocks = append(blocks, model.ContentBlock{
					Type:      model.ContentBlockDocument,
					MediaType: p.MediaType,
					Data:      p.Data,
					URL:       p.URL,
				})
			}
		}
	}
	return blocks
}

func renderBody(m history.Message) string {
	if m.IsPlainText() {
		return m.Text
	}
	fragments := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Kind {
		case history.PartText:
			if p.Text != "" {
				fragments = append(fragments, p.Text)
			}
		case history.PartToolCall:
			fragments = append(fragments, renderToolCall(p))
		case history.PartToolResult:
			fragments = append(fragments, "[result] "+p.Text)
		case history.PartImage:
			fragments = append(fragments, placeholder("image", p))
		case history.PartAudio:
			fragments = append(fragments, placeholder("audio", p))
		}
	}
	return strings.Join(fragments, "\n")
}

func renderToolCall(p history.Part) string {
	if len(p.Args) == 0 {
		return fmt.Sprintf("[tool %s]", p.ToolName)
	}
	args, err := json.Marshal(p.Args)
	if err != nil {
		return fmt.Sprintf("[tool %s]", p.ToolName)
	}
	return fmt.Sprintf("[tool %s %s]", p.ToolName, args)
}

func placeholder(kind string, p history.Part) string {
	switch {
	case p.MediaType != "":
		return fmt.Sprintf("[%s %s]", kind, p.MediaType)
	case p.URL != "":
		return fmt.Sprintf("[%s %s]", kind, p.URL)
	default:
		return "[" + kind + "]"
	}
}
