package pipeline

import (
	"github.com/stellarlinkco/recallpipe/internal/history"
	"github.com/stellarlinkco/recallpipe/internal/tokenizer"
)

// Per-unit structural overhead added on top of counted text. Media parts
// carry part-specific estimates instead of counted text: an image costs
// roughly an attachment regardless of resolution, audio and redacted
// payloads scale with their base64 length.
const (
	messageOverhead = 4
	partOverhead    = 4
	imageTokens     = 1600
)

// MessageCost estimates the token cost of one message: counted text via
// the counter plus structural overhead and media estimates. Counter
// failures are returned unchanged.
func MessageCost(counter tokenizer.Counter, m history.Message) (int, error) {
	total := messageOverhead
	if m.IsPlainText() {
		n, err := counter.Count(m.Text)
		if err != nil {
			return 0, err
		}
		return total + n, nil
	}
	for _, p := range m.Parts {
		cost, err := partCost(counter, p)
		if err != nil {
			return 0, err
		}
		total += cost
	}
	return total, nil
}

// SequenceCost estimates the total token cost of a message sequence.
func SequenceCost(counter tokenizer.Counter, msgs []history.Message) (int, error) {
	total := 0
	for _, m := range msgs {
		cost, err := MessageCost(counter, m)
		if err != nil {
			return 0, err
		}
		total += cost
	}
	return total, nil
}

func partCost(counter tokenizer.Counter, p history.Part) (int, error) {
	switch p.Kind {
	case history.PartText, history.PartReasoning, history.PartToolResult:
		n, err := counter.Count(p.Text)
		if err != nil {
			return 0, err
		}
		return partOverhead + n, nil
	case history.PartToolCall:
		n, err := counter.Count(p.ToolName)
		if err != nil {
			return 0, err
		}
		args, err := argsCost(counter, p.Args)
		if err != nil {
			return 0, err
		}
		return partOverhead + n + args, nil
	case history.PartImage:
		return partOverhead + imageTokens, nil
	case history.PartAudio:
		return partOverhead + len(p.Data)/6 + 500, nil
	case history.PartRedactedReasoning:
		return partOverhead + len(p.Data)/4, nil
	default:
		return partOverhead, nil
	}
}

func argsCost(counter tokenizer.Counter, args map[string]any) (int, error) {
	total := 0
	for k, v := range args {
		n, err := counter.Count(k)
		if err != nil {
			return 0, err
		}
		total += n
		if s, ok := v.(string); ok {
			n, err := counter.Count(s)
			if err != nil {
				return 0, err
			}
			total += n
			continue
		}
		total++
	}
	return total, nil
}
