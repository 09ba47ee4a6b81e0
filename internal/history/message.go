package history

// Role identifies the author of a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartKind discriminates the kind of content in a Part.
type PartKind string

const (
	PartText              PartKind = "text"
	PartToolCall          PartKind = "tool_call"
	PartToolResult        PartKind = "tool_result"
	PartAudio             PartKind = "audio"
	PartImage             PartKind = "image"
	PartReasoning         PartKind = "reasoning"
	PartRedactedReasoning PartKind = "redacted_reasoning"
)

// Part is a single typed unit of content within a message. Only the
// fields for its Kind are populated.
type Part struct {
	Kind PartKind `json:"kind"`

	// Text carries the payload for text, tool_result and reasoning parts.
	Text string `json:"text,omitempty"`

	// ToolName and CallID link a tool_call to its tool_result. A
	// tool_result carries only the CallID of the call it answers.
	ToolName string         `json:"tool_name,omitempty"`
	CallID   string         `json:"call_id,omitempty"`
	Args     map[string]any `json:"args,omitempty"`

	// MediaType and Data carry audio and image payloads (base64), and
	// the opaque payload of redacted_reasoning parts.
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Message is a single recalled conversational turn. Content is either a
// plain-text payload in Text or an ordered sequence of typed Parts; a
// message with nil Parts is a plain-text message. Messages have no
// identity of their own beyond their position in the sequence.
type Message struct {
	Role  Role   `json:"role"`
	Text  string `json:"text,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// IsPlainText reports whether the message carries its content as a
// single text payload rather than typed parts.
func (m Message) IsPlainText() bool {
	return m.Parts == nil
}

// Empty reports whether the message carries no content at all.
func (m Message) Empty() bool {
	return m.Text == "" && len(m.Parts) == 0
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// ToolCallPart builds a tool invocation part.
func ToolCallPart(toolName, callID string, args map[string]any) Part {
	return Part{Kind: PartToolCall, ToolName: toolName, CallID: callID, Args: args}
}

// ToolResultPart builds the result part answering a tool call.
func ToolResultPart(callID, text string) Part {
	return Part{Kind: PartToolResult, CallID: callID, Text: text}
}

// AudioPart builds an audio part from a media type and base64 payload.
func AudioPart(mediaType, data string) Part {
	return Part{Kind: PartAudio, MediaType: mediaType, Data: data}
}

// ImagePart builds an image part from a media type and base64 payload.
func ImagePart(mediaType, data string) Part {
	return Part{Kind: PartImage, MediaType: mediaType, Data: data}
}

// ReasoningPart builds a reasoning-trace part.
func ReasoningPart(text string) Part {
	return Part{Kind: PartReasoning, Text: text}
}

// RedactedReasoningPart builds a redacted reasoning part from an opaque
// provider payload.
func RedactedReasoningPart(data string) Part {
	return Part{Kind: PartRedactedReasoning, Data: data}
}

// TextMessage builds a plain-text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Text: text}
}

// PartsMessage builds a message from typed parts.
func PartsMessage(role Role, parts ...Part) Message {
	return Message{Role: role, Parts: parts}
}

// CloneMessage performs a deep clone of a message, duplicating parts and
// nested argument maps so callers can never observe mutation through a
// shared reference.
func CloneMessage(msg Message) Message {
	return Message{Role: msg.Role, Text: msg.Text, Parts: CloneParts(msg.Parts)}
}

// CloneMessages clones an entire message sequence.
func CloneMessages(msgs []Message) []Message {
	if len(msgs) == 0 {
		return []Message{}
	}
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		out[i] = CloneMessage(msg)
	}
	return out
}

// ClonePart deep-copies a single part.
func ClonePart(p Part) Part {
	clone := p
	clone.Args = cloneArgs(p.Args)
	return clone
}

// CloneParts deep-copies a part slice, preserving nil for plain-text
// messages.
func CloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = ClonePart(p)
	}
	return out
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	dup := make(map[string]any, len(args))
	for k, v := range args {
		dup[k] = v
	}
	return dup
}

// CallIDs returns the call identifiers of every tool_call part in the
// sequence, in encounter order.
func CallIDs(msgs []Message) []string {
	ids := make([]string, 0)
	for _, m := range msgs {
		for _, p := range m.Parts {
			if p.Kind == PartToolCall {
				ids = append(ids, p.CallID)
			}
		}
	}
	return ids
}
