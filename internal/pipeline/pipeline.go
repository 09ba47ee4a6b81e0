package pipeline

import (
	"fmt"

	"github.com/stellarlinkco/recallpipe/internal/history"
)

// Processor is a named, immutable transformation stage. Process returns
// a new message sequence and must never mutate its input or reorder the
// messages it keeps. Instances are configured once at assembly time and
// are safe for concurrent invocations.
type Processor interface {
	Name() string
	Process(msgs []history.Message) ([]history.Message, error)
}

// Run threads msgs through each processor in order, feeding each stage's
// output to the next. With no processors the input is returned unchanged.
// The first stage error aborts the run; nothing downstream sees a partial
// result.
func Run(msgs []history.Message, procs []Processor) ([]history.Message, error) {
	for _, p := range procs {
		out, err := p.Process(msgs)
		if err != nil {
			return nil, fmt.Errorf("processor %q: %w", p.Name(), err)
		}
		msgs = out
	}
	return msgs, nil
}

// Chain is an assembled processor list applied as a unit. The zero value
// runs no stages.
type Chain struct {
	procs []Processor
}

// NewChain builds a chain over the given stages in application order.
func NewChain(procs ...Processor) *Chain {
	return &Chain{procs: procs}
}

// Run applies every stage to msgs in order.
func (c *Chain) Run(msgs []history.Message) ([]history.Message, error) {
	if c == nil {
		return msgs, nil
	}
	return Run(msgs, c.procs)
}

// Len returns the number of configured stages.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.procs)
}

// Names returns the diagnostic names of the configured stages in order.
func (c *Chain) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.procs))
	for i, p := range c.procs {
		names[i] = p.Name()
	}
	return names
}

type named struct {
	Processor
	label string
}

func (n named) Name() string { return n.label }

// Rename wraps a processor under a caller-chosen diagnostic label. An
// empty label keeps the processor's own name.
func Rename(p Processor, label string) Processor {
	if label == "" {
		return p
	}
	return named{Processor: p, label: label}
}
