package recall

import (
	"fmt"

	"github.com/stellarlinkco/recallpipe/internal/config"
	"github.com/stellarlinkco/recallpipe/internal/history"
	"github.com/stellarlinkco/recallpipe/internal/pipeline"
	"github.com/stellarlinkco/recallpipe/internal/tokenizer"
)

// BuildCounter resolves the configured encoding name to a token counter.
// The heuristic counter needs no vocabulary; any other name loads a
// tiktoken encoding table.
func BuildCounter(encoding string) (tokenizer.Counter, error) {
	if encoding == "" || encoding == "heuristic" {
		return tokenizer.HeuristicCounter{}, nil
	}
	return tokenizer.ForEncoding(encoding)
}

// BuildChain assembles the processing chain described by the stage
// configs, in order. A misconfigured stage fails the whole assembly;
// nothing runs with a partially built chain.
func BuildChain(stages []config.StageConfig, counter tokenizer.Counter) (*pipeline.Chain, error) {
	procs := make([]pipeline.Processor, 0, len(stages))
	for i, st := range stages {
		p, err := buildStage(st, counter)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, st.Type, err)
		}
		procs = append(procs, pipeline.Rename(p, st.Name))
	}
	return pipeline.NewChain(procs...), nil
}

func buildStage(st config.StageConfig, counter tokenizer.Counter) (pipeline.Processor, error) {
	switch st.Type {
	case "token_limit":
		return pipeline.NewTokenLimiter(st.TokenLimit, counter)
	case "tool_filter":
		return pipeline.NewToolCallFilter(st.Exclude...)
	case "media_filter":
		kinds := make([]history.PartKind, len(st.Kinds))
		for i, k := range st.Kinds {
			kinds[i] = history.PartKind(k)
		}
		return pipeline.NewMediaFilter(kinds...)
	case "reasoning_filter":
		return pipeline.NewReasoningFilter(), nil
	case "result_clamp":
		return pipeline.NewToolResultClamp(st.MaxBytes)
	default:
		return nil, fmt.Errorf("unknown stage type %q", st.Type)
	}
}
