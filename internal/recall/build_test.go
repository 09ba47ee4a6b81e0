package recall

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stellarlinkco/recallpipe/internal/config"
	"github.com/stellarlinkco/recallpipe/internal/tokenizer"
)

func TestBuildCounterHeuristic(t *testing.T) {
	for _, name := range []string{"", "heuristic"} {
		counter, err := BuildCounter(name)
		if err != nil {
			t.Fatalf("BuildCounter(%q): %v", name, err)
		}
		if _, ok := counter.(tokenizer.HeuristicCounter); !ok {
			t.Fatalf("BuildCounter(%q) = %T, want HeuristicCounter", name, counter)
		}
	}
}

func TestBuildCounterUnknownEncoding(t *testing.T) {
	if _, err := BuildCounter("not-a-real-encoding"); err == nil {
		t.Fatal("BuildCounter accepted an unknown encoding name")
	}
}

func TestBuildChainAssemblesStages(t *testing.T) {
	stages := []config.StageConfig{
		{Type: "tool_filter", Exclude: []string{"search"}},
		{Type: "media_filter", Kinds: []string{"audio"}},
		{Type: "reasoning_filter"},
		{Type: "result_clamp", MaxBytes: 64},
		{Type: "token_limit", TokenLimit: 100},
	}
	chain, err := BuildChain(stages, tokenizer.HeuristicCounter{})
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	want := []string{"tool_call_filter", "media_filter", "reasoning_filter", "tool_result_clamp", "token_limit"}
	if got := chain.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("chain names = %v, want %v", got, want)
	}
}

func TestBuildChainAppliesStageNames(t *testing.T) {
	stages := []config.StageConfig{
		{Type: "token_limit", TokenLimit: 100, Name: "window"},
		{Type: "reasoning_filter"},
	}
	chain, err := BuildChain(stages, tokenizer.HeuristicCounter{})
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	want := []string{"window", "reasoning_filter"}
	if got := chain.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("chain names = %v, want %v", got, want)
	}
}

func TestBuildChainUnknownType(t *testing.T) {
	_, err := BuildChain([]config.StageConfig{{Type: "summarize"}}, tokenizer.HeuristicCounter{})
	if err == nil {
		t.Fatal("BuildChain accepted an unknown stage type")
	}
	if !strings.Contains(err.Error(), "unknown stage type") {
		t.Fatalf("error = %v", err)
	}
}

func TestBuildChainRejectsBadStageConfig(t *testing.T) {
	cases := []struct {
		name   string
		stages []config.StageConfig
	}{
		{"negative token limit", []config.StageConfig{{Type: "token_limit", TokenLimit: -1}}},
		{"blank exclude name", []config.StageConfig{{Type: "tool_filter", Exclude: []string{" "}}}},
		{"bad media kind", []config.StageConfig{{Type: "media_filter", Kinds: []string{"text"}}}},
		{"zero clamp budget", []config.StageConfig{{Type: "result_clamp"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := BuildChain(tc.stages, tokenizer.HeuristicCounter{}); err == nil {
				t.Fatal("BuildChain accepted a misconfigured stage")
			}
		})
	}
}

func TestBuildChainEmpty(t *testing.T) {
	chain, err := BuildChain(nil, tokenizer.HeuristicCounter{})
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	if chain.Len() != 0 {
		t.Fatalf("chain len = %d, want 0", chain.Len())
	}
}
