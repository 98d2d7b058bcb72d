package synthesize

import (
	"context"
	"errors"
	"testing"

	"github.com/ragcore/ragcore/pkg/provider/llm"
	llmmock "github.com/ragcore/ragcore/pkg/provider/llm/mock"
	"github.com/ragcore/ragcore/pkg/ragtypes"
)

func sampleChunks() []ragtypes.ScoredChunk {
	return []ragtypes.ScoredChunk{
		{Chunk: ragtypes.Chunk{ID: 101, Text: "Raft uses leader election.", Source: "raft-paper.pdf"}},
		{Chunk: ragtypes.Chunk{ID: 102, Text: "Log replication ensures consistency.", Source: "raft-notes.md"}},
	}
}

func TestDirect_ExtractsReferencesInCitationOrder(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Raft elects a leader[2] and replicates logs[1] for consistency.",
	}}
	s := New(p)

	ans, err := s.Direct(context.Background(), "How does raft work?", sampleChunks())
	if err != nil {
		t.Fatalf("Direct: %v", err)
	}
	if len(ans.References) != 2 {
		t.Fatalf("got %d references, want 2", len(ans.References))
	}
	// Citation order is [2] then [1], so references must list chunk 102
	// before chunk 101.
	if ans.References[0].ChunkID != 102 || ans.References[1].ChunkID != 101 {
		t.Errorf("reference order = %+v, want [102, 101]", ans.References)
	}
}

func TestDirect_DedupsRepeatedCitations(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Leader election[1] is central. Re-affirmed again[1].",
	}}
	s := New(p)

	ans, err := s.Direct(context.Background(), "q", sampleChunks())
	if err != nil {
		t.Fatalf("Direct: %v", err)
	}
	if len(ans.References) != 1 {
		t.Errorf("got %d references, want 1 (deduped)", len(ans.References))
	}
}

func TestDirect_IgnoresOutOfRangeCitations(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "This cites a nonexistent excerpt[99] and a real one[1].",
	}}
	s := New(p)

	ans, err := s.Direct(context.Background(), "q", sampleChunks())
	if err != nil {
		t.Fatalf("Direct: %v", err)
	}
	if len(ans.References) != 1 || ans.References[0].ChunkID != 101 {
		t.Errorf("references = %+v, want only chunk 101", ans.References)
	}
}

func TestDirect_NoChunksReturnsFixedRefusalWithoutLLMCall(t *testing.T) {
	p := &llmmock.Provider{}
	s := New(p)

	ans, err := s.Direct(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Direct: %v", err)
	}
	if ans.Text != NoContextRefusal {
		t.Errorf("Text = %q, want fixed refusal", ans.Text)
	}
	if p.CallCount() != 0 {
		t.Errorf("expected no LLM calls for empty chunk set, got %d", p.CallCount())
	}
}

func TestAmplified_CarriesSubquestionTrace(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Combined answer[1]."}}
	s := New(p)

	subs := []ragtypes.SubAnswer{{Question: "What is leader election?", Answer: "A raft mechanism."}}
	ans, err := s.Amplified(context.Background(), "How does raft work?", sampleChunks(), subs)
	if err != nil {
		t.Fatalf("Amplified: %v", err)
	}
	if len(ans.Subquestions) != 1 || ans.Subquestions[0].Question != subs[0].Question {
		t.Errorf("Subquestions = %+v, want %+v", ans.Subquestions, subs)
	}
}

func TestSynthesize_LLMErrorPropagates(t *testing.T) {
	p := &llmmock.Provider{CompleteErr: errors.New("upstream down")}
	s := New(p)

	_, err := s.Direct(context.Background(), "q", sampleChunks())
	if err == nil {
		t.Fatal("expected an error to propagate")
	}
}
