package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/ragcore/ragcore/pkg/provider/llm"
	llmmock "github.com/ragcore/ragcore/pkg/provider/llm/mock"
	"github.com/ragcore/ragcore/pkg/ragtypes"
)

func TestScore_ReturnsParsedScore(t *testing.T) {
	p := &llmmock.Provider{
		StructuredFunc: func(shape llm.Shape) (llm.StructuredResult, error) {
			return llm.StructuredResult{Shape: shape, Score: 0.82}, nil
		},
	}
	v := New(p)

	chunks := []ragtypes.ScoredChunk{{Chunk: ragtypes.Chunk{ID: 1, Text: "Raft elects a leader."}}}
	score, err := v.Score(context.Background(), "How does raft work?", "Raft elects a leader[1].", chunks)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 0.82 {
		t.Errorf("Score = %v, want 0.82", score)
	}
}

func TestScore_LLMErrorPropagates(t *testing.T) {
	p := &llmmock.Provider{
		StructuredFunc: func(llm.Shape) (llm.StructuredResult, error) {
			return llm.StructuredResult{}, errors.New("upstream down")
		},
	}
	v := New(p)

	_, err := v.Score(context.Background(), "q", "a", nil)
	if err == nil {
		t.Fatal("expected an error to propagate")
	}
}

func TestScore_NeverErrorsOnLowScore(t *testing.T) {
	p := &llmmock.Provider{
		StructuredFunc: func(shape llm.Shape) (llm.StructuredResult, error) {
			return llm.StructuredResult{Shape: shape, Score: 0.1}, nil
		},
	}
	v := New(p)

	score, err := v.Score(context.Background(), "q", "a", nil)
	if err != nil {
		t.Fatalf("Score should never error just because the score is low: %v", err)
	}
	if score >= DefaultThreshold {
		t.Fatalf("test setup invariant broken: score %v should be below threshold", score)
	}
}
