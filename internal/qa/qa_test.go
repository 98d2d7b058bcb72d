package qa

import (
	"context"
	"testing"

	"github.com/ragcore/ragcore/internal/config"
	"github.com/ragcore/ragcore/pkg/provider/llm"
	embeddermock "github.com/ragcore/ragcore/pkg/provider/embedder/mock"
	llmmock "github.com/ragcore/ragcore/pkg/provider/llm/mock"
	"github.com/ragcore/ragcore/pkg/ragtypes"
	storemock "github.com/ragcore/ragcore/pkg/store/mock"
)

func testConfig() config.Config {
	return config.Config{
		Pipeline: config.PipelineConfig{
			EnableMemory:                   true,
			MemorySimilarityThreshold:      0.90,
			EnableChunkClassification:      true,
			EnableSubquestionAmplification: true,
			EnableAnswerVerification:       true,
			VerificationThreshold:          0.7,
			MaxSubquestions:                4,
			AmplificationMinContextLength:  1 << 30, // effectively disabled unless a test opts in
			ClassifyConcurrency:            4,
			SubquestionConcurrency:         2,
			MinKeepChunks:                  2,
		},
		LLM: config.LLMConfig{MaxInflight: 4},
	}
}

func yesForAll(p *llmmock.Provider) {
	p.StructuredFunc = func(shape llm.Shape) (llm.StructuredResult, error) {
		switch shape {
		case llm.ShapeYesNo:
			return llm.StructuredResult{Shape: shape, Bool: true}, nil
		case llm.ShapeScore01:
			return llm.StructuredResult{Shape: shape, Score: 0.95}, nil
		default:
			return llm.StructuredResult{Shape: shape}, nil
		}
	}
	p.CompleteResponse = &llm.CompletionResponse{Content: "The answer is found in the context [1]."}
}

func seedOneChunk(st *storemock.Store, qvec []float32) {
	st.SeedChunk(ragtypes.Chunk{ID: 1, Text: "raft is a consensus algorithm", Source: "doc-1"}, qvec, nil)
}

// S1: an exact memory hit answers without any embed or LLM call.
func TestAnswer_ExactMemoryHit_NoEmbedOrLLMCalls(t *testing.T) {
	st := storemock.New()
	embed := &embeddermock.Provider{}
	llmP := &llmmock.Provider{}
	p := New(embed, llmP, st, testConfig())

	seedOneChunk(st, []float32{1, 0})
	_, _, err := p.memory.Insert(context.Background(), ragtypes.MemoryEntry{
		Text: "what is raft", Embedding: []float32{1, 0}, Answer: "Raft is a consensus protocol.", ChunkIDs: []int64{1},
	})
	if err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	resp, err := p.Answer(context.Background(), Request{Query: "  What IS raft "})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !resp.FromMemory {
		t.Error("expected FromMemory=true")
	}
	if resp.Answer != "Raft is a consensus protocol." {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if embed.CallCount() != 0 {
		t.Errorf("expected 0 embed calls on exact hit, got %d", embed.CallCount())
	}
	if llmP.CallCount() != 0 {
		t.Errorf("expected 0 LLM calls on exact hit, got %d", llmP.CallCount())
	}
}

// S2: a semantic memory hit embeds exactly once but makes no classifier,
// planner, synthesis, or verifier calls.
func TestAnswer_SemanticMemoryHit_EmbedsOnceNoOtherLLMCalls(t *testing.T) {
	st := storemock.New()
	embed := &embeddermock.Provider{EmbedFunc: func(string) ([]float32, error) { return []float32{0.99, 0.14}, nil }}
	llmP := &llmmock.Provider{}
	p := New(embed, llmP, st, testConfig())

	seedOneChunk(st, []float32{1, 0})
	_, _, err := p.memory.Insert(context.Background(), ragtypes.MemoryEntry{
		Text: "what is raft consensus", Embedding: []float32{1, 0}, Answer: "Raft is a consensus protocol.", ChunkIDs: []int64{1},
	})
	if err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	resp, err := p.Answer(context.Background(), Request{Query: "please explain the raft consensus algorithm"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !resp.FromMemory {
		t.Error("expected FromMemory=true")
	}
	if embed.CallCount() != 1 {
		t.Errorf("expected exactly 1 embed call, got %d", embed.CallCount())
	}
	if llmP.CallCount() != 0 {
		t.Errorf("expected 0 LLM calls on semantic hit, got %d", llmP.CallCount())
	}
}

// S3: a full miss runs retrieval, classification, synthesis and
// verification, producing a grounded answer with references.
func TestAnswer_FullMiss_RunsWholePipeline(t *testing.T) {
	st := storemock.New()
	embed := &embeddermock.Provider{EmbedFunc: func(string) ([]float32, error) { return []float32{1, 0}, nil }}
	llmP := &llmmock.Provider{}
	yesForAll(llmP)
	p := New(embed, llmP, st, testConfig())

	seedOneChunk(st, []float32{1, 0})

	resp, err := p.Answer(context.Background(), Request{Query: "what is raft"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.FromMemory {
		t.Error("expected FromMemory=false")
	}
	if resp.Answer == "" {
		t.Error("expected a synthesized answer")
	}
	if len(resp.References) != 1 || resp.References[0].ChunkID != 1 {
		t.Errorf("References = %+v, want one reference to chunk 1", resp.References)
	}
	if resp.VerificationScore == nil || *resp.VerificationScore != 0.95 {
		t.Errorf("VerificationScore = %+v, want 0.95", resp.VerificationScore)
	}
	if resp.LowConfidence {
		t.Error("expected LowConfidence=false for a score above the threshold")
	}
	if resp.MemoryID == 0 {
		t.Error("expected the miss to persist a new memory entry")
	}
}

// TestAnswer_ScoreBelowThreshold_MarksLowConfidence exercises spec.md
// §4.10: a verification score below VERIFICATION_THRESHOLD marks the
// response LowConfidence without suppressing or altering the answer.
func TestAnswer_ScoreBelowThreshold_MarksLowConfidence(t *testing.T) {
	st := storemock.New()
	embed := &embeddermock.Provider{EmbedFunc: func(string) ([]float32, error) { return []float32{1, 0}, nil }}
	llmP := &llmmock.Provider{}
	yesForAll(llmP)
	llmP.StructuredFunc = func(shape llm.Shape) (llm.StructuredResult, error) {
		switch shape {
		case llm.ShapeYesNo:
			return llm.StructuredResult{Shape: shape, Bool: true}, nil
		case llm.ShapeScore01:
			return llm.StructuredResult{Shape: shape, Score: 0.3}, nil
		default:
			return llm.StructuredResult{Shape: shape}, nil
		}
	}
	p := New(embed, llmP, st, testConfig())

	seedOneChunk(st, []float32{1, 0})

	resp, err := p.Answer(context.Background(), Request{Query: "what is raft"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.VerificationScore == nil || *resp.VerificationScore != 0.3 {
		t.Errorf("VerificationScore = %+v, want 0.3", resp.VerificationScore)
	}
	if !resp.LowConfidence {
		t.Error("expected LowConfidence=true for a score below VERIFICATION_THRESHOLD")
	}
	if resp.Answer == "" {
		t.Error("a low-confidence score must not suppress the answer")
	}
}

// Boundary behavior (spec.md §8): no chunks exist at all -> fixed
// refusal text, empty chunks, nil verification score, no LLM calls.
func TestAnswer_NoChunksExist_ReturnsFixedRefusal(t *testing.T) {
	st := storemock.New()
	embed := &embeddermock.Provider{EmbedFunc: func(string) ([]float32, error) { return []float32{1, 0}, nil }}
	llmP := &llmmock.Provider{}
	p := New(embed, llmP, st, testConfig())

	resp, err := p.Answer(context.Background(), Request{Query: "anything at all"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.Answer != "I don't have any information in the available context to answer that question." {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if len(resp.Chunks) != 0 {
		t.Errorf("Chunks = %+v, want empty", resp.Chunks)
	}
	if resp.VerificationScore != nil {
		t.Errorf("VerificationScore = %v, want nil", resp.VerificationScore)
	}
	if llmP.CallCount() != 0 {
		t.Errorf("expected 0 LLM calls with no chunks, got %d", llmP.CallCount())
	}
}

// Empty query is rejected before any collaborator is touched.
func TestAnswer_EmptyQuery_RejectsBadInput(t *testing.T) {
	st := storemock.New()
	embed := &embeddermock.Provider{}
	llmP := &llmmock.Provider{}
	p := New(embed, llmP, st, testConfig())

	_, err := p.Answer(context.Background(), Request{Query: "   "})
	if err == nil {
		t.Fatal("expected an error for an empty query")
	}
	if embed.CallCount() != 0 || llmP.CallCount() != 0 {
		t.Error("expected no collaborator calls for a rejected empty query")
	}
}

// A request explicitly opting out of memory (UseMemory=false) must
// never call LookupExact/LookupSemantic even when a matching entry
// exists, and must not persist a new one either.
func TestAnswer_MemoryDisabled_SkipsCacheEntirely(t *testing.T) {
	st := storemock.New()
	embed := &embeddermock.Provider{EmbedFunc: func(string) ([]float32, error) { return []float32{1, 0}, nil }}
	llmP := &llmmock.Provider{}
	yesForAll(llmP)
	p := New(embed, llmP, st, testConfig())

	seedOneChunk(st, []float32{1, 0})
	_, _, err := p.memory.Insert(context.Background(), ragtypes.MemoryEntry{
		Text: "what is raft", Embedding: []float32{1, 0}, Answer: "cached answer", ChunkIDs: []int64{1},
	})
	if err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	no := false
	resp, err := p.Answer(context.Background(), Request{Query: "what is raft", UseMemory: &no})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.FromMemory {
		t.Error("expected the memory cache to be bypassed entirely")
	}
	if resp.MemoryID != 0 {
		t.Error("expected no new memory entry to be persisted when memory is disabled")
	}
}

// Simple=true (POST /query/simple) skips classification, amplification,
// and verification even though the test config enables all three.
func TestAnswer_Simple_SkipsClassificationAmplificationVerification(t *testing.T) {
	st := storemock.New()
	embed := &embeddermock.Provider{EmbedFunc: func(string) ([]float32, error) { return []float32{1, 0}, nil }}
	llmP := &llmmock.Provider{}
	yesForAll(llmP)
	p := New(embed, llmP, st, testConfig())

	seedOneChunk(st, []float32{1, 0})

	resp, err := p.Answer(context.Background(), Request{Query: "what is raft", Simple: true})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.VerificationScore != nil {
		t.Errorf("VerificationScore = %v, want nil in simple mode", resp.VerificationScore)
	}
	if len(resp.Subquestions) != 0 {
		t.Errorf("Subquestions = %+v, want none in simple mode", resp.Subquestions)
	}
	// Every seeded chunk is classifier-relevant via yesForAll, so a
	// passthrough (skipped classification) should still select it.
	if len(resp.Chunks) != 1 {
		t.Errorf("Chunks = %+v, want 1", resp.Chunks)
	}
}

// ClassifyChunks and VerifyAnswer are independently callable endpoints.
func TestClassifyChunks_Standalone(t *testing.T) {
	st := storemock.New()
	embed := &embeddermock.Provider{}
	llmP := &llmmock.Provider{}
	yesForAll(llmP)
	p := New(embed, llmP, st, testConfig())

	seedOneChunk(st, []float32{1, 0})

	out, err := p.ClassifyChunks(context.Background(), "what is raft", []int64{1})
	if err != nil {
		t.Fatalf("ClassifyChunks: %v", err)
	}
	if len(out) != 1 || !out[0].Relevant {
		t.Errorf("ClassifyChunks = %+v, want one relevant chunk", out)
	}
}

func TestVerifyAnswer_Standalone(t *testing.T) {
	st := storemock.New()
	embed := &embeddermock.Provider{}
	llmP := &llmmock.Provider{}
	yesForAll(llmP)
	p := New(embed, llmP, st, testConfig())

	score, err := p.VerifyAnswer(context.Background(), "what is raft", "Raft is a consensus algorithm [1].", "raft is a consensus algorithm")
	if err != nil {
		t.Fatalf("VerifyAnswer: %v", err)
	}
	if score != 0.95 {
		t.Errorf("score = %v, want 0.95", score)
	}
}
