// Package llm defines the Provider interface for the LLM client (C2):
// chat-completion calls with role/system/user messages, plus a
// schema-tagged structured-output mode that coerces a raw completion
// into one of three internal shapes (yes/no, score in [0,1], question
// list) with lenient first-match parsing.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple
// goroutines.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CompleteStructured sends req to the model, appends shape-specific
	// formatting instructions to the system prompt, and parses the raw
	// completion into the shape named by shape. A response that cannot
	// be coerced into the requested shape returns a ragerr.LLMParse
	// error (spec §4.2).
	CompleteStructured(ctx context.Context, req CompletionRequest, shape Shape) (StructuredResult, error)
}
