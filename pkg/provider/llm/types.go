package llm

// Message is a single turn in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", "assistant".
	Role string
	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting for a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything needed to produce a response.
// Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected
	// before the conversation history.
	SystemPrompt string

	// Messages is the ordered conversation history.
	Messages []Message

	// Model optionally overrides the provider's default model.
	Model string

	// Temperature controls output randomness, [0.0, 2.0].
	Temperature float64

	// MaxTokens caps completion tokens; 0 means provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Shape names one of the three schema-tagged structured-output shapes
// C2 supports (spec §4.2).
type Shape string

const (
	// ShapeYesNo parses a lenient yes/no answer into a bool.
	ShapeYesNo Shape = "yes_no"
	// ShapeScore01 parses a lenient numeric answer into a float64 in [0,1].
	ShapeScore01 Shape = "score01"
	// ShapeQuestionList parses an enumerated list of questions.
	ShapeQuestionList Shape = "question_list"
)

// StructuredResult is the parsed result of a CompleteStructured call.
// Exactly one of the typed fields is populated, matching Shape.
type StructuredResult struct {
	Shape     Shape
	Bool      bool
	Score     float64
	Questions []string

	// Raw is the raw completion text, kept for logging/debugging.
	Raw string
}
