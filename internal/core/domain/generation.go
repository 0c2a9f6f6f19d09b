package domain

// GenerationRequest carries sampling parameters for one text completion.
type GenerationRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
	Stop        []string
}

type Generation struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}
