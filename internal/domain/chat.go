package domain

// ChatMessage is the provider-agnostic chat message shape used by prompt
// assembly and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tunes a single completion call. Zero values leave the
// provider defaults in place.
type ChatOptions struct {
	Temperature *float64
	MaxTokens   int
}

// Temperature returns a pointer suitable for ChatOptions.Temperature.
func Temperature(t float64) *float64 {
	return &t
}
