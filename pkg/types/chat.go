package types

// Role identifies the author of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a chat message with role and content
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents the request body for chat completions.
// Temperature and MaxTokens are left out of the payload when nil.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Float64 returns a pointer to v, for optional request fields
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional request fields
func Int(v int) *int { return &v }

// Usage reports token accounting when the gateway provides it
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice represents one completion choice in a non-streaming response
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatResponse represents a non-streaming chat completion response
type ChatResponse struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// ChunkContent is the content-bearing part of a streamed choice. It appears
// as "delta" in incremental chunks and as "message" in final-shaped chunks.
type ChunkContent struct {
	Role    Role    `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// ChunkChoice represents a completion choice in the streaming response
type ChunkChoice struct {
	Index        int           `json:"index"`
	Delta        *ChunkContent `json:"delta,omitempty"`
	Message      *ChunkContent `json:"message,omitempty"`
	FinishReason *string       `json:"finish_reason,omitempty"`
}

// StreamChunk represents a single chunk in the SSE stream
type StreamChunk struct {
	ID      string        `json:"id,omitempty"`
	Object  string        `json:"object,omitempty"`
	Created int64         `json:"created,omitempty"`
	Model   string        `json:"model,omitempty"`
	Choices []ChunkChoice `json:"choices"`
}
