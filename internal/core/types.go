package core

// Role values accepted in conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in a conversation.
// For multi-turn calls the client resends the full ordered history;
// the proxy keeps no server-side conversation state.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AskRequest is the inbound body for a single-turn completion.
// The role is fixed to "user" by the proxy.
type AskRequest struct {
	Content string `json:"content"`
}

// KeyResponse carries an issued access key back to the caller.
type KeyResponse struct {
	Key string `json:"key"`
}

// ChatRequest is the JSON payload sent to the upstream provider.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// ChatResponse is the upstream provider's completion envelope.
// Usage is a pointer so an absent usage block is distinguishable
// from a zero one; accounting is skipped (and flagged) when nil.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Message      Message `json:"message"`
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token counts reported by the provider for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ClientLog is a log record pushed by a frontend client.
type ClientLog struct {
	Category string `json:"category,omitempty"`
	Level    string `json:"level,omitempty"`
	Message  string `json:"message"`
	Source   string `json:"source,omitempty"`
}
