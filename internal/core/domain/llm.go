package domain

import "time"

// Chat roles understood by every OpenAI-compatible provider
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn sent to the model
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-agnostic completion request
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float32
	JSONMode    bool // ask the provider for a JSON object and extract it from the reply
}

// ChatResult carries the raw model text and whatever structure could be extracted
type ChatResult struct {
	RawResponse      string
	Content          string // extracted JSON text when found, otherwise RawResponse
	JSON             any    // decoded value of Content, nil when extraction failed
	Model            string
	Provider         string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// TotalTokens is the sum reported by the provider
func (r *ChatResult) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Event is pushed to admin subscribers whenever a conversation changes
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Channel        Channel   `json:"channel,omitempty"`
	Data           any       `json:"data,omitempty"`
	At             time.Time `json:"at"`
}

// Event types
const (
	EventMessageCreated      = "message.created"
	EventConversationUpdated = "conversation.updated"
	EventDeliveryFailed      = "delivery.failed"
	EventScenarioChanged     = "scenario.changed"
)
