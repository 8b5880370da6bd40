package llm

// Role represents a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
}

// CompletionOptions tunes a single completion request.
// A nil Temperature leaves the provider default in place.
type CompletionOptions struct {
	Temperature *float64
	MaxTokens   int
	JSONMode    bool // ask the provider for a JSON object response
}

// Response is the result of a chat completion call.
type Response struct {
	Message Message
}

// ModelInfo describes a model available on the provider.
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// Helper constructors

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Float returns a pointer to v, for CompletionOptions.Temperature.
func Float(v float64) *float64 {
	return &v
}
