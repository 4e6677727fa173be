package chat

// Turn is a single role-tagged entry in a conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles recognized in a conversation history and in LLM payloads.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SystemTurn builds a system entry.
func SystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}

// UserTurn builds a user entry.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds an assistant entry.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}
