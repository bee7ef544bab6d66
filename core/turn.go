package core

import "time"

// Role identifies the author of a Turn.
type Role string

const (
	// RoleUser marks a turn written by the person asking questions.
	RoleUser Role = "user"
	// RoleAssistant marks a turn produced by the pipeline.
	RoleAssistant Role = "assistant"
	// RoleSystem is only used for model directives, never stored in transcripts.
	RoleSystem Role = "system"
)

// Turn is one message in a transcript. After creation it should be treated
// as immutable.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUserTurn creates a user-authored turn stamped with the current UTC time.
func NewUserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text, Timestamp: time.Now().UTC()}
}

// NewAssistantTurn creates an assistant-authored turn stamped with the current UTC time.
func NewAssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text, Timestamp: time.Now().UTC()}
}

// IsConversational reports whether the turn belongs in model history.
func (t Turn) IsConversational() bool {
	return t.Role == RoleUser || t.Role == RoleAssistant
}
