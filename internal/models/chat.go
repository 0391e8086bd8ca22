package models

import "time"

// Role identifies who authored a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is a single displayed message. Turns are never edited after
// they are appended to a session history.
type ChatTurn struct {
	Role      Role      `json:"role" yaml:"role" msgpack:"role"`
	Text      string    `json:"text" yaml:"text" msgpack:"text"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt" msgpack:"createdAt"`
}

// NewChatTurn creates a turn stamped with the current time.
func NewChatTurn(role Role, text string) ChatTurn {
	return ChatTurn{
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// Transcript is the exported form of a session history.
type Transcript struct {
	SessionID  string     `json:"sessionId" yaml:"sessionId"`
	ExportedAt time.Time  `json:"exportedAt" yaml:"exportedAt"`
	Table      *TableInfo `json:"table,omitempty" yaml:"table,omitempty"`
	Turns      []ChatTurn `json:"turns" yaml:"turns"`
}
