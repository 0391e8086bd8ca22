package models

import "time"

// SessionSnapshot is the rendered state of a chat session.
type SessionSnapshot struct {
	ID           string     `json:"id"`
	Configured   bool       `json:"configured"`
	Provider     string     `json:"provider,omitempty"`
	Table        *TableInfo `json:"table,omitempty"`
	History      []ChatTurn `json:"history"`
	Asking       bool       `json:"asking"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastAccessed time.Time  `json:"lastAccessed"`
}

// HasTable reports whether a table has been uploaded.
func (s *SessionSnapshot) HasTable() bool {
	return s.Table != nil
}
