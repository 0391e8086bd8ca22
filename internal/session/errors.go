package session

import (
	"errors"
	"fmt"

	"github.com/csv-chatbot/backend/internal/llm"
)

var (
	// ErrChatUnavailable is returned by Ask when no API key is configured.
	ErrChatUnavailable = errors.New("chat is unavailable: configure an API key first")
	// ErrAskInFlight is returned when the session is already waiting on the model.
	ErrAskInFlight = errors.New("a question is already being answered")
	// ErrNoTable is returned by table operations before any upload.
	ErrNoTable = errors.New("no table uploaded")
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrNotFound is returned by the manager for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when every slot holds a busy session.
	ErrTooManySessions = errors.New("too many active sessions")
)

// ConfigError means an API key could not be turned into a working client.
type ConfigError struct {
	Provider string
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("Failed to configure %s: %s", llm.ProviderLabel(e.Provider), message(e.Err))
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the provider refused the key itself.
func (e *ConfigError) Rejected() bool {
	return llm.IsAuthError(e.Err)
}

func message(err error) string {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
