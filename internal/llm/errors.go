package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("empty response")

// APIError is a non-2xx answer from a model provider.
type APIError struct {
	Provider   string `json:"provider"`
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	fmt.Fprintf(&b, ": status=%d", e.StatusCode)
	if e.Status != "" {
		b.WriteString(" " + e.Status)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// IsAuthError reports whether err means the API key was rejected.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	switch apiErr.Status {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return true
	}
	return apiErr.Reason == "API_KEY_INVALID"
}

// ProviderLabel is the user-facing provider name.
func ProviderLabel(provider string) string {
	switch strings.ToLower(provider) {
	case "gemini", "":
		return "Gemini"
	case "ark":
		return "Ark"
	default:
		return strings.ToUpper(provider[:1]) + provider[1:]
	}
}

// ErrorReply turns a failed model call into the assistant text shown in
// the chat, e.g. "❌ Gemini error: <msg>".
func ErrorReply(provider string, err error) string {
	msg := "unknown error"
	var apiErr *APIError
	switch {
	case err == nil:
	case errors.As(err, &apiErr) && apiErr.Message != "":
		msg = apiErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		msg = "request timed out"
	default:
		msg = err.Error()
	}
	return fmt.Sprintf("❌ %s error: %s", ProviderLabel(provider), msg)
}
