package api

import (
	"github.com/labstack/echo/v4"

	"github.com/csv-chatbot/backend/internal/session"
)

// DefaultMaxUploadBytes applies when HandlerOptions leaves the limit unset.
const DefaultMaxUploadBytes = 50 << 20

// HandlerOptions tunes request handling.
type HandlerOptions struct {
	Version        string
	MaxUploadBytes int64
	PreviewRows    int
}

// Handler handles API requests.
type Handler struct {
	sessions SessionManager
	opts     HandlerOptions
}

var (
	_ SessionHandler = (*Handler)(nil)
	_ TableHandler   = (*Handler)(nil)
	_ ChatHandler    = (*Handler)(nil)
	_ HealthHandler  = (*Handler)(nil)
)

// NewHandler creates a new API handler.
func NewHandler(sessions SessionManager, opts HandlerOptions) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = 5
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handler{
		sessions: sessions,
		opts:     opts,
	}
}

// lookup resolves the :id path parameter. On failure it has already written
// the 404 response and returns a nil session.
func (h *Handler) lookup(c echo.Context) (*session.Session, error) {
	id := c.Param("id")
	s, err := h.sessions.Get(id)
	if err != nil {
		return nil, RespondWithError(c, NewNotFoundError("session", id))
	}
	return s, nil
}
