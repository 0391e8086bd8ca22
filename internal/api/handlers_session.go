// handlers_session.go - Session lifecycle and API key handlers
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/csv-chatbot/backend/internal/llm"
	"github.com/csv-chatbot/backend/internal/models"
	"github.com/csv-chatbot/backend/internal/session"
)

// Key configuration outcomes reported to the page.
const (
	KeyStatusConfigured = "configured"
	KeyStatusDisabled   = "disabled"
	KeyStatusError      = "error"
)

// SetKeyRequest is the body of PUT /sessions/:id/key.
type SetKeyRequest struct {
	APIKey string `json:"apiKey"`
}

// SetKeyResponse carries the banner shown after configuring a key.
type SetKeyResponse struct {
	Status  string                  `json:"status"`
	Message string                  `json:"message"`
	Session *models.SessionSnapshot `json:"session"`
}

// HandleCreateSession starts a new page session.
func (h *Handler) HandleCreateSession(c echo.Context) error {
	s, err := h.sessions.Create()
	if err != nil {
		return RespondWithError(c, FromDomainError(err))
	}
	return c.JSON(http.StatusCreated, s.Snapshot())
}

// HandleGetSession returns the session state.
func (h *Handler) HandleGetSession(c echo.Context) error {
	s, err := h.lookup(c)
	if s == nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Snapshot())
}

// HandleDeleteSession discards a session.
func (h *Handler) HandleDeleteSession(c echo.Context) error {
	id := c.Param("id")
	if !h.sessions.Delete(id) {
		return RespondWithError(c, NewNotFoundError("session", id))
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSessionKeepAlive keeps an idle page's session from being cleaned up.
func (h *Handler) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("id")
	if !h.sessions.TouchSession(id) {
		return RespondWithError(c, NewNotFoundError("session", id))
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSetAPIKey configures or clears the model client. A rejected key is
// reported in the body with status "error", not as an HTTP failure.
func (h *Handler) HandleSetAPIKey(c echo.Context) error {
	s, err := h.lookup(c)
	if s == nil {
		return err
	}

	var req SetKeyRequest
	if err := c.Bind(&req); err != nil {
		return RespondWithError(c, NewBadRequestError("invalid request body", err))
	}

	label := llm.ProviderLabel(s.Provider())
	resp := SetKeyResponse{}

	ok, err := s.SetAPIKey(c.Request().Context(), req.APIKey)
	var cfgErr *session.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		resp.Status = KeyStatusError
		resp.Message = "❌ " + cfgErr.Error()
	case err != nil:
		return RespondWithError(c, FromDomainError(err))
	case ok:
		resp.Status = KeyStatusConfigured
		resp.Message = "✅ " + label + " API Key configured!"
	default:
		resp.Status = KeyStatusDisabled
		resp.Message = "👆 Please enter your " + label + " API key to activate the chatbot."
	}
	resp.Session = s.Snapshot()
	return c.JSON(http.StatusOK, resp)
}
