// handlers_chat.go - Question and history handlers
package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"

	"github.com/csv-chatbot/backend/internal/models"
)

// AskRequest is the body of POST /sessions/:id/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse holds the two turns appended by a question.
type AskResponse struct {
	Turns []models.ChatTurn `json:"turns"`
}

// HandleAsk sends a question to the model. Model failures are part of the
// returned assistant turn.
func (h *Handler) HandleAsk(c echo.Context) error {
	s, err := h.lookup(c)
	if s == nil {
		return err
	}

	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return RespondWithError(c, NewBadRequestError("invalid request body", err))
	}

	turns, err := s.Ask(c.Request().Context(), req.Question)
	if err != nil {
		return RespondWithError(c, FromDomainError(err))
	}
	return c.JSON(http.StatusOK, AskResponse{Turns: turns})
}

// HandleHistory returns the displayed chat history.
func (h *Handler) HandleHistory(c echo.Context) error {
	s, err := h.lookup(c)
	if s == nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"history": s.History(),
	})
}

// HandleHistoryExport downloads the transcript as YAML.
func (h *Handler) HandleHistoryExport(c echo.Context) error {
	s, err := h.lookup(c)
	if s == nil {
		return err
	}

	data, err := yaml.Marshal(s.Transcript())
	if err != nil {
		return RespondWithError(c, NewInternalError("failed to encode transcript", err))
	}

	name := s.ID()
	if len(name) > 8 {
		name = name[:8]
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="chat-%s.yaml"`, name))
	return c.Blob(http.StatusOK, "application/yaml", data)
}
