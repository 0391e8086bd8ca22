// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/csv-chatbot/backend/internal/session"
)

// SessionHandler handles session lifecycle and key configuration
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
	HandleSetAPIKey(c echo.Context) error
}

// TableHandler handles the uploaded table
type TableHandler interface {
	HandleUploadTable(c echo.Context) error
	HandleTablePreview(c echo.Context) error
	HandleTablePreviewMsgpack(c echo.Context) error
	HandleTableSummary(c echo.Context) error
	HandleTableQuery(c echo.Context) error
}

// ChatHandler handles questions and history
type ChatHandler interface {
	HandleAsk(c echo.Context) error
	HandleHistory(c echo.Context) error
	HandleHistoryExport(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Create() (*session.Session, error)
	Get(id string) (*session.Session, error)
	Delete(id string) bool
	TouchSession(id string) bool
	Count() int
}

var _ SessionManager = (*session.Manager)(nil)
