// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Session SessionHandler
	Table   TableHandler
	Chat    ChatHandler
	Socket  *ChatSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(sessions SessionManager, opts HandlerOptions, wsReadLimitKB int) *Handlers {
	h := NewHandler(sessions, opts)
	return &Handlers{
		Health:  h,
		Session: h,
		Table:   h,
		Chat:    h,
		Socket:  NewChatSocketHandler(sessions, h.opts.MaxUploadBytes, wsReadLimitKB),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Session lifecycle
	apiGroup.POST("/sessions", handlers.Session.HandleCreateSession)
	apiGroup.GET("/sessions/:id", handlers.Session.HandleGetSession)
	apiGroup.DELETE("/sessions/:id", handlers.Session.HandleDeleteSession)
	apiGroup.POST("/sessions/:id/keepalive", handlers.Session.HandleSessionKeepAlive)
	apiGroup.PUT("/sessions/:id/key", handlers.Session.HandleSetAPIKey)

	// Uploaded table
	apiGroup.POST("/sessions/:id/table", handlers.Table.HandleUploadTable)
	apiGroup.GET("/sessions/:id/table/preview", handlers.Table.HandleTablePreview)
	apiGroup.GET("/sessions/:id/table/preview/msgpack", handlers.Table.HandleTablePreviewMsgpack)
	apiGroup.GET("/sessions/:id/table/summary", handlers.Table.HandleTableSummary)
	apiGroup.POST("/sessions/:id/table/query", handlers.Table.HandleTableQuery)

	// Chat
	apiGroup.POST("/sessions/:id/ask", handlers.Chat.HandleAsk)
	apiGroup.GET("/sessions/:id/history", handlers.Chat.HandleHistory)
	apiGroup.GET("/sessions/:id/history/export", handlers.Chat.HandleHistoryExport)

	// WebSocket endpoint
	if handlers.Socket != nil {
		apiGroup.GET("/sessions/:id/ws", handlers.Socket.HandleWebSocket)
	}
}

// MiddlewareOptions selects the common middleware
type MiddlewareOptions struct {
	RequestLogging bool
	RequestTimeout time.Duration
	BodyLimit      string
	EnableCORS     bool
	AllowOrigins   []string
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !opts.RequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" ||
				strings.HasSuffix(path, "/keepalive") ||
				strings.HasSuffix(path, "/ws")
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
	}))

	if opts.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: opts.RequestTimeout,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				// Model calls and sockets outlive ordinary requests.
				return strings.HasSuffix(path, "/ask") ||
					strings.HasSuffix(path, "/ws")
			},
			ErrorMessage: "Request timeout - query took too long",
		}))
	}

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasSuffix(c.Request().URL.Path, "/ws")
		},
	}))

	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}

	if opts.EnableCORS {
		origins := opts.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
