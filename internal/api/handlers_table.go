// handlers_table.go - Table upload, preview, summary and query handlers
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/csv-chatbot/backend/internal/analysis"
	"github.com/csv-chatbot/backend/internal/models"
	"github.com/csv-chatbot/backend/internal/parser"
)

// UploadResponse is returned after a successful upload.
type UploadResponse struct {
	Table           *models.TableInfo `json:"table"`
	Preview         *models.Table     `json:"preview"`
	PreviewMarkdown string            `json:"previewMarkdown"`
	Message         string            `json:"message"`
}

// SummaryResponse is the describe view of the current table.
type SummaryResponse struct {
	Columns  []string          `json:"columns"`
	Summary  *analysis.Summary `json:"summary"`
	Markdown string            `json:"markdown"`
}

// QueryRequest is the body of POST /sessions/:id/table/query.
type QueryRequest struct {
	SQL string `json:"sql"`
}

// HandleUploadTable accepts a multipart "file" and replaces the session table.
func (h *Handler) HandleUploadTable(c echo.Context) error {
	s, err := h.lookup(c)
	if s == nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return RespondWithError(c, NewBadRequestError("missing file", err))
	}
	if fh.Size > h.opts.MaxUploadBytes {
		return RespondWithError(c, NewPayloadTooLargeError(h.opts.MaxUploadBytes))
	}

	f, err := fh.Open()
	if err != nil {
		return RespondWithError(c, NewInternalError("failed to open upload", err))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.opts.MaxUploadBytes+1))
	if err != nil {
		return RespondWithError(c, NewInternalError("failed to read upload", err))
	}
	if int64(len(data)) > h.opts.MaxUploadBytes {
		return RespondWithError(c, NewPayloadTooLargeError(h.opts.MaxUploadBytes))
	}

	t, err := s.UploadTable(fh.Filename, data)
	if err != nil {
		var pe *parser.ParseError
		if errors.As(err, &pe) {
			return RespondWithError(c, NewParseError(pe))
		}
		return RespondWithError(c, FromDomainError(err))
	}

	return c.JSON(http.StatusCreated, UploadResponse{
		Table:           t.Info(),
		Preview:         t.Head(h.opts.PreviewRows),
		PreviewMarkdown: analysis.MarkdownTable(t, h.opts.PreviewRows),
		Message:         "✅ File uploaded successfully!",
	})
}

// previewRows reads ?rows=N, falling back to the configured preview size.
func (h *Handler) previewRows(c echo.Context) int {
	if v := c.QueryParam("rows"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return h.opts.PreviewRows
}

// HandleTablePreview returns the first rows of the table.
func (h *Handler) HandleTablePreview(c echo.Context) error {
	s, err := h.lookup(c)
	if s == nil {
		return err
	}
	p, err := s.Preview(h.previewRows(c))
	if err != nil {
		return RespondWithError(c, FromDomainError(err))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"preview":  p,
		"total":    s.Table().NumRows(),
		"markdown": analysis.MarkdownTable(p, len(p.Rows)),
	})
}

// HandleTablePreviewMsgpack returns the preview encoded as MessagePack.
func (h *Handler) HandleTablePreviewMsgpack(c echo.Context) error {
	s, err := h.lookup(c)
	if s == nil {
		return err
	}
	p, err := s.Preview(h.previewRows(c))
	if err != nil {
		return RespondWithError(c, FromDomainError(err))
	}

	data, err := msgpack.Marshal(map[string]interface{}{
		"preview": p,
		"total":   s.Table().NumRows(),
	})
	if err != nil {
		return RespondWithError(c, NewInternalError("failed to encode msgpack", err))
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleTableSummary computes describe statistics. Nothing is cached.
func (h *Handler) HandleTableSummary(c echo.Context) error {
	s, err := h.lookup(c)
	if s == nil {
		return err
	}
	sum, err := s.Summarize()
	if err != nil {
		return RespondWithError(c, FromDomainError(err))
	}
	return c.JSON(http.StatusOK, SummaryResponse{
		Columns:  sum.Columns,
		Summary:  sum,
		Markdown: sum.Markdown(),
	})
}

// HandleTableQuery runs a read-only SQL query over the table.
func (h *Handler) HandleTableQuery(c echo.Context) error {
	s, err := h.lookup(c)
	if s == nil {
		return err
	}

	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return RespondWithError(c, NewBadRequestError("invalid request body", err))
	}
	if req.SQL == "" {
		return RespondWithError(c, NewValidationError("sql"))
	}

	res, err := s.Query(c.Request().Context(), req.SQL)
	if err != nil {
		if errors.Is(err, analysis.ErrQueryNotAllowed) || s.Table() == nil {
			return RespondWithError(c, FromDomainError(err))
		}
		return RespondWithError(c, &APIError{
			Status:  http.StatusBadRequest,
			Code:    "QUERY_ERROR",
			Message: "query failed",
			Details: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, res)
}
