package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/csv-chatbot/backend/internal/llm"
	"github.com/csv-chatbot/backend/internal/models"
	"github.com/csv-chatbot/backend/internal/session"
	"github.com/csv-chatbot/backend/internal/testutil"
)

type testEnv struct {
	e       *echo.Echo
	h       *Handler
	mgr     *session.Manager
	model   *testutil.MockChatModel
	factory *testutil.MockFactory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m := testutil.NewMockChatModel("The mean of a is 2.")
	f := testutil.NewMockFactory(m)
	mgr := session.NewManager(f, session.ManagerConfig{Session: session.DefaultOptions()})
	return &testEnv{
		e:       echo.New(),
		h:       NewHandler(mgr, HandlerOptions{Version: "test"}),
		mgr:     mgr,
		model:   m,
		factory: f,
	}
}

func (env *testEnv) newSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := env.mgr.Create()
	require.NoError(t, err)
	return s
}

func (env *testEnv) ctx(method, target string, body []byte, contentType string, id string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	c := env.e.NewContext(req, rec)
	if id != "" {
		c.SetParamNames("id")
		c.SetParamValues(id)
	}
	return c, rec
}

func (env *testEnv) jsonCtx(method, target, body, id string) (echo.Context, *httptest.ResponseRecorder) {
	return env.ctx(method, target, []byte(body), echo.MIMEApplicationJSON, id)
}

func (env *testEnv) uploadCtx(t *testing.T, id, name, content string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	part.Write([]byte(content))
	writer.Close()
	return env.ctx(http.MethodPost, "/api/sessions/"+id+"/table", body.Bytes(), writer.FormDataContentType(), id)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.newSession(t)

	c, rec := env.jsonCtx(http.MethodGet, "/api/health", "", "")
	if assert.NoError(t, env.h.HandleHealth(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
		assert.Contains(t, rec.Body.String(), `"sessions":1`)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// 1. Create
	c, rec := env.jsonCtx(http.MethodPost, "/api/sessions", "", "")
	require.NoError(t, env.h.HandleCreateSession(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	var snap models.SessionSnapshot
	decode(t, rec, &snap)
	assert.NotEmpty(t, snap.ID)
	assert.False(t, snap.Configured)
	assert.Empty(t, snap.History)

	// 2. Get
	c, rec = env.jsonCtx(http.MethodGet, "/api/sessions/"+snap.ID, "", snap.ID)
	require.NoError(t, env.h.HandleGetSession(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	// 3. Keepalive
	c, rec = env.jsonCtx(http.MethodPost, "/api/sessions/"+snap.ID+"/keepalive", "", snap.ID)
	require.NoError(t, env.h.HandleSessionKeepAlive(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	// 4. Delete
	c, rec = env.jsonCtx(http.MethodDelete, "/api/sessions/"+snap.ID, "", snap.ID)
	require.NoError(t, env.h.HandleDeleteSession(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// 5. Gone
	c, rec = env.jsonCtx(http.MethodGet, "/api/sessions/"+snap.ID, "", snap.ID)
	require.NoError(t, env.h.HandleGetSession(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)

	c, rec = env.jsonCtx(http.MethodPost, "/api/sessions/"+snap.ID+"/keepalive", "", snap.ID)
	require.NoError(t, env.h.HandleSessionKeepAlive(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetAPIKey(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)
	env.factory.Reject["bad"] = &llm.APIError{Provider: "gemini", StatusCode: 400, Reason: "API_KEY_INVALID", Message: "API key not valid."}

	tests := []struct {
		name       string
		key        string
		wantStatus string
		wantMsg    string
		configured bool
	}{
		{"valid", "good", KeyStatusConfigured, "✅ Gemini API Key configured!", true},
		{"rejected", "bad", KeyStatusError, "❌ Failed to configure Gemini: API key not valid.", false},
		{"blank", "", KeyStatusDisabled, "👆 Please enter your Gemini API key to activate the chatbot.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := env.jsonCtx(http.MethodPut, "/", `{"apiKey":"`+tt.key+`"}`, s.ID())
			require.NoError(t, env.h.HandleSetAPIKey(c))
			assert.Equal(t, http.StatusOK, rec.Code)

			var resp SetKeyResponse
			decode(t, rec, &resp)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantMsg, resp.Message)
			assert.Equal(t, tt.configured, resp.Session.Configured)
		})
	}
}

func TestUploadTable(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)

	c, rec := env.uploadCtx(t, s.ID(), "data.csv", "a,b\n1,2\n3,4\n5,6\n7,8\n9,10\n11,12\n")
	require.NoError(t, env.h.HandleUploadTable(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp UploadResponse
	decode(t, rec, &resp)
	assert.Equal(t, "data.csv", resp.Table.Name)
	assert.Equal(t, []string{"a", "b"}, resp.Table.Columns)
	assert.Equal(t, 6, resp.Table.RowCount)
	assert.Len(t, resp.Preview.Rows, 5)
	assert.Contains(t, resp.PreviewMarkdown, "| 4 | 9 | 10 |")
	assert.Equal(t, "✅ File uploaded successfully!", resp.Message)
}

func TestUploadTable_ParseErrorKeepsTable(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)

	c, _ := env.uploadCtx(t, s.ID(), "good.csv", "x\n1\n")
	require.NoError(t, env.h.HandleUploadTable(c))
	before := s.Table()

	c, rec := env.uploadCtx(t, s.ID(), "bad.csv", "a,b\n1,2\n1,2,3\n")
	require.NoError(t, env.h.HandleUploadTable(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"PARSE_ERROR"`)
	assert.Contains(t, rec.Body.String(), "Expected 2 fields in line 3, saw 3")
	assert.Same(t, before, s.Table())
}

func TestUploadTable_Errors(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)

	t.Run("missing file", func(t *testing.T) {
		c, rec := env.jsonCtx(http.MethodPost, "/", "{}", s.ID())
		require.NoError(t, env.h.HandleUploadTable(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		small := NewHandler(env.mgr, HandlerOptions{MaxUploadBytes: 8})
		c, rec := env.uploadCtx(t, s.ID(), "big.csv", "a,b\n1,2\n3,4\n")
		require.NoError(t, small.HandleUploadTable(c))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		c, rec := env.uploadCtx(t, "nope", "d.csv", "a\n1\n")
		require.NoError(t, env.h.HandleUploadTable(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTablePreviewAndSummary(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)

	// No table yet
	c, rec := env.jsonCtx(http.MethodGet, "/", "", s.ID())
	require.NoError(t, env.h.HandleTableSummary(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"NO_TABLE"`)

	_, err := s.UploadTable("d.csv", []byte("a,b\n1,x\n3,y\n"))
	require.NoError(t, err)

	c, rec = env.jsonCtx(http.MethodGet, "/?rows=1", "", s.ID())
	require.NoError(t, env.h.HandleTablePreview(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	var preview struct {
		Preview models.Table `json:"preview"`
		Total   int          `json:"total"`
	}
	decode(t, rec, &preview)
	assert.Equal(t, [][]string{{"1", "x"}}, preview.Preview.Rows)
	assert.Equal(t, 2, preview.Total)

	c, rec = env.jsonCtx(http.MethodGet, "/", "", s.ID())
	require.NoError(t, env.h.HandleTableSummary(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	var sum SummaryResponse
	decode(t, rec, &sum)
	assert.Equal(t, []string{"a", "b"}, sum.Columns)
	a, ok := sum.Summary.Stat("a")
	require.True(t, ok)
	assert.Equal(t, 2, a.Count)
	assert.Equal(t, 1.0, *a.Min)
	assert.Equal(t, 3.0, *a.Max)
	assert.Contains(t, sum.Markdown, "| count | 2 | 2 |")
}

func TestTablePreviewMsgpack(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)
	_, err := s.UploadTable("d.csv", []byte("a\n1\n2\n"))
	require.NoError(t, err)

	c, rec := env.jsonCtx(http.MethodGet, "/", "", s.ID())
	require.NoError(t, env.h.HandleTablePreviewMsgpack(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))

	var out struct {
		Preview models.Table `msgpack:"preview"`
		Total   int          `msgpack:"total"`
	}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []string{"a"}, out.Preview.Columns)
	assert.Equal(t, 2, out.Total)
}

func TestTableQuery(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)
	_, err := s.UploadTable("d.csv", []byte("a,b\n1,2\n3,4\n"))
	require.NoError(t, err)

	c, rec := env.jsonCtx(http.MethodPost, "/", `{"sql":"SELECT sum(a) AS total FROM data"}`, s.ID())
	require.NoError(t, env.h.HandleTableQuery(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"columns":["total"]`)
	assert.Contains(t, rec.Body.String(), `"rows":[["4"]]`)

	c, rec = env.jsonCtx(http.MethodPost, "/", `{"sql":"DELETE FROM data"}`, s.ID())
	require.NoError(t, env.h.HandleTableQuery(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"QUERY_NOT_ALLOWED"`)

	c, rec = env.jsonCtx(http.MethodPost, "/", `{"sql":"SELECT missing FROM data"}`, s.ID())
	require.NoError(t, env.h.HandleTableQuery(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"QUERY_ERROR"`)

	c, rec = env.jsonCtx(http.MethodPost, "/", `{}`, s.ID())
	require.NoError(t, env.h.HandleTableQuery(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)

	// Without a key the chat is unavailable and history stays empty
	c, rec := env.jsonCtx(http.MethodPost, "/", `{"question":"mean of a?"}`, s.ID())
	require.NoError(t, env.h.HandleAsk(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"CHAT_UNAVAILABLE"`)
	assert.Empty(t, s.History())

	_, err := s.SetAPIKey(c.Request().Context(), "key")
	require.NoError(t, err)
	_, err = s.UploadTable("d.csv", []byte("a,b\n1,2\n3,4\n"))
	require.NoError(t, err)

	c, rec = env.jsonCtx(http.MethodPost, "/", `{"question":"mean of a?"}`, s.ID())
	require.NoError(t, env.h.HandleAsk(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Turns, 2)
	assert.Equal(t, models.RoleUser, resp.Turns[0].Role)
	assert.Equal(t, "The mean of a is 2.", resp.Turns[1].Text)
	assert.Contains(t, env.model.LastPrompt(), "Columns: a, b")

	c, rec = env.jsonCtx(http.MethodPost, "/", `{"question":"  "}`, s.ID())
	require.NoError(t, env.h.HandleAsk(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryAndExport(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)
	_, err := s.SetAPIKey(t.Context(), "key")
	require.NoError(t, err)
	_, err = s.Ask(t.Context(), "hello")
	require.NoError(t, err)

	c, rec := env.jsonCtx(http.MethodGet, "/", "", s.ID())
	require.NoError(t, env.h.HandleHistory(c))
	var hist struct {
		History []models.ChatTurn `json:"history"`
	}
	decode(t, rec, &hist)
	require.Len(t, hist.History, 2)
	assert.Equal(t, "hello", hist.History[0].Text)

	c, rec = env.jsonCtx(http.MethodGet, "/", "", s.ID())
	require.NoError(t, env.h.HandleHistoryExport(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentDisposition), "attachment;"))

	var tr models.Transcript
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, s.ID(), tr.SessionID)
	require.Len(t, tr.Turns, 2)
	assert.Equal(t, models.RoleAssistant, tr.Turns[1].Role)
}

func TestFromDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{session.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{session.ErrNoTable, http.StatusConflict, "NO_TABLE"},
		{session.ErrAskInFlight, http.StatusConflict, "ASK_IN_FLIGHT"},
		{session.ErrChatUnavailable, http.StatusServiceUnavailable, "CHAT_UNAVAILABLE"},
		{session.ErrTooManySessions, http.StatusServiceUnavailable, "TOO_MANY_SESSIONS"},
		{session.ErrEmptyQuestion, http.StatusBadRequest, "VALIDATION_ERROR"},
		{assert.AnError, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			apiErr := FromDomainError(tt.err)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}
}

func TestErrorHandler(t *testing.T) {
	e := echo.New()

	c, rec := (&testEnv{e: e}).jsonCtx(http.MethodGet, "/", "", "")
	ErrorHandler(NewConflictError("ASK_IN_FLIGHT", "busy"), c)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"ASK_IN_FLIGHT"`)

	c, rec = (&testEnv{e: e}).jsonCtx(http.MethodGet, "/", "", "")
	ErrorHandler(echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), c)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"HTTP_ERROR"`)

	c, rec = (&testEnv{e: e}).jsonCtx(http.MethodGet, "/", "", "")
	ErrorHandler(assert.AnError, c)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
