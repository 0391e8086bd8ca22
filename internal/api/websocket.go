package api

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/csv-chatbot/backend/internal/analysis"
	"github.com/csv-chatbot/backend/internal/parser"
	"github.com/csv-chatbot/backend/internal/session"
)

// WebSocket message types for the chat protocol
const (
	// Client -> Server messages
	MsgTypeAsk         = "ask"
	MsgTypeTableUpload = "table:upload"
	MsgTypePing        = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeTurn      = "turn"
	MsgTypeDelta     = "delta"
	MsgTypeTable     = "table"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Ask payload
type AskPayload struct {
	Question string `json:"question"`
}

// Table upload payload (single message; Data is base64, optionally gzip)
type TableUploadPayload struct {
	Name     string `json:"name"`
	Data     string `json:"data"`
	Encoding string `json:"encoding,omitempty"` // "gzip", "none"
}

// Delta payload carries one streamed chunk of the assistant reply
type WSDeltaPayload struct {
	Text string `json:"text"`
}

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ChatSocketHandler manages WebSocket connections for a chat session
type ChatSocketHandler struct {
	sessions       SessionManager
	upgrader       websocket.Upgrader
	maxUploadBytes int64
	readLimit      int64
}

// wsEnvelopeSlack covers the JSON envelope around an inline upload.
const wsEnvelopeSlack = 4 * 1024

// NewChatSocketHandler creates a new WebSocket chat handler. readLimitKB caps
// the size of a single client message, but never below what a base64
// table:upload of maxUploadBytes needs.
func NewChatSocketHandler(sessions SessionManager, maxUploadBytes int64, readLimitKB int) *ChatSocketHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	readLimit := int64(readLimitKB) * 1024
	if floor := uploadReadLimit(maxUploadBytes); readLimit < floor {
		readLimit = floor
	}
	return &ChatSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		maxUploadBytes: maxUploadBytes,
		readLimit:      readLimit,
	}
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

// HandleWebSocket upgrades the connection and serves the chat protocol for
// the session named by :id.
func (wsh *ChatSocketHandler) HandleWebSocket(c echo.Context) error {
	id := c.Param("id")
	s, err := wsh.sessions.Get(id)
	if err != nil {
		return RespondWithError(c, NewNotFoundError("session", id))
	}

	raw, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	ws := &wsConn{Conn: raw}
	defer ws.Close()
	ws.SetReadLimit(wsh.readLimit)

	fmt.Printf("[WebSocket %s] Client connected\n", shortID(id))

	// Send welcome message with the current state
	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeConnected,
		ID:        s.ID(),
		Payload:   mustJSON(s.Snapshot()),
		Timestamp: time.Now().UnixMilli(),
	})

	// Main message loop
	for {
		var msg WSMessage
		err := ws.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				fmt.Printf("[WebSocket %s] Connection error: %v\n", shortID(id), err)
			}
			break
		}
		s.Touch()

		switch msg.Type {
		case MsgTypePing:
			// Respond with pong to keep connection alive
			wsh.sendMessage(ws, WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()})
		case MsgTypeAsk:
			wsh.handleAsk(c, ws, s, msg)
		case MsgTypeTableUpload:
			wsh.handleTableUpload(ws, s, msg)
		default:
			wsh.sendError(ws, msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	fmt.Printf("[WebSocket %s] Client disconnected\n", shortID(id))
	return nil
}

// handleAsk streams the reply as delta messages, then sends both turns.
func (wsh *ChatSocketHandler) handleAsk(c echo.Context, ws *wsConn, s *session.Session, msg WSMessage) {
	var payload AskPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(ws, msg.ID, "Invalid ask payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}

	turns, err := s.AskStream(c.Request().Context(), payload.Question, func(delta string) {
		wsh.sendMessage(ws, WSMessage{
			Type:      MsgTypeDelta,
			ID:        msg.ID,
			Payload:   mustJSON(WSDeltaPayload{Text: delta}),
			Timestamp: time.Now().UnixMilli(),
		})
	})
	if err != nil {
		apiErr := FromDomainError(err)
		wsh.sendError(ws, msg.ID, apiErr.Message, apiErr.Code)
		return
	}

	for _, turn := range turns {
		wsh.sendMessage(ws, WSMessage{
			Type:      MsgTypeTurn,
			ID:        msg.ID,
			Payload:   mustJSON(turn),
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// handleTableUpload decodes an inline file and replaces the session table
func (wsh *ChatSocketHandler) handleTableUpload(ws *wsConn, s *session.Session, msg WSMessage) {
	var payload TableUploadPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(ws, msg.ID, "Invalid upload payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}

	data, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		wsh.sendError(ws, msg.ID, "Invalid base64 data: "+err.Error(), "INVALID_PAYLOAD")
		return
	}
	if payload.Encoding == "gzip" {
		data, err = decompressGzip(data, wsh.maxUploadBytes)
		if err != nil {
			wsh.sendError(ws, msg.ID, "Failed to decompress: "+err.Error(), "DECOMPRESS_ERROR")
			return
		}
	}
	if int64(len(data)) > wsh.maxUploadBytes {
		apiErr := NewPayloadTooLargeError(wsh.maxUploadBytes)
		wsh.sendError(ws, msg.ID, apiErr.Message, apiErr.Code)
		return
	}

	t, err := s.UploadTable(payload.Name, data)
	if err != nil {
		var pe *parser.ParseError
		if errors.As(err, &pe) {
			apiErr := NewParseError(pe)
			wsh.sendError(ws, msg.ID, apiErr.Message, apiErr.Code)
			return
		}
		wsh.sendError(ws, msg.ID, err.Error(), "UPLOAD_ERROR")
		return
	}

	preview, err := s.Preview(0)
	if err != nil {
		preview = t.Head(0)
	}
	wsh.sendMessage(ws, WSMessage{
		Type: MsgTypeTable,
		ID:   msg.ID,
		Payload: mustJSON(UploadResponse{
			Table:           t.Info(),
			Preview:         preview,
			PreviewMarkdown: analysis.MarkdownTable(preview, len(preview.Rows)),
			Message:         "✅ File uploaded successfully!",
		}),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (wsh *ChatSocketHandler) sendMessage(ws *wsConn, msg WSMessage) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err := ws.WriteJSON(msg); err != nil {
		fmt.Printf("[WebSocket] Failed to send message: %v\n", err)
	}
}

func (wsh *ChatSocketHandler) sendError(ws *wsConn, id, message, code string) {
	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeError,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Payload: mustJSON(WSErrorResponse{
			Type:    MsgTypeError,
			Message: message,
			Code:    code,
		}),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// decompressGzip inflates data, refusing output larger than limit.
func decompressGzip(data []byte, limit int64) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	out, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// uploadReadLimit is the message size of a base64 upload of n bytes.
func uploadReadLimit(n int64) int64 {
	return int64(base64.StdEncoding.EncodedLen(int(n))) + wsEnvelopeSlack
}

// shortID safely truncates an ID for logging
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
