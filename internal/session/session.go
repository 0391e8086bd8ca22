package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/csv-chatbot/backend/internal/analysis"
	"github.com/csv-chatbot/backend/internal/llm"
	"github.com/csv-chatbot/backend/internal/models"
	"github.com/csv-chatbot/backend/internal/parser"
)

// ModelFactory turns an API key into a chat model.
type ModelFactory interface {
	Provider() string
	NewChatModel(ctx context.Context, apiKey string) (model.BaseChatModel, error)
}

// Options tunes a session.
type Options struct {
	PreviewRows  int
	ContextRows  int
	MaxQueryRows int
	Query        []analysis.QueryOption
}

// DefaultOptions returns the head(5) preview and 2-row context defaults.
func DefaultOptions() Options {
	return Options{
		PreviewRows:  5,
		ContextRows:  DefaultContextRows,
		MaxQueryRows: analysis.DefaultQueryLimit,
	}
}

// Session is the per-page state: API key, uploaded table and chat history.
// All methods are safe for concurrent use.
type Session struct {
	id       string
	factory  ModelFactory
	registry *parser.Registry
	opts     Options

	mu           sync.Mutex
	configured   bool
	chat         model.BaseChatModel
	table        *models.Table
	history      []models.ChatTurn
	asking       bool
	createdAt    time.Time
	lastAccessed time.Time
}

// New creates an empty, unconfigured session.
func New(id string, factory ModelFactory, opts Options) *Session {
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = 5
	}
	if opts.ContextRows <= 0 {
		opts.ContextRows = DefaultContextRows
	}
	if opts.MaxQueryRows <= 0 {
		opts.MaxQueryRows = analysis.DefaultQueryLimit
	}
	now := time.Now()
	return &Session{
		id:           id,
		factory:      factory,
		registry:     parser.GetGlobalRegistry(),
		opts:         opts,
		history:      make([]models.ChatTurn, 0),
		createdAt:    now,
		lastAccessed: now,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Provider returns the model provider id, or "" without a factory.
func (s *Session) Provider() string {
	if s.factory == nil {
		return ""
	}
	return s.factory.Provider()
}

// SetAPIKey configures the chat client. A blank key clears the client and
// is not an error. A key the provider cannot use yields a *ConfigError and
// leaves the session unconfigured.
func (s *Session) SetAPIKey(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		s.setChat(nil)
		return false, nil
	}
	if s.factory == nil {
		s.setChat(nil)
		return false, &ConfigError{Err: errors.New("no model provider configured")}
	}

	cm, err := s.factory.NewChatModel(ctx, key)
	if err != nil {
		s.setChat(nil)
		fmt.Printf("[Session %s] API key rejected: %v\n", shortID(s.id), err)
		return false, &ConfigError{Provider: s.factory.Provider(), Err: err}
	}
	s.setChat(cm)
	fmt.Printf("[Session %s] Chat configured (%s)\n", shortID(s.id), s.factory.Provider())
	return true, nil
}

func (s *Session) setChat(cm model.BaseChatModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = cm
	s.configured = cm != nil
	s.lastAccessed = time.Now()
}

// Configured reports whether chat is available.
func (s *Session) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// UploadTable parses data and replaces the current table. On failure the
// previous table is kept and a *parser.ParseError is returned.
func (s *Session) UploadTable(name string, data []byte) (*models.Table, error) {
	t, err := s.registry.ParseTable(name, data)
	if err != nil {
		fmt.Printf("[Session %s] Upload of %s failed: %v\n", shortID(s.id), name, err)
		return nil, err
	}

	s.mu.Lock()
	s.table = t
	s.lastAccessed = time.Now()
	s.mu.Unlock()

	fmt.Printf("[Session %s] Uploaded %s: %d rows x %d columns\n", shortID(s.id), name, t.NumRows(), len(t.Columns))
	return t, nil
}

// Table returns the current table or nil. Tables are replaced, never
// modified, so the value may be read without holding the lock.
func (s *Session) Table() *models.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table
}

// Preview returns the first n rows; n <= 0 uses the configured preview size.
func (s *Session) Preview(n int) (*models.Table, error) {
	t := s.Table()
	if t == nil {
		return nil, ErrNoTable
	}
	if n <= 0 {
		n = s.opts.PreviewRows
	}
	return t.Head(n), nil
}

// Summarize computes describe statistics for the current table. The result
// is recomputed on every call.
func (s *Session) Summarize() (*analysis.Summary, error) {
	t := s.Table()
	if t == nil {
		return nil, ErrNoTable
	}
	return analysis.Summarize(t), nil
}

// Query runs a read-only SQL query against the current table.
func (s *Session) Query(ctx context.Context, sql string) (*analysis.QueryResult, error) {
	t := s.Table()
	if t == nil {
		return nil, ErrNoTable
	}
	return analysis.QueryTable(ctx, t, sql, s.opts.MaxQueryRows, s.opts.Query...)
}

// Ask sends the question with the table context to the model and appends
// the user turn and the assistant turn to the history. Model failures become
// an assistant turn carrying the error text; only ErrChatUnavailable,
// ErrAskInFlight and ErrEmptyQuestion are returned as errors, and those
// leave the history untouched.
func (s *Session) Ask(ctx context.Context, question string) ([]models.ChatTurn, error) {
	return s.ask(ctx, question, nil)
}

// AskStream is Ask with incremental delivery: onDelta receives each text
// chunk as it arrives. The final assistant turn holds the full reply.
func (s *Session) AskStream(ctx context.Context, question string, onDelta func(string)) ([]models.ChatTurn, error) {
	return s.ask(ctx, question, onDelta)
}

func (s *Session) ask(ctx context.Context, question string, onDelta func(string)) ([]models.ChatTurn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	s.mu.Lock()
	if s.chat == nil {
		s.mu.Unlock()
		return nil, ErrChatUnavailable
	}
	if s.asking {
		s.mu.Unlock()
		return nil, ErrAskInFlight
	}
	s.asking = true
	userTurn := models.NewChatTurn(models.RoleUser, question)
	s.history = append(s.history, userTurn)
	cm := s.chat
	table := s.table
	s.lastAccessed = time.Now()
	s.mu.Unlock()

	prompt := BuildPrompt(BuildContext(table, s.opts.ContextRows), question)
	start := time.Now()

	var reply string
	var err error
	if onDelta != nil {
		reply, err = streamReply(ctx, cm, prompt, onDelta)
	} else {
		reply, err = generateReply(ctx, cm, prompt)
	}
	if err != nil {
		fmt.Printf("[Session %s] Model error after %s: %v\n", shortID(s.id), time.Since(start).Round(time.Millisecond), err)
		reply = llm.ErrorReply(s.Provider(), err)
	} else {
		fmt.Printf("[Session %s] Answered in %s (%d chars)\n", shortID(s.id), time.Since(start).Round(time.Millisecond), len(reply))
	}

	assistantTurn := models.NewChatTurn(models.RoleAssistant, reply)

	s.mu.Lock()
	s.history = append(s.history, assistantTurn)
	s.asking = false
	s.lastAccessed = time.Now()
	s.mu.Unlock()

	return []models.ChatTurn{userTurn, assistantTurn}, nil
}

func generateReply(ctx context.Context, cm model.BaseChatModel, prompt string) (string, error) {
	msg, err := cm.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", err
	}
	if msg == nil || msg.Content == "" {
		return "", llm.ErrEmptyResponse
	}
	return msg.Content, nil
}

func streamReply(ctx context.Context, cm model.BaseChatModel, prompt string, onDelta func(string)) (string, error) {
	sr, err := cm.Stream(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", err
	}
	defer sr.Close()

	var b strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		onDelta(chunk.Content)
	}
	if b.Len() == 0 {
		return "", llm.ErrEmptyResponse
	}
	return b.String(), nil
}

// History returns a copy of the chat history.
func (s *Session) History() []models.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatTurn, len(s.history))
	copy(out, s.history)
	return out
}

// Transcript returns the history in export form.
func (s *Session) Transcript() *models.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]models.ChatTurn, len(s.history))
	copy(turns, s.history)
	return &models.Transcript{
		SessionID:  s.id,
		ExportedAt: time.Now(),
		Table:      s.table.Info(),
		Turns:      turns,
	}
}

// Snapshot returns the rendered session state.
func (s *Session) Snapshot() *models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]models.ChatTurn, len(s.history))
	copy(history, s.history)
	snap := &models.SessionSnapshot{
		ID:           s.id,
		Configured:   s.configured,
		Table:        s.table.Info(),
		History:      history,
		Asking:       s.asking,
		CreatedAt:    s.createdAt,
		LastAccessed: s.lastAccessed,
	}
	if s.configured && s.factory != nil {
		snap.Provider = s.factory.Provider()
	}
	return snap
}

// Touch marks the session as in use.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccessed = time.Now()
	s.mu.Unlock()
}

// LastAccessed returns the last time the session was used.
func (s *Session) LastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

// Busy reports whether a question is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asking
}
