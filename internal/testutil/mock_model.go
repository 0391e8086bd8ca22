// mock_model.go - Mock chat model and factory for testing
package testutil

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockChatModel implements model.BaseChatModel for testing.
type MockChatModel struct {
	mu sync.Mutex

	// Reply is returned by Generate; Chunks are emitted by Stream (Reply is
	// sent as one chunk when Chunks is empty).
	Reply  string
	Chunks []string
	// Err fails every call.
	Err error
	// Gate, when set, blocks each call until it is closed or the context ends.
	Gate chan struct{}
	// Started receives a value when a call begins waiting on Gate.
	Started chan struct{}

	prompts []string
}

var _ model.BaseChatModel = (*MockChatModel)(nil)

// NewMockChatModel returns a model that always answers reply.
func NewMockChatModel(reply string) *MockChatModel {
	return &MockChatModel{Reply: reply}
}

func (m *MockChatModel) record(ctx context.Context, input []*schema.Message) error {
	m.mu.Lock()
	for _, msg := range input {
		m.prompts = append(m.prompts, msg.Content)
	}
	gate, started := m.Gate, m.Started
	m.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if err := m.record(ctx, input); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return schema.AssistantMessage(m.Reply, nil), nil
}

func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := m.record(ctx, input); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	chunks := m.Chunks
	if len(chunks) == 0 {
		chunks = []string{m.Reply}
	}
	msgs := make([]*schema.Message, 0, len(chunks))
	for _, c := range chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

// Prompts returns every message content the model has received.
func (m *MockChatModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// LastPrompt returns the most recent message content, or "".
func (m *MockChatModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// MockFactory hands out Model for any key except those listed in Reject.
type MockFactory struct {
	Name   string
	Model  *MockChatModel
	Reject map[string]error

	mu   sync.Mutex
	keys []string
}

// NewMockFactory returns a "gemini" factory backed by m.
func NewMockFactory(m *MockChatModel) *MockFactory {
	return &MockFactory{Name: "gemini", Model: m, Reject: map[string]error{}}
}

func (f *MockFactory) Provider() string {
	return f.Name
}

func (f *MockFactory) NewChatModel(ctx context.Context, apiKey string) (model.BaseChatModel, error) {
	f.mu.Lock()
	f.keys = append(f.keys, apiKey)
	err := f.Reject[apiKey]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Model, nil
}

// Keys returns the keys passed to NewChatModel.
func (f *MockFactory) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}
