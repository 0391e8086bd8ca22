package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csv-chatbot/backend/internal/config"
)

func TestFactory_Gemini(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("key") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":{"code":401,"message":"unauthenticated","status":"UNAUTHENTICATED"}}`)
			return
		}
		io.WriteString(w, `{"name":"models/gemini-pro"}`)
	}))
	defer server.Close()

	cfg := config.DefaultConfig().Model
	cfg.BaseURL = server.URL
	f := NewFactory(cfg, server.Client())
	assert.Equal(t, config.ProviderGemini, f.Provider())

	cm, err := f.NewChatModel(context.Background(), " good ")
	require.NoError(t, err)
	assert.IsType(t, &GeminiClient{}, cm)

	_, err = f.NewChatModel(context.Background(), "bad")
	assert.True(t, IsAuthError(err))
	assert.Equal(t, 2, calls)
}

func TestFactory_SkipVerify(t *testing.T) {
	cfg := config.DefaultConfig().Model
	cfg.VerifyKey = false
	cfg.BaseURL = "http://127.0.0.1:1"

	cm, err := NewFactory(cfg, nil).NewChatModel(context.Background(), "anything")
	require.NoError(t, err)
	assert.NotNil(t, cm)
}

func TestFactory_Errors(t *testing.T) {
	cfg := config.DefaultConfig().Model
	_, err := NewFactory(cfg, nil).NewChatModel(context.Background(), "  ")
	assert.Error(t, err)

	cfg.Provider = "openai"
	_, err = NewFactory(cfg, nil).NewChatModel(context.Background(), "k")
	assert.ErrorContains(t, err, "unsupported model provider")
}

func TestFactory_Ark(t *testing.T) {
	cfg := config.DefaultConfig().Model
	cfg.Provider = config.ProviderArk
	cfg.Name = "ep-test"

	cm, err := NewFactory(cfg, nil).NewChatModel(context.Background(), "ark-key")
	require.NoError(t, err)
	assert.NotNil(t, cm)
}
