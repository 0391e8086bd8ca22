package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel   = "gemini-pro"
)

// GeminiOption configures a GeminiClient.
type GeminiOption func(*geminiOptions)

type geminiOptions struct {
	apiKey      string
	model       string
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	temperature float32
	maxTokens   int
}

func defaultGeminiOptions() geminiOptions {
	return geminiOptions{
		model:   DefaultGeminiModel,
		baseURL: DefaultGeminiBaseURL,
		timeout: 60 * time.Second,
	}
}

func WithAPIKey(key string) GeminiOption {
	return func(o *geminiOptions) { o.apiKey = key }
}

func WithModel(name string) GeminiOption {
	return func(o *geminiOptions) {
		if name != "" {
			o.model = name
		}
	}
}

func WithBaseURL(u string) GeminiOption {
	return func(o *geminiOptions) {
		if u != "" {
			o.baseURL = u
		}
	}
}

func WithHTTPClient(c *http.Client) GeminiOption {
	return func(o *geminiOptions) { o.httpClient = c }
}

func WithTimeout(d time.Duration) GeminiOption {
	return func(o *geminiOptions) { o.timeout = d }
}

func WithTemperature(t float32) GeminiOption {
	return func(o *geminiOptions) { o.temperature = t }
}

func WithMaxTokens(n int) GeminiOption {
	return func(o *geminiOptions) { o.maxTokens = n }
}

// GeminiClient talks to the Generative Language REST API and satisfies
// eino's model.BaseChatModel.
type GeminiClient struct {
	opts       geminiOptions
	httpClient *http.Client
}

var _ model.BaseChatModel = (*GeminiClient)(nil)

// NewGeminiClient builds a client. It performs no network calls.
func NewGeminiClient(opts ...GeminiOption) *GeminiClient {
	o := defaultGeminiOptions()
	for _, opt := range opts {
		opt(&o)
	}
	hc := o.httpClient
	if hc == nil {
		// No client-wide timeout: it would also cap the body of a stream.
		// Each call bounds itself with the context instead.
		hc = &http.Client{}
	}
	return &GeminiClient{opts: o, httpClient: hc}
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.opts.model
}

// VerifyKey checks the key by fetching the model's metadata.
func (c *GeminiClient) VerifyKey(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.opts.model, ""), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Generate sends the messages as a single generateContent call.
func (c *GeminiClient) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	payload, modelName, err := c.buildRequest(input, opts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := c.doRequest(ctx, modelName, payload, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp geminiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	text := resp.JoinText()
	if text == "" {
		if reason := resp.PromptFeedback.BlockReason; reason != "" {
			return nil, fmt.Errorf("gemini: prompt blocked: %s", reason)
		}
		return nil, fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream uses streamGenerateContent with server-sent events and forwards
// each text delta as a message chunk.
func (c *GeminiClient) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	payload, modelName, err := c.buildRequest(input, opts)
	if err != nil {
		return nil, err
	}
	// The timeout covers waiting for the response headers only; once the
	// stream is open it runs until the caller's context ends.
	ctx, cancel := context.WithCancel(ctx)
	var timer *time.Timer
	if c.opts.timeout > 0 {
		timer = time.AfterFunc(c.opts.timeout, cancel)
	}
	body, err := c.doRequest(ctx, modelName, payload, true)
	if timer != nil && !timer.Stop() {
		if body != nil {
			body.Close()
		}
		cancel()
		return nil, fmt.Errorf("gemini: waiting for stream: %w", context.DeadlineExceeded)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	sr, sw := schema.Pipe[*schema.Message](16)
	go func() {
		defer cancel()
		defer body.Close()
		defer sw.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if line == "" || line == "[DONE]" {
				continue
			}
			var chunk geminiResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				sw.Send(nil, fmt.Errorf("decode gemini stream: %w", err))
				return
			}
			if text := chunk.JoinText(); text != "" {
				if closed := sw.Send(schema.AssistantMessage(text, nil), nil); closed {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			sw.Send(nil, err)
		}
	}()
	return sr, nil
}

func (c *GeminiClient) buildRequest(input []*schema.Message, opts []model.Option) (*geminiRequest, string, error) {
	common := model.GetCommonOptions(&model.Options{}, opts...)
	modelName := c.opts.model
	if common.Model != nil && *common.Model != "" {
		modelName = *common.Model
	}

	req := &geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     c.opts.temperature,
			MaxOutputTokens: c.opts.maxTokens,
		},
	}
	if common.Temperature != nil {
		req.GenerationConfig.Temperature = *common.Temperature
	}
	if common.MaxTokens != nil {
		req.GenerationConfig.MaxOutputTokens = *common.MaxTokens
	}
	if common.TopP != nil {
		req.GenerationConfig.TopP = *common.TopP
	}

	var system []string
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			req.Contents = append(req.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}
	if len(system) > 0 {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
	}
	if len(req.Contents) == 0 {
		return nil, "", errors.New("gemini: request requires messages")
	}
	return req, modelName, nil
}

// endpoint never carries the API key: URLs end up in transport errors.
func (c *GeminiClient) endpoint(modelName, method string) string {
	u := strings.TrimRight(c.opts.baseURL, "/") + "/models/" + url.PathEscape(modelName) + method
	if method == ":streamGenerateContent" {
		u += "?alt=sse"
	}
	return u
}

func (c *GeminiClient) authorize(req *http.Request) {
	if c.opts.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.opts.apiKey)
	}
}

func (c *GeminiClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.timeout)
}

// transportError drops the request URL from a *url.Error so that error text
// shown to users holds only the cause.
func transportError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return fmt.Errorf("gemini: %s request failed: %w", strings.ToLower(uerr.Op), uerr.Err)
	}
	return err
}

func (c *GeminiClient) doRequest(ctx context.Context, modelName string, payload *geminiRequest, stream bool) (io.ReadCloser, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return nil, err
	}
	method := ":generateContent"
	if stream {
		method = ":streamGenerateContent"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(modelName, method), buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

// decodeError reads at most 4 KiB of the error body.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{Provider: "gemini", StatusCode: resp.StatusCode}

	var env geminiErrorEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error.Message != "" {
		apiErr.Status = env.Error.Status
		apiErr.Message = env.Error.Message
		for _, d := range env.Error.Details {
			if d.Reason != "" {
				apiErr.Reason = d.Reason
				break
			}
		}
		return apiErr
	}
	apiErr.Status = http.StatusText(resp.StatusCode)
	apiErr.Message = strings.TrimSpace(string(data))
	return apiErr
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	TopP            float32 `json:"topP,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

func (r geminiResponse) JoinText() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

type geminiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Reason string `json:"reason"`
		} `json:"details"`
	} `json:"error"`
}
