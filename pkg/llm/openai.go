package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/acervolabs/acervo/pkg/apperr"
)

const (
	openAIBaseURL   = "https://api.openai.com/v1"
	ollamaBaseURL   = "http://localhost:11434/v1"
	lmStudioBaseURL = "http://localhost:1234/v1"
)

// OpenAICompatProvider is a Provider over the OpenAI wire format. The
// cloud OpenAI API, Ollama, and LM Studio all serve it; the three
// constructors differ only in defaults and authentication.
type OpenAICompatProvider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     hclog.Logger
}

var _ Provider = (*OpenAICompatProvider)(nil)
var _ BatchEmbedder = (*OpenAICompatProvider)(nil)

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey  string        // required
	BaseURL string        // default: https://api.openai.com/v1
	Timeout time.Duration // HTTP timeout (default: 60s)
	Logger  hclog.Logger  // optional
}

// NewOpenAIProvider creates a provider for the OpenAI cloud API.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAICompatProvider, error) {
	if config.APIKey == "" {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "OpenAI API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = openAIBaseURL
	}
	return newCompatProvider("openai", config.BaseURL, config.APIKey, config.Timeout, config.Logger), nil
}

// LocalConfig holds configuration for a local OpenAI-compatible server
// (Ollama, LM Studio). No credentials are required.
type LocalConfig struct {
	BaseURL string        // default depends on the constructor
	Timeout time.Duration // HTTP timeout (default: 60s)
	Logger  hclog.Logger  // optional
}

// NewOllamaProvider creates a provider for a local Ollama server.
func NewOllamaProvider(config LocalConfig) *OpenAICompatProvider {
	if config.BaseURL == "" {
		config.BaseURL = ollamaBaseURL
	}
	return newCompatProvider("ollama", config.BaseURL, "", config.Timeout, config.Logger)
}

// NewLMStudioProvider creates a provider for a local LM Studio server.
func NewLMStudioProvider(config LocalConfig) *OpenAICompatProvider {
	if config.BaseURL == "" {
		config.BaseURL = lmStudioBaseURL
	}
	return newCompatProvider("lmstudio", config.BaseURL, "", config.Timeout, config.Logger)
}

func newCompatProvider(name, baseURL, apiKey string, timeout time.Duration, logger hclog.Logger) *OpenAICompatProvider {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &OpenAICompatProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named(name + "-provider"),
	}
}

// Name returns the provider name.
func (p *OpenAICompatProvider) Name() string {
	return p.name
}

// Models lists the models the server currently serves.
func (p *OpenAICompatProvider) Models(ctx context.Context) ([]string, error) {
	var resp modelsResponse
	if err := p.do(ctx, http.MethodGet, "/models", nil, &resp); err != nil {
		return nil, err
	}

	models := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// Embed returns the embedding vector for one text.
func (p *OpenAICompatProvider) Embed(ctx context.Context, text, model string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds multiple texts in a single request. Results come back
// in input order.
func (p *OpenAICompatProvider) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := embeddingsRequest{Model: model, Input: texts}
	var resp embeddingsResponse
	if err := p.do(ctx, http.MethodPost, "/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, apperr.Newf(apperr.KindProviderUnavailable,
			"%s returned %d embeddings for %d inputs", p.name, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, apperr.Newf(apperr.KindProviderUnavailable,
				"%s returned embedding with index %d out of range", p.name, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	p.logger.Debug("embedded batch",
		"model", model,
		"inputs", len(texts),
		"tokens_used", resp.Usage.TotalTokens,
	)
	return vectors, nil
}

// Complete runs a chat completion.
func (p *OpenAICompatProvider) Complete(ctx context.Context, params CompletionParams) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if params.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: params.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: params.Prompt})

	req := chatRequest{
		Model:       params.Model,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
	}

	var resp chatResponse
	if err := p.do(ctx, http.MethodPost, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Newf(apperr.KindProviderUnavailable, "%s returned no choices", p.name)
	}

	p.logger.Debug("completion finished",
		"model", params.Model,
		"tokens_used", resp.Usage.TotalTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

// do sends one request and decodes the response, mapping transport and
// status failures onto apperr kinds.
func (p *OpenAICompatProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Wrap(apperr.KindTimeout, p.name+" request timed out", err)
		}
		return apperr.Wrap(apperr.KindProviderUnavailable, p.name+" is unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.KindProviderUnavailable, "failed to read "+p.name+" response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return p.statusError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperr.Wrap(apperr.KindProviderUnavailable, "failed to parse "+p.name+" response", err)
		}
	}
	return nil
}

func (p *OpenAICompatProvider) statusError(status int, body []byte) error {
	message := string(body)
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	kind := apperr.KindProviderUnavailable
	switch status {
	case http.StatusTooManyRequests:
		kind = apperr.KindRateLimited
	case http.StatusNotFound:
		kind = apperr.KindModelNotFound
	case http.StatusBadRequest:
		kind = apperr.KindInvalidInput
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = apperr.KindInvalidConfiguration
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = apperr.KindTimeout
	}

	return apperr.Newf(kind, "%s API error (%d): %s", p.name, status, message)
}

// Wire types.

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage usage `json:"usage"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
