package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nugget/cortexcart/internal/httpkit"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (OpenAI itself, vLLM, llama.cpp server, LM Studio, OpenRouter).
type OpenAIClient struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client. An empty baseURL selects the public
// OpenAI API; local servers usually accept any apiKey.
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = httpkit.NewClient(
		httpkit.WithTimeout(0),
		httpkit.WithTransport(t),
	)

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With("provider", "openai"),
	}
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, opts *Options) (*ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if opts != nil {
		req.MaxTokens = opts.MaxTokens
		if opts.Temperature != nil {
			req.Temperature = float32(*opts.Temperature)
			// A zero float32 is dropped by omitempty; send the smallest
			// nonzero value so the request stays deterministic.
			if req.Temperature == 0 {
				req.Temperature = math.SmallestNonzeroFloat32
			}
		}
	}

	c.logger.Debug("preparing request", "model", model, "messages", len(req.Messages))

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	out := &ChatResponse{
		Model:        resp.Model,
		CreatedAt:    time.Unix(resp.Created, 0),
		Done:         true,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Message:      Message{Role: RoleAssistant},
	}
	if len(resp.Choices) > 0 {
		out.Message.Content = resp.Choices[0].Message.Content
	}

	c.logger.Debug("chat completed",
		"model", resp.Model,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
	)
	return out, nil
}

// Ping lists models to verify the endpoint and key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return c.classify(ctx, err)
	}
	return nil
}

// classify maps go-openai errors onto the package error contract.
func (c *OpenAIClient) classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError("openai", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError("openai", reqErr.HTTPStatusCode, fmt.Sprint(reqErr.Err))
	}
	return transportError(ctx, "openai", err)
}
