package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/questionextractor/internal/metrics"
	"github.com/local/questionextractor/internal/question"
)

const providerOpenAI = "openai"

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIClient calls the chat completions endpoint with a strict JSON schema
// response format and validates the returned content locally.
type OpenAIClient struct {
	http *http.Client
	cfg  OpenAIConfig
}

// NewOpenAIClient builds a client for a single credential.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-2024-08-06"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{http: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}, nil
}

func (c *OpenAIClient) Name() string { return providerOpenAI }

type openAIMessage struct {
	Role    string                   `json:"role"`
	Content []map[string]interface{} `json:"content"`
}

type openAIResponseFormat struct {
	Type       string         `json:"type"`
	JSONSchema map[string]any `json:"json_schema"`
}

type openAIChatReq struct {
	Model          string               `json:"model"`
	Messages       []openAIMessage      `json:"messages"`
	ResponseFormat openAIResponseFormat `json:"response_format"`
}

type openAIChatResp struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
			Refusal *string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) ExtractQuestions(ctx context.Context, req Request) (question.Page, Usage, error) {
	start := time.Now()
	page, usage, err := c.do(ctx, req)
	result := "success"
	switch {
	case err == nil:
	case IsRateLimited(err):
		result = "rate_limited"
	case IsContentRefused(err):
		result = "content_refused"
	case errors.Is(err, ErrSchemaMismatch):
		result = "schema_mismatch"
	default:
		result = "error"
	}
	metrics.ObserveProvider(c.cfg.Model, result, time.Since(start))
	metrics.AddTokens(usage.TokensIn, usage.TokensOut)
	return page, usage, err
}

func (c *OpenAIClient) do(ctx context.Context, req Request) (question.Page, Usage, error) {
	var messages []openAIMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{
			Role:    "system",
			Content: []map[string]interface{}{{"type": "text", "text": req.SystemPrompt}},
		})
	}

	userContent := []map[string]interface{}{{"type": "text", "text": req.UserText}}
	if req.ImageBase64 != "" {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		userContent = append(userContent, map[string]interface{}{
			"type":      "image_url",
			"image_url": map[string]string{"url": fmt.Sprintf("data:%s;base64,%s", mime, req.ImageBase64)},
		})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: userContent})

	payload := openAIChatReq{
		Model:    c.cfg.Model,
		Messages: messages,
		ResponseFormat: openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: map[string]any{
				"name":   question.SchemaName,
				"strict": true,
				"schema": question.PageSchema(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return question.Page{}, Usage{}, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return question.Page{}, Usage{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return question.Page{}, Usage{}, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return question.Page{}, Usage{}, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return question.Page{}, Usage{}, &StatusError{Provider: providerOpenAI, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var r openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return question.Page{}, Usage{}, fmt.Errorf("decode openai response: %w", err)
	}
	usage := Usage{TokensIn: r.Usage.PromptTokens, TokensOut: r.Usage.CompletionTokens}
	if len(r.Choices) == 0 {
		return question.Page{}, usage, errors.New("no choices in openai response")
	}
	msg := r.Choices[0].Message
	if msg.Refusal != nil && *msg.Refusal != "" {
		return question.Page{}, usage, fmt.Errorf("%w: %s", ErrContentRefused, *msg.Refusal)
	}
	if msg.Content == nil {
		return question.Page{}, usage, fmt.Errorf("%w: empty content (finish_reason=%s)", ErrSchemaMismatch, r.Choices[0].FinishReason)
	}

	page, err := question.ParsePage([]byte(*msg.Content))
	if err != nil {
		return question.Page{}, usage, err
	}

	log.Debug().
		Str("extraction_id", req.ExtractionID).
		Int("page", req.PageIndex+1).
		Str("model", c.cfg.Model).
		Int("tokens_in", usage.TokensIn).
		Int("tokens_out", usage.TokensOut).
		Int("questions", len(page.Questions)).
		Msg("model call ok")

	return page, usage, nil
}
