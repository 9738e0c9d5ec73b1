// Package llm is the HTTP client for the OpenAI-compatible model provider.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"billchat/internal/config"
	"billchat/internal/models"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "billchat/0.1"

	maxErrorBodyBytes = 64 * 1024
	maxSSELineBytes   = 1 << 20
)

// Client talks to an OpenAI-compatible chat/embeddings API.
type Client struct {
	apiKey         string
	chatModel      string
	embeddingModel string
	client         *http.Client
	chatURL        string
	embeddingsURL  string
}

// New creates a model-provider client.
func New(cfg config.ModelConfig, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	if strings.TrimSpace(cfg.ChatModel) == "" {
		return nil, errors.New("chat model must not be empty")
	}

	return &Client{
		apiKey:         cfg.APIKey,
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		client:         client,
		chatURL:        baseURL + "/chat/completions",
		embeddingsURL:  baseURL + "/embeddings",
	}, nil
}

// ToolDefinition describes a function tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ChatRequest carries one model invocation.
type ChatRequest struct {
	Messages    []models.Message
	Tools       []ToolDefinition
	Temperature *float64
}

// ChatResult is the assistant's reply: text content, tool calls, or both.
type ChatResult struct {
	Message      models.Message
	FinishReason string
}

// Chat runs a non-streaming completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	payload, err := c.buildChatPayload(req, false)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.chatURL, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model chat request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var resp chatResponse
	if err := decodeJSON(httpResp.Body, &resp); err != nil {
		return nil, err
	}
	return resp.toResult()
}

// ChatStream runs a streaming completion, invoking fn once per text delta.
// fn blocking is the backpressure point: no further SSE frames are read
// until it returns. Tool-call deltas are accumulated and returned on the
// assembled result rather than passed to fn.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, fn func(delta string) error) (*ChatResult, error) {
	payload, err := c.buildChatPayload(req, true)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.chatURL, payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model stream request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	acc := newStreamAccumulator()
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	done := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			done = true
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			return nil, fmt.Errorf("model stream error (%s): %s", chunk.Error.Type, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		acc.apply(choice)

		if delta := choice.Delta.Content; delta != "" {
			if err := fn(delta); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read model stream: %w", err)
	}
	if !done {
		return nil, errors.New("model stream ended without terminator")
	}

	return acc.result(), nil
}

// Embed returns the embedding vector for a single input text.
func (c *Client) Embed(ctx context.Context, input string) ([]float64, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errors.New("embedding input must not be empty")
	}

	payload := embeddingsPayload{
		Model: c.embeddingModel,
		Input: []string{input},
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.embeddingsURL, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var resp embeddingsResponse
	if err := decodeJSON(httpResp.Body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response did not include data")
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return req, nil
}
