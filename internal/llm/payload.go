package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"billchat/internal/models"
)

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (c *Client) buildChatPayload(req ChatRequest, stream bool) (chatPayload, error) {
	if len(req.Messages) == 0 {
		return chatPayload{}, errors.New("at least one message is required")
	}

	messages := make([]wireMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		wm := wireMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   call.ID,
				Type: "function",
				Function: wireFunctionCall{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		messages = append(messages, wm)
	}

	payload := chatPayload{
		Model:       c.chatModel,
		Messages:    messages,
		Stream:      stream,
		Temperature: req.Temperature,
	}

	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	return payload, nil
}

type chatResponse struct {
	ID      string          `json:"id"`
	Choices []chatChoice    `json:"choices"`
	Error   *apiErrorObject `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

func (r chatResponse) toResult() (*ChatResult, error) {
	if len(r.Choices) == 0 {
		return nil, errors.New("model response did not include choices")
	}

	choice := r.Choices[0]
	msg := models.Message{
		Role:       choice.Message.Role,
		Content:    choice.Message.Content,
		Name:       choice.Message.Name,
		ToolCallID: choice.Message.ToolCallID,
	}
	if msg.Role == "" {
		msg.Role = models.RoleAssistant
	}
	for _, call := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}

	return &ChatResult{
		Message:      msg,
		FinishReason: choice.FinishReason,
	}, nil
}

type streamChunk struct {
	Choices []streamChoice  `json:"choices"`
	Error   *apiErrorObject `json:"error,omitempty"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamDelta struct {
	Content   string                `json:"content"`
	ToolCalls []streamToolCallDelta `json:"tool_calls,omitempty"`
}

type streamToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// streamAccumulator reassembles the full assistant message from streamed
// deltas: text content plus fragmented tool-call arguments keyed by index.
type streamAccumulator struct {
	content      strings.Builder
	toolCalls    []*accToolCall
	finishReason string
}

type accToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

func (a *streamAccumulator) apply(choice streamChoice) {
	a.content.WriteString(choice.Delta.Content)

	for _, delta := range choice.Delta.ToolCalls {
		for len(a.toolCalls) <= delta.Index {
			a.toolCalls = append(a.toolCalls, &accToolCall{})
		}
		call := a.toolCalls[delta.Index]
		if delta.ID != "" {
			call.id = delta.ID
		}
		if delta.Function.Name != "" {
			call.name = delta.Function.Name
		}
		call.args.WriteString(delta.Function.Arguments)
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		a.finishReason = *choice.FinishReason
	}
}

func (a *streamAccumulator) result() *ChatResult {
	msg := models.Message{
		Role:    models.RoleAssistant,
		Content: a.content.String(),
	}
	for _, call := range a.toolCalls {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:        call.id,
			Name:      call.name,
			Arguments: json.RawMessage(call.args.String()),
		})
	}
	return &ChatResult{Message: msg, FinishReason: a.finishReason}
}

type embeddingsPayload struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []embeddingDatum `json:"data"`
}

type embeddingDatum struct {
	Embedding []float64 `json:"embedding"`
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("model error (%s): %s", apiErr.Error.Type, apiErr.Error.Message)
	}

	return fmt.Errorf("upstream error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func decodeJSON(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
