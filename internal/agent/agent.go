// Package agent drives the conversational pipeline over the bill dataset:
// model calls, tool dispatch, and thread-state persistence, exposed either
// as one aggregate answer or as a lazy event stream.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"billchat/internal/llm"
	"billchat/internal/models"
)

const systemPrompt = `You are a helpful assistant answering questions about Missouri legislative bills. ` +
	`Use the available tools to search bills, look up bill details, legislators, timelines, and committee hearings. ` +
	`Ground every answer in tool results; if the data does not contain an answer, say so.`

const postFormatPrompt = `Rewrite the following answer for a chat interface: keep every fact, ` +
	`tighten the wording, and use plain sentences.`

// ErrNoMessages indicates a turn without a current user message.
var ErrNoMessages = errors.New("at least one message is required")

// errStreamClosed stops the producer once the consumer has hung up.
var errStreamClosed = errors.New("stream closed by consumer")

// ModelClient is the model-provider surface the agent drives. Satisfied by
// *llm.Client.
type ModelClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResult, error)
	ChatStream(ctx context.Context, req llm.ChatRequest, fn func(delta string) error) (*llm.ChatResult, error)
}

// ToolExecutor dispatches the agent's tools. Satisfied by *tools.Registry.
type ToolExecutor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// ThreadStore persists conversation state keyed by thread identifier.
// Satisfied by *store.Client.
type ThreadStore interface {
	LoadMessages(ctx context.Context, threadID string) ([]models.Message, error)
	SaveMessages(ctx context.Context, threadID string, messages []models.Message) error
}

// Options tunes the turn pipeline.
type Options struct {
	MaxSteps int
	// PostFormat runs the aggregate answer through a second model pass
	// purely for presentation. Off unless explicitly configured.
	PostFormat bool
}

// Agent runs conversational turns.
type Agent struct {
	model      ModelClient
	tools      ToolExecutor
	store      ThreadStore
	maxSteps   int
	postFormat bool
}

// New wires an agent. Missing collaborators fail here, before any turn
// produces a single event.
func New(model ModelClient, toolExec ToolExecutor, threadStore ThreadStore, opts Options) (*Agent, error) {
	if model == nil {
		return nil, errors.New("model client must not be nil")
	}
	if toolExec == nil {
		return nil, errors.New("tool executor must not be nil")
	}
	if threadStore == nil {
		return nil, errors.New("thread store must not be nil")
	}

	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 8
	}

	return &Agent{
		model:      model,
		tools:      toolExec,
		store:      threadStore,
		maxSteps:   maxSteps,
		postFormat: opts.PostFormat,
	}, nil
}

// Invoke runs the turn to completion and returns the final assistant text.
// An empty threadID makes the turn stateless.
func (a *Agent) Invoke(ctx context.Context, threadID string, incoming []models.Message) (string, error) {
	history, err := a.prepare(ctx, threadID, incoming)
	if err != nil {
		return "", err
	}

	for step := 0; step < a.maxSteps; step++ {
		result, err := a.model.Chat(ctx, llm.ChatRequest{
			Messages: history,
			Tools:    a.tools.Definitions(),
		})
		if err != nil {
			return "", fmt.Errorf("model invocation: %w", err)
		}
		history = append(history, result.Message)

		if len(result.Message.ToolCalls) == 0 {
			answer := result.Message.Content
			if a.postFormat {
				answer, err = a.reformat(ctx, answer)
				if err != nil {
					return "", err
				}
				history[len(history)-1].Content = answer
			}
			a.persist(ctx, threadID, history)
			return answer, nil
		}

		history, _ = a.runTools(ctx, history, result.Message.ToolCalls, nil)
	}

	return "", fmt.Errorf("turn did not finish within %d steps", a.maxSteps)
}

// Stream runs the turn lazily. The returned sequence is finite and
// single-pass; backend failures before the first event surface as the
// error return, later failures end the sequence with a non-nil Err.
func (a *Agent) Stream(ctx context.Context, threadID string, incoming []models.Message) (*Stream, error) {
	history, err := a.prepare(ctx, threadID, incoming)
	if err != nil {
		return nil, err
	}

	st, w := NewStream()

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		// Consumer hang-up cancels in-flight model reads.
		select {
		case <-st.closed:
			cancel()
		case <-runCtx.Done():
		}
	}()

	go func() {
		defer cancel()
		err := a.run(runCtx, w, threadID, history)
		if errors.Is(err, errStreamClosed) {
			err = nil
		}
		w.Finish(err)
	}()

	return st, nil
}

func (a *Agent) run(ctx context.Context, w *StreamWriter, threadID string, history []models.Message) error {
	for step := 0; step < a.maxSteps; step++ {
		result, err := a.model.ChatStream(ctx, llm.ChatRequest{
			Messages: history,
			Tools:    a.tools.Definitions(),
		}, func(delta string) error {
			if !w.Emit(ChunkEvent{Text: delta}) {
				return errStreamClosed
			}
			return nil
		})
		if err != nil {
			return err
		}
		history = append(history, result.Message)

		if len(result.Message.ToolCalls) == 0 {
			// The answer is already on the wire; a failed save is an
			// operational problem, not a turn failure.
			if saveErr := a.save(ctx, threadID, history); saveErr != nil {
				slog.Error("failed to persist thread state", "thread_id", threadID, "error", saveErr)
			}
			return nil
		}

		var ok bool
		history, ok = a.runTools(ctx, history, result.Message.ToolCalls, w)
		if !ok {
			return errStreamClosed
		}
	}

	return fmt.Errorf("turn did not finish within %d steps", a.maxSteps)
}

// runTools executes each requested tool and appends the observations to the
// history. Tool failures are fed back to the model as observations rather
// than failing the turn. When w is non-nil every observation is also
// emitted as internal tool traffic.
func (a *Agent) runTools(ctx context.Context, history []models.Message, calls []models.ToolCall, w *StreamWriter) ([]models.Message, bool) {
	for _, call := range calls {
		output, err := a.tools.Execute(ctx, call.Name, call.Arguments)
		if err != nil {
			slog.Warn("tool execution failed", "tool", call.Name, "error", err)
			output = fmt.Sprintf("tool %s failed: %v", call.Name, err)
		}

		history = append(history, models.Message{
			Role:       models.RoleTool,
			Content:    output,
			Name:       call.Name,
			ToolCallID: call.ID,
		})

		if w != nil {
			if !w.Emit(MessageEvent{Role: models.RoleTool, Content: output, ToolName: call.Name}) {
				return history, false
			}
		}
	}
	return history, true
}

// prepare resolves the working history for a turn: persisted context first,
// then the incoming messages, under the system prompt.
func (a *Agent) prepare(ctx context.Context, threadID string, incoming []models.Message) ([]models.Message, error) {
	if len(incoming) == 0 {
		return nil, ErrNoMessages
	}

	history := []models.Message{{Role: models.RoleSystem, Content: systemPrompt}}

	if threadID != "" {
		persisted, err := a.store.LoadMessages(ctx, threadID)
		if err != nil {
			return nil, fmt.Errorf("load thread %s: %w", threadID, err)
		}
		history = append(history, persisted...)
	}

	return append(history, incoming...), nil
}

func (a *Agent) persist(ctx context.Context, threadID string, history []models.Message) {
	if err := a.save(ctx, threadID, history); err != nil {
		slog.Error("failed to persist thread state", "thread_id", threadID, "error", err)
	}
}

// save strips the system prompt before writing; it is re-applied each turn.
func (a *Agent) save(ctx context.Context, threadID string, history []models.Message) error {
	if threadID == "" {
		return nil
	}

	persisted := make([]models.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}
		persisted = append(persisted, msg)
	}
	return a.store.SaveMessages(ctx, threadID, persisted)
}

func (a *Agent) reformat(ctx context.Context, answer string) (string, error) {
	result, err := a.model.Chat(ctx, llm.ChatRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: postFormatPrompt},
			{Role: models.RoleUser, Content: answer},
		},
	})
	if err != nil {
		return "", fmt.Errorf("post-format pass: %w", err)
	}
	return result.Message.Content, nil
}
