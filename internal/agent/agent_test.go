package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billchat/internal/llm"
	"billchat/internal/models"
)

// scriptedModel returns canned results turn by turn. For ChatStream the
// content is delivered to fn in fixed-size fragments first.
type scriptedModel struct {
	results []*llm.ChatResult
	errAt   int // 1-based call index that fails; 0 means never
	calls   int

	emitted atomic.Int64
}

func (m *scriptedModel) next() (*llm.ChatResult, error) {
	m.calls++
	if m.errAt != 0 && m.calls >= m.errAt {
		return nil, errors.New("model exploded")
	}
	if m.calls > len(m.results) {
		return nil, errors.New("scripted model exhausted")
	}
	return m.results[m.calls-1], nil
}

func (m *scriptedModel) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResult, error) {
	return m.next()
}

func (m *scriptedModel) ChatStream(ctx context.Context, req llm.ChatRequest, fn func(delta string) error) (*llm.ChatResult, error) {
	result, err := m.next()
	if err != nil {
		return nil, err
	}
	for _, fragment := range splitFragments(result.Message.Content, 3) {
		if err := fn(fragment); err != nil {
			return nil, err
		}
		m.emitted.Add(1)
	}
	return result, nil
}

func splitFragments(s string, size int) []string {
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

type stubTools struct {
	output string
	calls  []string
}

func (s *stubTools) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{{Name: "get_bill_by_number", Parameters: json.RawMessage(`{"type":"object"}`)}}
}

func (s *stubTools) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	s.calls = append(s.calls, name)
	if s.output == "" {
		return "", errors.New("tool not configured")
	}
	return s.output, nil
}

type stubStore struct {
	history []models.Message
	loadErr error
	saved   [][]models.Message
}

func (s *stubStore) LoadMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.history, nil
}

func (s *stubStore) SaveMessages(ctx context.Context, threadID string, messages []models.Message) error {
	s.saved = append(s.saved, messages)
	return nil
}

func assistant(content string, calls ...models.ToolCall) *llm.ChatResult {
	return &llm.ChatResult{
		Message: models.Message{Role: models.RoleAssistant, Content: content, ToolCalls: calls},
	}
}

func userTurn(content string) []models.Message {
	return []models.Message{{Role: models.RoleUser, Content: content}}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, &stubTools{}, &stubStore{}, Options{})
	require.Error(t, err)
	_, err = New(&scriptedModel{}, nil, &stubStore{}, Options{})
	require.Error(t, err)
	_, err = New(&scriptedModel{}, &stubTools{}, nil, Options{})
	require.Error(t, err)
}

func TestInvokeDirectAnswer(t *testing.T) {
	model := &scriptedModel{results: []*llm.ChatResult{assistant("HB 1366 covers pharmacy benefits.")}}
	a, err := New(model, &stubTools{}, &stubStore{}, Options{})
	require.NoError(t, err)

	answer, err := a.Invoke(context.Background(), "", userTurn("Tell me about HB1366"))
	require.NoError(t, err)
	assert.Equal(t, "HB 1366 covers pharmacy benefits.", answer)
}

func TestInvokeRunsToolsThenAnswers(t *testing.T) {
	model := &scriptedModel{results: []*llm.ChatResult{
		assistant("", models.ToolCall{ID: "call_1", Name: "get_bill_by_number", Arguments: json.RawMessage(`{"bill_number":"HB1366"}`)}),
		assistant("HB 1366 was introduced in January."),
	}}
	toolExec := &stubTools{output: "Bill: HB 1366\nTitle: Pharmacy benefits"}
	threadStore := &stubStore{}
	a, err := New(model, toolExec, threadStore, Options{})
	require.NoError(t, err)

	answer, err := a.Invoke(context.Background(), "t-1", userTurn("Tell me about HB1366"))
	require.NoError(t, err)
	assert.Equal(t, "HB 1366 was introduced in January.", answer)
	assert.Equal(t, []string{"get_bill_by_number"}, toolExec.calls)

	require.Len(t, threadStore.saved, 1)
	saved := threadStore.saved[0]
	// user, assistant tool request, tool observation, final assistant;
	// the system prompt is never persisted.
	require.Len(t, saved, 4)
	assert.Equal(t, models.RoleUser, saved[0].Role)
	assert.Equal(t, models.RoleTool, saved[2].Role)
	assert.Equal(t, models.RoleAssistant, saved[3].Role)
}

func TestInvokeToolFailureFedBack(t *testing.T) {
	model := &scriptedModel{results: []*llm.ChatResult{
		assistant("", models.ToolCall{ID: "call_1", Name: "get_bill_by_number", Arguments: json.RawMessage(`{}`)}),
		assistant("I could not look that bill up."),
	}}
	a, err := New(model, &stubTools{}, &stubStore{}, Options{})
	require.NoError(t, err)

	answer, err := a.Invoke(context.Background(), "", userTurn("Tell me about HB1366"))
	require.NoError(t, err)
	assert.Equal(t, "I could not look that bill up.", answer)
}

func TestInvokePostFormat(t *testing.T) {
	model := &scriptedModel{results: []*llm.ChatResult{
		assistant("raw answer"),
		assistant("polished answer"),
	}}
	a, err := New(model, &stubTools{}, &stubStore{}, Options{PostFormat: true})
	require.NoError(t, err)

	answer, err := a.Invoke(context.Background(), "", userTurn("hi"))
	require.NoError(t, err)
	assert.Equal(t, "polished answer", answer)
	assert.Equal(t, 2, model.calls)
}

func TestInvokeRejectsEmptyTurn(t *testing.T) {
	a, err := New(&scriptedModel{}, &stubTools{}, &stubStore{}, Options{})
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestInvokeStepCap(t *testing.T) {
	loop := assistant("", models.ToolCall{ID: "c", Name: "get_bill_by_number", Arguments: json.RawMessage(`{}`)})
	model := &scriptedModel{results: []*llm.ChatResult{loop, loop, loop}}
	a, err := New(model, &stubTools{output: "data"}, &stubStore{}, Options{MaxSteps: 3})
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), "", userTurn("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish")
}

func collect(t *testing.T, st *Stream) ([]Event, error) {
	t.Helper()
	var events []Event
	for ev := range st.Events() {
		events = append(events, ev)
	}
	return events, st.Err()
}

func TestStreamEmitsChunksInOrder(t *testing.T) {
	model := &scriptedModel{results: []*llm.ChatResult{assistant("Hello there")}}
	a, err := New(model, &stubTools{}, &stubStore{}, Options{})
	require.NoError(t, err)

	st, err := a.Stream(context.Background(), "", userTurn("hi"))
	require.NoError(t, err)

	events, streamErr := collect(t, st)
	require.NoError(t, streamErr)

	var text string
	for _, ev := range events {
		chunk, ok := ev.(ChunkEvent)
		require.True(t, ok)
		text += chunk.Text
	}
	assert.Equal(t, "Hello there", text)
}

func TestStreamEmitsToolTraffic(t *testing.T) {
	model := &scriptedModel{results: []*llm.ChatResult{
		assistant("", models.ToolCall{ID: "call_1", Name: "get_bill_by_number", Arguments: json.RawMessage(`{}`)}),
		assistant("Done"),
	}}
	a, err := New(model, &stubTools{output: "Bill: HB 1366"}, &stubStore{}, Options{})
	require.NoError(t, err)

	st, err := a.Stream(context.Background(), "", userTurn("hi"))
	require.NoError(t, err)

	events, streamErr := collect(t, st)
	require.NoError(t, streamErr)

	var toolEvents []MessageEvent
	for _, ev := range events {
		if msg, ok := ev.(MessageEvent); ok {
			toolEvents = append(toolEvents, msg)
		}
	}
	require.Len(t, toolEvents, 1)
	assert.Equal(t, models.RoleTool, toolEvents[0].Role)
	assert.Equal(t, "get_bill_by_number", toolEvents[0].ToolName)
	assert.Equal(t, "Bill: HB 1366", toolEvents[0].Content)
}

func TestStreamErrorEndIsDistinct(t *testing.T) {
	model := &scriptedModel{
		results: []*llm.ChatResult{assistant("Hello")},
		errAt:   1,
	}
	a, err := New(model, &stubTools{}, &stubStore{}, Options{})
	require.NoError(t, err)

	st, err := a.Stream(context.Background(), "", userTurn("hi"))
	require.NoError(t, err)

	_, streamErr := collect(t, st)
	require.Error(t, streamErr)
	assert.Contains(t, streamErr.Error(), "model exploded")
}

func TestStreamLoadFailureBeforeFirstEvent(t *testing.T) {
	threadStore := &stubStore{loadErr: errors.New("backend down")}
	a, err := New(&scriptedModel{}, &stubTools{}, threadStore, Options{})
	require.NoError(t, err)

	_, err = a.Stream(context.Background(), "t-1", userTurn("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestStreamCloseStopsProducer(t *testing.T) {
	model := &scriptedModel{results: []*llm.ChatResult{assistant("a long answer that streams in many fragments")}}
	a, err := New(model, &stubTools{}, &stubStore{}, Options{})
	require.NoError(t, err)

	st, err := a.Stream(context.Background(), "", userTurn("hi"))
	require.NoError(t, err)

	// Take one event, then hang up.
	<-st.Events()
	st.Close()

	// The sequence must still terminate.
	for range st.Events() {
	}
	require.NoError(t, st.Err())

	emitted := model.emitted.Load()
	assert.Less(t, emitted, int64(10), "producer kept pulling after close (emitted %d)", emitted)
}

func TestStreamBackpressure(t *testing.T) {
	model := &scriptedModel{results: []*llm.ChatResult{assistant("abcdefghijklmnopqrstuvwxyz")}}
	a, err := New(model, &stubTools{}, &stubStore{}, Options{})
	require.NoError(t, err)

	st, err := a.Stream(context.Background(), "", userTurn("hi"))
	require.NoError(t, err)
	defer st.Close()

	// Drain two events, then stall. The channel is unbuffered, so the
	// producer can be at most one emit ahead of the consumer.
	<-st.Events()
	<-st.Events()
	time.Sleep(50 * time.Millisecond)

	pulled := model.emitted.Load()
	assert.LessOrEqual(t, pulled, int64(3), "producer ran ahead of a stalled consumer")
}
