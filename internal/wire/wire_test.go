package wire

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billchat/internal/agent"
	"billchat/internal/models"
)

func TestAdmit(t *testing.T) {
	tests := []struct {
		name string
		ev   agent.Event
		text string
		ok   bool
	}{
		{"assistant chunk", agent.ChunkEvent{Text: "Hel"}, "Hel", true},
		{"empty chunk", agent.ChunkEvent{Text: ""}, "", false},
		{"assistant message", agent.MessageEvent{Role: models.RoleAssistant, Content: "Done"}, "Done", true},
		{"empty assistant message", agent.MessageEvent{Role: models.RoleAssistant}, "", false},
		{"tool message", agent.MessageEvent{Role: models.RoleTool, Content: "Bill: HB 1366", ToolName: "get_bill_by_number"}, "", false},
		{"user message", agent.MessageEvent{Role: models.RoleUser, Content: "hi"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, ok := Admit(tt.ev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.text, text)
		})
	}
}

func TestTextEncoderVerbatim(t *testing.T) {
	var buf strings.Builder
	enc := TextEncoder{}
	require.NoError(t, enc.WriteFragment(&buf, "Hel"))
	require.NoError(t, enc.WriteFragment(&buf, "lo"))
	assert.Equal(t, "Hello", buf.String())
}

func TestDataStreamEncoderFraming(t *testing.T) {
	var buf strings.Builder
	enc := DataStreamEncoder{}
	require.NoError(t, enc.WriteFragment(&buf, "hi"))
	assert.Equal(t, "0:\"hi\"\n", buf.String())
}

func TestDataStreamEncoderEscapes(t *testing.T) {
	var buf strings.Builder
	enc := DataStreamEncoder{}
	require.NoError(t, enc.WriteFragment(&buf, "line one\nline \"two\""))
	assert.Equal(t, "0:\"line one\\nline \\\"two\\\"\"\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("pipe broke")
}

func TestEncodersSurfaceWriteErrors(t *testing.T) {
	require.Error(t, TextEncoder{}.WriteFragment(failingWriter{}, "x"))
	require.Error(t, DataStreamEncoder{}.WriteFragment(failingWriter{}, "x"))
}
