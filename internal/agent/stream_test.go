package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEmitBlocksUntilReceived(t *testing.T) {
	st, w := NewStream()

	delivered := make(chan bool)
	go func() {
		delivered <- w.Emit(ChunkEvent{Text: "a"})
		w.Finish(nil)
	}()

	ev := <-st.Events()
	assert.Equal(t, ChunkEvent{Text: "a"}, ev)
	assert.True(t, <-delivered)

	_, open := <-st.Events()
	assert.False(t, open)
	assert.NoError(t, st.Err())
}

func TestStreamEmitAfterClose(t *testing.T) {
	st, w := NewStream()
	st.Close()
	st.Close()

	assert.False(t, w.Emit(ChunkEvent{Text: "dropped"}))
	w.Finish(nil)
	_, open := <-st.Events()
	assert.False(t, open)
}

func TestStreamFinishFirstCallWins(t *testing.T) {
	st, w := NewStream()

	boom := errors.New("boom")
	w.Finish(boom)
	w.Finish(nil)

	_, open := <-st.Events()
	require.False(t, open)
	assert.ErrorIs(t, st.Err(), boom)
}
