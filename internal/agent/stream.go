package agent

import "sync"

// Stream is the consumer side of a turn's lazy event sequence: finite,
// single-pass, consumed at most once. The channel is unbuffered, so a slow
// consumer blocks the producer's Emit and no further agent work happens
// until the consumer catches up.
type Stream struct {
	events chan Event
	closed chan struct{}

	closeOnce sync.Once
	err       error
}

// StreamWriter is the producer side. Exactly one goroutine writes to it.
type StreamWriter struct {
	stream     *Stream
	finishOnce sync.Once
}

// NewStream creates a connected consumer/producer pair.
func NewStream() (*Stream, *StreamWriter) {
	s := &Stream{
		events: make(chan Event),
		closed: make(chan struct{}),
	}
	return s, &StreamWriter{stream: s}
}

// Events returns the event channel. It is closed when the sequence ends;
// check Err afterwards to distinguish a clean end from an error end.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Err reports how the sequence ended. Valid only after Events is closed;
// nil means the sequence completed cleanly.
func (s *Stream) Err() error {
	return s.err
}

// Close tells the producer to stop. Pending and future Emit calls return
// false. Idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// Emit delivers one event, blocking until the consumer accepts it. It
// returns false once the consumer has closed the stream.
func (w *StreamWriter) Emit(ev Event) bool {
	select {
	case w.stream.events <- ev:
		return true
	case <-w.stream.closed:
		return false
	}
}

// Finish terminates the sequence. A nil err is a clean end. Idempotent;
// the first call wins.
func (w *StreamWriter) Finish(err error) {
	w.finishOnce.Do(func() {
		w.stream.err = err
		close(w.stream.events)
	})
}
