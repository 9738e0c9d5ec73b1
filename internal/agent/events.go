package agent

// EventKind discriminates the event union produced during a streaming turn.
// The decision is made once, here at the adapter boundary; consumers switch
// on the kind instead of re-inspecting payloads.
type EventKind int

const (
	// KindChunk is a partial-text delta of the assistant's answer.
	KindChunk EventKind = iota
	// KindMessage is a whole message: an assistant turn, or internal tool
	// traffic that never reaches the client.
	KindMessage
)

// Event is the interface for all turn events.
type Event interface {
	Kind() EventKind
}

// ChunkEvent carries one partial-text fragment of the assistant answer.
type ChunkEvent struct {
	Text string
}

// Kind returns the event kind.
func (e ChunkEvent) Kind() EventKind { return KindChunk }

// MessageEvent carries a complete message produced mid-turn.
type MessageEvent struct {
	Role     string
	Content  string
	ToolName string
}

// Kind returns the event kind.
func (e MessageEvent) Kind() EventKind { return KindMessage }
