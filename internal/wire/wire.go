// Package wire filters turn events down to client-visible text and encodes
// the surviving fragments for a response body.
package wire

import (
	"encoding/json"
	"fmt"
	"io"

	"billchat/internal/agent"
	"billchat/internal/models"
)

// Admit decides whether an event carries text the client should see.
// Assistant text passes; tool traffic and empty fragments do not.
func Admit(ev agent.Event) (string, bool) {
	switch ev := ev.(type) {
	case agent.ChunkEvent:
		return ev.Text, ev.Text != ""
	case agent.MessageEvent:
		if ev.Role != models.RoleAssistant || ev.Content == "" {
			return "", false
		}
		return ev.Content, true
	default:
		return "", false
	}
}

// Encoder writes one admitted text fragment to the response body.
type Encoder interface {
	WriteFragment(w io.Writer, fragment string) error
}

// TextEncoder writes fragments verbatim. Concatenating the body yields the
// assistant's answer exactly.
type TextEncoder struct{}

func (TextEncoder) WriteFragment(w io.Writer, fragment string) error {
	if _, err := io.WriteString(w, fragment); err != nil {
		return fmt.Errorf("failed to write fragment: %w", err)
	}
	return nil
}

// DataStreamEncoder frames each fragment as a text part of the Vercel AI
// data-stream protocol: a "0:" tag, the JSON-encoded fragment, a newline.
type DataStreamEncoder struct{}

func (DataStreamEncoder) WriteFragment(w io.Writer, fragment string) error {
	encoded, err := json.Marshal(fragment)
	if err != nil {
		return fmt.Errorf("failed to encode fragment: %w", err)
	}
	if _, err := fmt.Fprintf(w, "0:%s\n", encoded); err != nil {
		return fmt.Errorf("failed to write fragment: %w", err)
	}
	return nil
}
