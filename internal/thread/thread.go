// Package thread manages opaque conversation identifiers. An identifier is
// the only state a turn carries forward; the persistence backend owns the
// conversation data it keys.
package thread

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidID indicates a client-supplied thread identifier that cannot
// reference any conversation.
var ErrInvalidID = errors.New("thread id must not be empty")

// Allocate produces a fresh, collision-resistant identifier. The value is
// never derived from request content.
func Allocate() string {
	return uuid.NewString()
}

// Validate accepts any non-empty client-supplied string as a thread
// reference. Whether it resolves to existing state is the backend's call.
func Validate(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrInvalidID
	}
	return id, nil
}
