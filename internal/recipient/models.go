// Package recipient loads the notification mailing list.
package recipient

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Input errors.
var (
	ErrMissingColumn     = errors.New("missing required column")
	ErrUnsupportedFormat = errors.New("unsupported recipient list format")
	ErrInvalidRow        = errors.New("invalid recipient row")
)

// Recipient is one entry on the mailing list.
type Recipient struct {
	Name  string
	Email string
	// City is empty when the list leaves it blank.
	City string
	// Row is the 1-based row in the source file, header included.
	Row int
}

// ResolveCity returns the recipient's city, or def when none was given.
func (r Recipient) ResolveCity(def string) string {
	if city := strings.TrimSpace(r.City); city != "" {
		return city
	}
	return def
}

// Source supplies the recipients for one batch run.
type Source interface {
	Load(ctx context.Context) ([]Recipient, error)
}

// InputError reports an unreadable or malformed recipient list.
type InputError struct {
	Path   string
	Row    int
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	var b strings.Builder
	b.WriteString("recipient list")
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Row > 0 {
		fmt.Fprintf(&b, " row %d", e.Row)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *InputError) Unwrap() error {
	return e.Err
}
