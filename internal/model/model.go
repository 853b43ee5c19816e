// Package model defines domain entities shared by the sync engine and its collaborators.
package model

import (
	"fmt"
	"time"

	"github.com/and161185/collabify/internal/errs"
)

// UserIdentity is a session participant as assigned by the relay.
// Empty strings stand for "not assigned yet".
type UserIdentity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"userName"`
	ColorTag    string `json:"userColor"`
}

// IsZero reports whether the identity has not been assigned.
func (u UserIdentity) IsZero() bool { return u.UserID == "" }

// Position is a pointer or caret location on the editing surface.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CursorEntry is the last known pointer of a remote participant.
type CursorEntry struct {
	Owner      UserIdentity
	Position   Position
	LastSeenAt time.Time
}

// OutboundEdit is a snapshot of local state handed to the outbound scheduler.
type OutboundEdit struct {
	Content  string       `json:"content"`
	Position Position     `json:"position"`
	UserData UserIdentity `json:"userData"`
}

// SessionDescriptor addresses one live session. Immutable for a connection's lifetime.
type SessionDescriptor struct {
	SessionID string
	AuthToken string
}

// Validate checks connection preconditions without doing any I/O.
func (d SessionDescriptor) Validate() error {
	if d.AuthToken == "" {
		return errs.ErrMissingToken
	}
	if d.SessionID == "" {
		return errs.ErrMissingSession
	}
	return nil
}

// Kind selects the persisted surface type.
type Kind string

const (
	KindDocument Kind = "document"
	KindDrawing  Kind = "drawing"
)

// ParseKind validates a user-supplied kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDocument, KindDrawing:
		return Kind(s), nil
	case "":
		return KindDocument, nil
	}
	return "", fmt.Errorf("%w: %q", errs.ErrInvalidKind, s)
}

// DocumentSnapshot is a persisted document or drawing.
type DocumentSnapshot struct {
	Kind      Kind
	DocID     string
	Title     string
	Content   string
	UpdatedAt time.Time
}

// DocumentSummary is a list entry for a user's saved items.
type DocumentSummary struct {
	DocID     string
	Title     string
	UpdatedAt time.Time
}

// ConnState is the observable lifecycle of a session connection.
type ConnState int

const (
	Connecting ConnState = iota
	Open
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return "unknown"
}
