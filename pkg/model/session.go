package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// AnonymousUserID marks sessions without a logged-in user. Anonymous
// sessions skip profile lookup entirely.
const AnonymousUserID = "anonymous"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Validate checks if the role is valid
func (r Role) Validate() error {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return nil
	default:
		return goerr.New("invalid turn role", goerr.V("role", r))
	}
}

// ConversationTurn is one entry of a session's committed history
type ConversationTurn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Profile holds per-user personalization injected into every generation call
type Profile struct {
	UserID             string
	DisplayName        string
	SystemInstructions string
	UpdatedAt          time.Time
}

// Session is the per-user conversation state. Turns are ordered and only
// user/assistant turns are persisted; tool traffic stays within a turn's
// working context.
type Session struct {
	ID        SessionID
	UserID    string
	Turns     []ConversationTurn
	Profile   *Profile
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Anonymous reports whether the session belongs to a non-logged-in user
func (s *Session) Anonymous() bool {
	return s.UserID == "" || s.UserID == AnonymousUserID
}

// Window returns the trailing n turns used as generation context
func (s *Session) Window(n int) []ConversationTurn {
	if n <= 0 || len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}
