package repository

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/denoise/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Memory keeps sessions and profiles in process memory. Its lifecycle is
// the process uptime: the default for CLI runs and anonymous users, and
// the backing store in tests. Appends are serialized per store so one
// user's history is never interleaved.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	profiles map[string]*model.Profile
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*model.Session),
		profiles: make(map[string]*model.Profile),
	}
}

func (m *Memory) Get(ctx context.Context, userID string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, goerr.Wrap(ErrSessionNotFound, "no session for user", goerr.V("user_id", userID))
	}

	// Copy so callers never observe a concurrent append
	clone := *s
	clone.Turns = make([]model.ConversationTurn, len(s.Turns))
	copy(clone.Turns, s.Turns)
	return &clone, nil
}

func (m *Memory) AppendTurns(ctx context.Context, userID string, turns ...model.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s, ok := m.sessions[userID]
	if !ok {
		s = &model.Session{
			ID:        model.NewSessionID(),
			UserID:    userID,
			CreatedAt: now,
		}
		m.sessions[userID] = s
	}

	s.Turns = append(s.Turns, turns...)
	s.UpdatedAt = now
	return nil
}

func (m *Memory) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, userID)
	return nil
}

func (m *Memory) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, goerr.Wrap(ErrProfileNotFound, "no profile for user", goerr.V("user_id", userID))
	}

	clone := *p
	return &clone, nil
}

func (m *Memory) PutProfile(ctx context.Context, profile *model.Profile) error {
	if profile.UserID == "" {
		return goerr.New("profile user id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *profile
	clone.UpdatedAt = time.Now()
	m.profiles[profile.UserID] = &clone
	return nil
}
