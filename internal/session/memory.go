package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"webchat/backend/internal/conversation"
)

// MemoryStore keeps sessions in process memory. Used in tests and when no
// database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	turns    map[string][]conversation.Turn
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		turns:    make(map[string][]conversation.Turn),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, title string) (Session, error) {
	out := Session{ID: uuid.NewString(), Title: strings.TrimSpace(title), CreatedAt: s.now().UTC()}
	s.mu.Lock()
	s.sessions[out.ID] = out
	s.mu.Unlock()
	return out, nil
}

func (s *MemoryStore) History(_ context.Context, sessionID string, limit int) ([]conversation.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	turns := s.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]conversation.Turn(nil), turns...), nil
}

func (s *MemoryStore) Goal(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return "", ErrNotFound
	}
	return conversation.Goal(s.turns[sessionID]), nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, turns ...conversation.Turn) ([]conversation.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	stored := make([]conversation.Turn, 0, len(turns))
	for _, turn := range turns {
		if turn.ID == "" {
			turn.ID = uuid.NewString()
		}
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = s.now()
		}
		turn.CreatedAt = turn.CreatedAt.UTC()
		turn.SessionID = sessionID
		stored = append(stored, turn)
	}
	s.turns[sessionID] = append(s.turns[sessionID], stored...)
	return stored, nil
}
