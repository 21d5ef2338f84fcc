package memory

import (
	"context"
	"sync"

	"chat-quiz-service/internal/app"
	"chat-quiz-service/internal/domain"
)

// AttemptStore keeps attempts in memory. Writes made inside WithinTx are staged and only
// become visible when the unit of work returns nil.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts []domain.Attempt
	keys     map[string]struct{}
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{keys: make(map[string]struct{})}
}

func (s *AttemptStore) WithinTx(ctx context.Context, fn func(ctx context.Context, w app.AttemptWriter) error) error {
	tx := &attemptTx{}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, attempt := range tx.staged {
		key := attempt.SessionID + "/" + attempt.ParticipantID
		if _, ok := s.keys[key]; ok {
			continue
		}
		s.keys[key] = struct{}{}
		s.attempts = append(s.attempts, attempt)
	}
	return nil
}

// Attempts returns every committed attempt in commit order.
func (s *AttemptStore) Attempts() []domain.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Attempt(nil), s.attempts...)
}

// BySession returns the committed attempts of one session.
func (s *AttemptStore) BySession(sessionID string) []domain.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attempt
	for _, attempt := range s.attempts {
		if attempt.SessionID == sessionID {
			out = append(out, attempt)
		}
	}
	return out
}

type attemptTx struct {
	staged []domain.Attempt
}

func (tx *attemptTx) SaveAttempt(_ context.Context, attempt domain.Attempt) error {
	tx.staged = append(tx.staged, attempt)
	return nil
}
