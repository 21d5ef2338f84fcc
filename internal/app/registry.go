package app

import (
	"context"
	"sync"

	"chat-quiz-service/internal/domain"
	"chat-quiz-service/internal/metrics"
	"go.uber.org/zap"
)

// Registry is the process-wide table of live sessions keyed by chat id.
// Lock order is always registry, then session; nothing holding a session lock may
// call into the registry.
type Registry struct {
	max    int
	marker SessionMarker
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	// ended holds the final state of the last released session per chat. It does not
	// count against capacity.
	ended map[string]domain.SessionState
}

const endedLimit = 4096

// NewRegistry creates a registry allowing at most max live sessions. marker may be nil.
func NewRegistry(max int, marker SessionMarker, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		max:      max,
		marker:   marker,
		logger:   logger,
		sessions: make(map[string]*Session),
		ended:    make(map[string]domain.SessionState),
	}
}

// Reserve installs the session built by create as the chat's live session. The chat check,
// the capacity check and the insert happen atomically, so concurrent starts cannot overshoot.
func (r *Registry) Reserve(ctx context.Context, chatID string, create func() (*Session, error)) (*Session, error) {
	r.mu.Lock()
	if _, ok := r.sessions[chatID]; ok {
		r.mu.Unlock()
		return nil, domain.ErrSessionAlreadyActive
	}
	if r.max > 0 && len(r.sessions) >= r.max {
		r.mu.Unlock()
		return nil, domain.ErrSessionCapacityExceeded
	}
	session, err := create()
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.sessions[chatID] = session
	delete(r.ended, chatID)
	live := len(r.sessions)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(float64(live))
	if r.marker != nil {
		// best-effort liveness marker
		if err := r.marker.Mark(ctx, session.State()); err != nil {
			r.logger.Warn("mark session", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	return session, nil
}

// Get returns the chat's live session.
func (r *Registry) Get(chatID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[chatID]
	return session, ok
}

// Release drops the chat's entry if it still belongs to sessionID and remembers the
// session's final state until the chat starts another session.
func (r *Registry) Release(ctx context.Context, chatID, sessionID string) {
	r.mu.Lock()
	session, ok := r.sessions[chatID]
	if !ok || session.ID() != sessionID {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, chatID)
	if len(r.ended) >= endedLimit {
		for stale := range r.ended {
			delete(r.ended, stale)
			break
		}
	}
	r.ended[chatID] = session.State()
	live := len(r.sessions)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(float64(live))
	if r.marker != nil {
		if err := r.marker.Clear(ctx, chatID); err != nil {
			r.logger.Warn("clear session marker", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
}

// Ended returns the final state of the chat's last released session.
func (r *Registry) Ended(chatID string) (domain.SessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.ended[chatID]
	return state, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns the live sessions in no particular order.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
