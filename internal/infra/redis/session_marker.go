package redis

import (
	"context"
	"encoding/json"
	"time"

	"chat-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionMarker records which chats have a live session so operators and other instances
// can see them. Sessions themselves stay in process; Redis only holds a snapshot taken at
// start, keyed by chat and expiring after ttl in case the process dies without clearing it.
type SessionMarker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionMarker(client *redis.Client, ttl time.Duration) *SessionMarker {
	return &SessionMarker{client: client, ttl: ttl}
}

func (m *SessionMarker) Mark(ctx context.Context, state domain.SessionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.key(state.ChatID), payload, m.ttl).Err()
}

func (m *SessionMarker) Clear(ctx context.Context, chatID string) error {
	return m.client.Del(ctx, m.key(chatID)).Err()
}

// Live reports whether a chat is marked as running a session.
func (m *SessionMarker) Live(ctx context.Context, chatID string) (bool, error) {
	n, err := m.client.Exists(ctx, m.key(chatID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *SessionMarker) key(chatID string) string {
	return "quiz:session:" + chatID
}
