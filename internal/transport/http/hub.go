package http

import (
	"context"
	"sync"
	"time"

	"chat-quiz-service/internal/domain"
	"go.uber.org/zap"
)

const clientBuffer = 32

type client struct {
	chatID string
	user   domain.Participant
	send   chan outboundMessage[any]
}

// Hub fans gateway deliveries out to the websocket clients of each chat.
type Hub struct {
	logger *zap.Logger

	mu    sync.RWMutex
	chats map[string]map[*client]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, chats: make(map[string]map[*client]struct{})}
}

func (h *Hub) register(chatID string, user domain.Participant) *client {
	c := &client{chatID: chatID, user: user, send: make(chan outboundMessage[any], clientBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.chats[chatID] == nil {
		h.chats[chatID] = make(map[*client]struct{})
	}
	h.chats[chatID][c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.chats[c.chatID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.chats, c.chatID)
	}
}

// Participants lists the distinct users connected to a chat.
func (h *Hub) Participants(chatID string) []domain.Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []domain.Participant
	for c := range h.chats[chatID] {
		if _, ok := seen[c.user.ID]; ok {
			continue
		}
		seen[c.user.ID] = struct{}{}
		out = append(out, c.user)
	}
	return out
}

func (h *Hub) SendQuestion(_ context.Context, chatID string, prompt domain.Prompt) error {
	h.broadcast(chatID, outboundMessage[any]{Type: "question", Payload: newQuestionPayload(prompt)})
	return nil
}

func (h *Hub) SendResult(_ context.Context, chatID string, attempts []domain.Attempt) error {
	h.broadcast(chatID, outboundMessage[any]{Type: "result", Payload: resultPayload{Attempts: attempts}})
	return nil
}

func (h *Hub) broadcast(chatID string, msg outboundMessage[any]) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.chats[chatID] {
		if !c.trySend(msg) {
			h.logger.Warn("slow websocket client, dropping message",
				zap.String("chat_id", chatID),
				zap.String("user_id", c.user.ID),
				zap.String("type", msg.Type))
		}
	}
}

// trySend never blocks; callers hold the hub read lock or own the connection, so the
// channel cannot be closed underneath them.
func (c *client) trySend(msg outboundMessage[any]) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

type questionPayload struct {
	SessionID        string   `json:"sessionId"`
	QuestionIndex    int      `json:"questionIndex"`
	Total            int      `json:"total"`
	Marathon         bool     `json:"marathon"`
	Text             string   `json:"text"`
	Options          []string `json:"options"`
	Points           int      `json:"points"`
	Section          string   `json:"section,omitempty"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
}

func newQuestionPayload(prompt domain.Prompt) questionPayload {
	return questionPayload{
		SessionID:        prompt.SessionID,
		QuestionIndex:    prompt.QuestionIndex,
		Total:            prompt.Total,
		Marathon:         prompt.Marathon,
		Text:             prompt.Question.Text,
		Options:          prompt.Question.Options,
		Points:           prompt.Question.Points,
		Section:          prompt.Question.Section,
		TimeLimitSeconds: int(prompt.TimeLimit / time.Second),
	}
}

type resultPayload struct {
	Attempts []domain.Attempt `json:"attempts"`
}
