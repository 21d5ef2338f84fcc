package http

import (
	"context"
	"encoding/json"
	"net/http"

	"chat-quiz-service/internal/app"
	"chat-quiz-service/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	inboundPerSecond = 5
	inboundBurst     = 10
)

// SessionEngine is the set of engine operations reachable from a websocket.
type SessionEngine interface {
	Start(ctx context.Context, req app.StartRequest) (domain.SessionState, error)
	SubmitAnswer(ctx context.Context, chatID, participantID string, questionIndex, option int) (domain.Answer, error)
	Join(ctx context.Context, chatID string, participant domain.Participant) (domain.SessionState, error)
	Pause(ctx context.Context, chatID string) (domain.SessionState, error)
	Resume(ctx context.Context, chatID string) (domain.SessionState, error)
	Skip(ctx context.Context, chatID string) (domain.SessionState, error)
	End(ctx context.Context, chatID string, force bool) (domain.SessionState, error)
	State(chatID string) (domain.SessionState, error)
}

type WSHandler struct {
	engine   SessionEngine
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(engine SessionEngine, hub *Hub, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		engine: engine,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	QuizID   string `json:"quizId"`
	Marathon bool   `json:"marathon"`
}

type answerPayload struct {
	QuestionIndex int `json:"questionIndex"`
	Option        int `json:"option"`
}

type endPayload struct {
	Force bool `json:"force"`
}

type answerResult struct {
	QuestionIndex int     `json:"questionIndex"`
	Correct       bool    `json:"correct"`
	ScoreDelta    float64 `json:"scoreDelta"`
	TimeTaken     float64 `json:"timeTakenSeconds"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the session engine.
// Every connection belongs to one chat; chat-wide deliveries arrive through the hub.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if chatID == "" || userID == "" || displayName == "" {
		http.Error(w, "missing chatId, userId, or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	user := domain.Participant{ID: userID, DisplayName: displayName}
	c := h.hub.register(chatID, user)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", zap.String("chat_id", chatID), zap.Error(err))
				return
			}
		}
	}()

	ctx := r.Context()
	// a running session picks up whoever connects to its chat
	if state, err := h.engine.Join(ctx, chatID, user); err == nil {
		c.trySend(outboundMessage[any]{Type: "state", Payload: state})
	}

	limiter := rate.NewLimiter(rate.Limit(inboundPerSecond), inboundBurst)
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if !limiter.Allow() {
			c.trySend(errorMessage("too many messages"))
			continue
		}
		if reply, ok := h.handle(ctx, c, inbound); ok {
			c.trySend(reply)
		}
	}

	h.hub.unregister(c)
	<-writerDone
}

// handle runs one inbound command. ok is false when nothing should be sent back.
func (h *WSHandler) handle(ctx context.Context, c *client, inbound inboundMessage) (outboundMessage[any], bool) {
	var (
		state domain.SessionState
		err   error
	)
	switch inbound.Type {
	case "start":
		var payload startPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuizID == "" {
			return errorMessage("invalid start payload"), true
		}
		state, err = h.engine.Start(ctx, app.StartRequest{
			QuizID:       payload.QuizID,
			ChatID:       c.chatID,
			Participants: h.startingParticipants(c),
			Marathon:     payload.Marathon,
		})
	case "join":
		state, err = h.engine.Join(ctx, c.chatID, c.user)
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage("invalid answer payload"), true
		}
		answer, err := h.engine.SubmitAnswer(ctx, c.chatID, c.user.ID, payload.QuestionIndex, payload.Option)
		if err != nil {
			return h.errorReply(c, "answer", err)
		}
		return outboundMessage[any]{Type: "answerResult", Payload: answerResult{
			QuestionIndex: answer.QuestionIndex,
			Correct:       answer.IsCorrect,
			ScoreDelta:    answer.ScoreDelta,
			TimeTaken:     answer.TimeTaken,
		}}, true
	case "pause":
		state, err = h.engine.Pause(ctx, c.chatID)
	case "resume":
		state, err = h.engine.Resume(ctx, c.chatID)
	case "skip":
		state, err = h.engine.Skip(ctx, c.chatID)
	case "end":
		var payload endPayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				return errorMessage("invalid end payload"), true
			}
		}
		state, err = h.engine.End(ctx, c.chatID, payload.Force)
	case "state":
		state, err = h.engine.State(c.chatID)
	default:
		return errorMessage("unsupported message type"), true
	}
	if err != nil {
		return h.errorReply(c, inbound.Type, err)
	}
	return outboundMessage[any]{Type: "state", Payload: state}, true
}

// startingParticipants is everyone connected to the chat, with the starter first.
func (h *WSHandler) startingParticipants(c *client) []domain.Participant {
	participants := []domain.Participant{c.user}
	for _, p := range h.hub.Participants(c.chatID) {
		if p.ID != c.user.ID {
			participants = append(participants, p)
		}
	}
	return participants
}

func (h *WSHandler) errorReply(c *client, op string, err error) (outboundMessage[any], bool) {
	switch {
	case domain.IsBenign(err):
		// racing answers in a group chat are dropped silently
		return outboundMessage[any]{}, false
	case domain.IsUserFacing(err):
		return errorMessage(err.Error()), true
	default:
		h.logger.Error("ws command failed",
			zap.String("chat_id", c.chatID),
			zap.String("user_id", c.user.ID),
			zap.String("op", op),
			zap.Error(err))
		return errorMessage("internal error"), true
	}
}

func errorMessage(message string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: message}}
}
