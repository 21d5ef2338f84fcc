package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat-quiz-service/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Publisher sends a message body to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// QuestionMessage is published for every delivered question. It never carries the
// correct option.
type QuestionMessage struct {
	ChatID           string   `json:"chatId"`
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

// ResultMessage is published once per finished session.
type ResultMessage struct {
	ChatID   string           `json:"chatId"`
	Attempts []domain.Attempt `json:"attempts"`
}

// GatewayConfig names the outbound queues.
type GatewayConfig struct {
	QuestionQueue string
	ResultQueue   string
	MaxRetries    uint64
}

// Gateway publishes prompts and results as JSON. Publishing retries with exponential
// backoff; the engine never retries on its own.
type Gateway struct {
	publisher Publisher
	cfg       GatewayConfig
	logger    *zap.Logger

	newBackOff func() backoff.BackOff
}

func NewGateway(publisher Publisher, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{publisher: publisher, cfg: cfg, logger: logger}
	g.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxInterval = 2 * time.Second
		return backoff.WithMaxRetries(b, g.cfg.MaxRetries)
	}
	return g
}

func (g *Gateway) SendQuestion(ctx context.Context, chatID string, prompt domain.Prompt) error {
	msg := QuestionMessage{
		ChatID:           chatID,
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
	return g.publish(ctx, g.cfg.QuestionQueue, msg)
}

func (g *Gateway) SendResult(ctx context.Context, chatID string, attempts []domain.Attempt) error {
	return g.publish(ctx, g.cfg.ResultQueue, ResultMessage{ChatID: chatID, Attempts: attempts})
}

func (g *Gateway) publish(ctx context.Context, queue string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", queue, err)
	}

	attempt := 0
	op := func() error {
		attempt++
		err := g.publisher.Publish(ctx, queue, body)
		if err != nil {
			g.logger.Debug("publish failed",
				zap.String("queue", queue),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(g.newBackOff(), ctx)); err != nil {
		return fmt.Errorf("publish to %s after %d attempts: %w", queue, attempt, err)
	}
	return nil
}
