package rabbitmq

import (
	"context"
	"encoding/json"

	"chat-quiz-service/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AnswerMessage is what the chat adapter publishes when a participant picks an option.
type AnswerMessage struct {
	ChatID        string `json:"chatId"`
	ParticipantID string `json:"participantId"`
	QuestionIndex int    `json:"questionIndex"`
	Option        int    `json:"option"`
}

// AnswerSubmitter is the engine operation answers are fed into.
type AnswerSubmitter interface {
	SubmitAnswer(ctx context.Context, chatID, participantID string, questionIndex, option int) (domain.Answer, error)
}

// Source yields deliveries for a queue.
type Source interface {
	Consume(queue string) (<-chan amqp.Delivery, error)
}

// AnswerConsumer feeds answers from a queue into the engine.
type AnswerConsumer struct {
	source    Source
	queue     string
	submitter AnswerSubmitter
	logger    *zap.Logger
}

func NewAnswerConsumer(source Source, queue string, submitter AnswerSubmitter, logger *zap.Logger) *AnswerConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnswerConsumer{source: source, queue: queue, submitter: submitter, logger: logger}
}

// Run consumes until ctx is cancelled or the broker closes the channel.
func (c *AnswerConsumer) Run(ctx context.Context) error {
	msgs, err := c.source.Consume(c.queue)
	if err != nil {
		return err
	}
	c.logger.Info("consuming answers", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("answer queue closed", zap.String("queue", c.queue))
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *AnswerConsumer) handle(ctx context.Context, msg amqp.Delivery) {
	var answer AnswerMessage
	if err := json.Unmarshal(msg.Body, &answer); err != nil {
		c.logger.Warn("drop malformed answer", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}

	_, err := c.submitter.SubmitAnswer(ctx, answer.ChatID, answer.ParticipantID, answer.QuestionIndex, answer.Option)
	switch {
	case err == nil, domain.IsBenign(err):
		_ = msg.Ack(false)
	case domain.IsUserFacing(err):
		// redelivery cannot change the outcome
		c.logger.Info("answer rejected",
			zap.String("chat_id", answer.ChatID),
			zap.String("participant_id", answer.ParticipantID),
			zap.Error(err))
		_ = msg.Ack(false)
	default:
		c.logger.Error("submit answer",
			zap.String("chat_id", answer.ChatID),
			zap.Error(err))
		_ = msg.Nack(false, true)
	}
}
