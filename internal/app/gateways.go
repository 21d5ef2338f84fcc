package app

import (
	"context"
	"errors"

	"chat-quiz-service/internal/domain"
)

// Gateways delivers to every gateway in order. A failing gateway does not stop the
// others; their errors are joined. Each gateway gets its own copy of the attempts.
type Gateways []Gateway

func (gs Gateways) SendQuestion(ctx context.Context, chatID string, prompt domain.Prompt) error {
	var errs []error
	for _, g := range gs {
		if err := g.SendQuestion(ctx, chatID, prompt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (gs Gateways) SendResult(ctx context.Context, chatID string, attempts []domain.Attempt) error {
	var errs []error
	for _, g := range gs {
		if err := g.SendResult(ctx, chatID, domain.CloneAttempts(attempts)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
