package app

import (
	"context"

	"chat-quiz-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptWriter saves attempts inside one unit of work.
type AttemptWriter interface {
	SaveAttempt(ctx context.Context, attempt domain.Attempt) error
}

// AttemptStore persists finalized attempts. WithinTx opens an explicit unit of work:
// everything fn writes commits together, or nothing does when fn returns an error.
type AttemptStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, w AttemptWriter) error) error
}

// Gateway delivers prompts and results to a chat. Implementations own retries;
// the engine never retries a failed delivery.
type Gateway interface {
	SendQuestion(ctx context.Context, chatID string, prompt domain.Prompt) error
	SendResult(ctx context.Context, chatID string, attempts []domain.Attempt) error
}

// SessionMarker records which chats have a live session, e.g. for other instances or operators.
type SessionMarker interface {
	Mark(ctx context.Context, state domain.SessionState) error
	Clear(ctx context.Context, chatID string) error
}
