package postgres

import (
	"context"
	"fmt"
	"time"

	"chat-quiz-service/internal/app"
	"chat-quiz-service/internal/domain"
	"github.com/uptrace/bun"
)

// AttemptStore persists finalized attempts with bun. Each WithinTx call is one database
// transaction; a retried save of the same (session, participant) is a no-op.
type AttemptStore struct {
	db *bun.DB
}

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

type attemptRow struct {
	bun.BaseModel `bun:"table:quiz_attempts"`

	ID            int64              `bun:"id,pk,autoincrement"`
	SessionID     string             `bun:"session_id,notnull"`
	ParticipantID string             `bun:"participant_id,notnull"`
	DisplayName   string             `bun:"display_name"`
	QuizID        string             `bun:"quiz_id,notnull"`
	ChatID        string             `bun:"chat_id,notnull"`
	Score         float64            `bun:"score"`
	MaxScore      float64            `bun:"max_score"`
	SectionScores map[string]float64 `bun:"section_scores,type:jsonb"`
	Answers       []domain.Answer    `bun:"answers,type:jsonb"`
	Completed     bool               `bun:"completed"`
	StartTime     time.Time          `bun:"start_time"`
	EndTime       time.Time          `bun:"end_time"`
}

func (s *AttemptStore) WithinTx(ctx context.Context, fn func(ctx context.Context, w app.AttemptWriter) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, attemptWriter{tx: tx})
	})
}

// BySession returns the stored attempts of one session in insert order.
func (s *AttemptStore) BySession(ctx context.Context, sessionID string) ([]domain.Attempt, error) {
	var rows []attemptRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select attempts: %w", err)
	}
	attempts := make([]domain.Attempt, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, row.toDomain())
	}
	return attempts, nil
}

type attemptWriter struct {
	tx bun.Tx
}

func (w attemptWriter) SaveAttempt(ctx context.Context, attempt domain.Attempt) error {
	row := fromDomain(attempt)
	_, err := w.tx.NewInsert().
		Model(&row).
		On("CONFLICT (session_id, participant_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func fromDomain(a domain.Attempt) attemptRow {
	sections := a.SectionScores
	if sections == nil {
		sections = map[string]float64{}
	}
	answers := a.Answers
	if answers == nil {
		answers = []domain.Answer{}
	}
	return attemptRow{
		SessionID:     a.SessionID,
		ParticipantID: a.ParticipantID,
		DisplayName:   a.DisplayName,
		QuizID:        a.QuizID,
		ChatID:        a.ChatID,
		Score:         a.Score,
		MaxScore:      a.MaxScore,
		SectionScores: sections,
		Answers:       answers,
		Completed:     a.Completed,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
	}
}

func (r attemptRow) toDomain() domain.Attempt {
	return domain.Attempt{
		ParticipantID: r.ParticipantID,
		DisplayName:   r.DisplayName,
		SessionID:     r.SessionID,
		QuizID:        r.QuizID,
		ChatID:        r.ChatID,
		Score:         r.Score,
		MaxScore:      r.MaxScore,
		SectionScores: r.SectionScores,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Completed:     r.Completed,
		Answers:       r.Answers,
	}
}
