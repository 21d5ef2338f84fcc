package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-quiz-service/internal/clock"
	"chat-quiz-service/internal/domain"
	"chat-quiz-service/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const finalizeTimeout = 15 * time.Second

// StartRequest describes a new session.
type StartRequest struct {
	QuizID       string
	ChatID       string
	Participants []domain.Participant
	Marathon     bool
}

// Engine contains the quiz session use cases. Every call names the chat it acts on;
// there is no ambient per-chat context.
type Engine struct {
	registry *Registry
	quizzes  QuizRepository
	attempts AttemptStore
	outbox   Deliverer
	logger   *zap.Logger

	now      func() time.Time
	newClock func() *clock.Clock
	newID    func() string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithTimeSource makes sessions read time from now and build clocks with newClock.
// Tests use it with clocktest.Fake for deterministic countdowns.
func WithTimeSource(now func() time.Time, newClock func() *clock.Clock) Option {
	return func(e *Engine) {
		e.now = now
		e.newClock = newClock
	}
}

// WithIDGenerator overrides how session ids are generated.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

func NewEngine(registry *Registry, quizzes QuizRepository, attempts AttemptStore, outbox Deliverer, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		registry: registry,
		quizzes:  quizzes,
		attempts: attempts,
		outbox:   outbox,
		logger:   logger,
		now:      time.Now,
		newClock: clock.New,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start loads the quiz and opens a session for the chat, presenting question 0.
func (e *Engine) Start(ctx context.Context, req StartRequest) (domain.SessionState, error) {
	participants := uniqueParticipants(req.Participants)
	if len(participants) == 0 {
		return domain.SessionState{}, domain.ErrNoParticipants
	}

	quiz, err := e.quizzes.GetQuiz(ctx, req.QuizID)
	if err != nil {
		if errors.Is(err, domain.ErrQuizNotFound) {
			return domain.SessionState{}, err
		}
		return domain.SessionState{}, fmt.Errorf("load quiz %s: %w", req.QuizID, err)
	}
	if err := quiz.Validate(); err != nil {
		return domain.SessionState{}, err
	}

	var out outcome
	session, err := e.registry.Reserve(ctx, req.ChatID, func() (*Session, error) {
		s := newSession(sessionParams{
			id:       e.newID(),
			chatID:   req.ChatID,
			quiz:     quiz,
			marathon: req.Marathon,
			now:      e.now,
			clock:    e.newClock(),
			expired:  e.expire,
		})
		out = s.begin(participants)
		return s, nil
	})
	if err != nil {
		e.logger.Info("quiz session rejected",
			zap.String("chat_id", req.ChatID),
			zap.String("quiz_id", req.QuizID),
			zap.Error(err))
		return domain.SessionState{}, err
	}

	metrics.SessionsStarted.Inc()
	e.logger.Info("quiz session started",
		zap.String("session_id", session.ID()),
		zap.String("chat_id", req.ChatID),
		zap.String("quiz_id", req.QuizID),
		zap.Int("participants", len(participants)),
		zap.Bool("marathon", req.Marathon))

	e.settle(ctx, session, out)
	return out.state, nil
}

// SubmitAnswer records a participant's selection for the current question.
// It never waits for other participants.
func (e *Engine) SubmitAnswer(ctx context.Context, chatID, participantID string, questionIndex, option int) (domain.Answer, error) {
	session, err := e.lookup(chatID)
	if err != nil {
		return domain.Answer{}, err
	}
	out, err := session.apply(answerEvent{participantID: participantID, questionIndex: questionIndex, option: option})
	if err != nil {
		e.logRejected(session, "answer", err, zap.String("participant_id", participantID), zap.Int("question_index", questionIndex))
		return domain.Answer{}, err
	}
	e.settle(ctx, session, out)
	return out.answer, nil
}

// Join adds a participant to the chat's session, or refreshes their display name.
func (e *Engine) Join(ctx context.Context, chatID string, participant domain.Participant) (domain.SessionState, error) {
	return e.do(ctx, chatID, "join", joinEvent{participant: participant})
}

// Pause freezes the current question's countdown.
func (e *Engine) Pause(ctx context.Context, chatID string) (domain.SessionState, error) {
	return e.do(ctx, chatID, "pause", pauseEvent{})
}

// Resume restarts the countdown with the time that was left at pause.
func (e *Engine) Resume(ctx context.Context, chatID string) (domain.SessionState, error) {
	return e.do(ctx, chatID, "resume", resumeEvent{})
}

// Skip closes the current question for everyone who has not answered and moves on.
func (e *Engine) Skip(ctx context.Context, chatID string) (domain.SessionState, error) {
	return e.do(ctx, chatID, "skip", skipEvent{})
}

// End terminates the chat's session and finalizes attempts. force marks an owner-forced
// termination, which always aborts. Ending an already terminal session returns its state.
func (e *Engine) End(ctx context.Context, chatID string, force bool) (domain.SessionState, error) {
	state, err := e.do(ctx, chatID, "end", endEvent{force: force})
	if errors.Is(err, domain.ErrSessionNotFound) {
		// the session already finished and left the registry
		if final, ok := e.registry.Ended(chatID); ok {
			return final, nil
		}
	}
	return state, err
}

// State returns the chat's live session snapshot.
func (e *Engine) State(chatID string) (domain.SessionState, error) {
	session, err := e.lookup(chatID)
	if err != nil {
		return domain.SessionState{}, err
	}
	return session.State(), nil
}

// Shutdown aborts every live session so their attempts are persisted before exit.
func (e *Engine) Shutdown(ctx context.Context) {
	for _, session := range e.registry.Sessions() {
		out, _ := session.apply(endEvent{force: true})
		e.settle(ctx, session, out)
	}
}

func (e *Engine) do(ctx context.Context, chatID, op string, ev event) (domain.SessionState, error) {
	session, err := e.lookup(chatID)
	if err != nil {
		return domain.SessionState{}, err
	}
	out, err := session.apply(ev)
	if err != nil {
		e.logRejected(session, op, err)
		return out.state, err
	}
	e.logger.Debug("session event applied",
		zap.String("session_id", session.ID()),
		zap.String("op", op),
		zap.String("status", string(out.state.Status)))
	e.settle(ctx, session, out)
	return out.state, nil
}

func (e *Engine) lookup(chatID string) (*Session, error) {
	session, ok := e.registry.Get(chatID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// expire is the clock callback. It runs on the timer goroutine and goes through the
// session's event path like any other input.
func (e *Engine) expire(session *Session, questionIndex int, gen uint64) {
	out, err := session.apply(timeoutEvent{questionIndex: questionIndex, gen: gen})
	if err != nil {
		e.logRejected(session, "timeout", err)
		return
	}
	e.settle(context.Background(), session, out)
}

// settle acts on an outcome once the session lock is released.
func (e *Engine) settle(ctx context.Context, session *Session, out outcome) {
	for _, answer := range out.recorded {
		metrics.Answers.WithLabelValues(metrics.AnswerOutcome(answer.IsCorrect, answer.TimedOut())).Inc()
	}
	if len(out.deliveries) > 0 {
		e.outbox.Dispatch(out.deliveries...)
	}
	if out.finished {
		e.finalize(ctx, session, out)
	}
}

// finalize saves attempts, announces the result and only then frees the chat, so a chat
// never looks free while its attempts are still being written.
func (e *Engine) finalize(ctx context.Context, session *Session, out outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	err := e.attempts.WithinTx(ctx, func(ctx context.Context, w AttemptWriter) error {
		for _, attempt := range out.attempts {
			if err := w.SaveAttempt(ctx, attempt); err != nil {
				return fmt.Errorf("save attempt for %s: %w", attempt.ParticipantID, err)
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Error("persist attempts",
			zap.String("session_id", session.ID()),
			zap.String("chat_id", session.ChatID()),
			zap.Error(err))
	}

	e.outbox.Dispatch(Delivery{Kind: DeliverResult, ChatID: session.ChatID(), Attempts: domain.CloneAttempts(out.attempts)})
	e.registry.Release(ctx, session.ChatID(), session.ID())

	metrics.SessionsFinished.WithLabelValues(string(out.state.Status)).Inc()
	e.logger.Info("quiz session finished",
		zap.String("session_id", session.ID()),
		zap.String("chat_id", session.ChatID()),
		zap.String("status", string(out.state.Status)),
		zap.Int("questions", out.state.CurrentQuestionIndex),
		zap.Int("attempts", len(out.attempts)))
}

func (e *Engine) logRejected(session *Session, op string, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("session_id", session.ID()),
		zap.String("chat_id", session.ChatID()),
		zap.String("op", op),
		zap.Error(err))
	if domain.IsBenign(err) {
		e.logger.Debug("dropped racing event", fields...)
		return
	}
	e.logger.Info("session event rejected", fields...)
}

func uniqueParticipants(in []domain.Participant) []domain.Participant {
	seen := make(map[string]struct{}, len(in))
	out := make([]domain.Participant, 0, len(in))
	for _, p := range in {
		if p.ID == "" {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}
