package app

import (
	"fmt"
	"sync"
	"time"

	"chat-quiz-service/internal/clock"
	"chat-quiz-service/internal/domain"
	"chat-quiz-service/internal/scoring"
)

// event is the closed set of inputs a session reacts to. Every event is applied under
// the session mutex, which makes the session a single writer no matter whether the
// event came from a participant, an operator or a timer goroutine.
type event interface {
	isEvent()
}

type (
	answerEvent struct {
		participantID string
		questionIndex int
		option        int
	}
	timeoutEvent struct {
		questionIndex int
		gen           uint64
	}
	skipEvent   struct{}
	pauseEvent  struct{}
	resumeEvent struct{}
	endEvent    struct {
		force bool
	}
	joinEvent struct {
		participant domain.Participant
	}
)

func (answerEvent) isEvent()  {}
func (timeoutEvent) isEvent() {}
func (skipEvent) isEvent()    {}
func (pauseEvent) isEvent()   {}
func (resumeEvent) isEvent()  {}
func (endEvent) isEvent()     {}
func (joinEvent) isEvent()    {}

// outcome is what applying one event produced. The caller acts on it after the
// session lock is released.
type outcome struct {
	state      domain.SessionState
	answer     domain.Answer
	recorded   []domain.Answer
	deliveries []Delivery
	// attempts is set only by the event that moved the session into a terminal state.
	attempts []domain.Attempt
	finished bool
}

// expiryFunc is called from the timer goroutine when a question's countdown ends.
type expiryFunc func(s *Session, questionIndex int, gen uint64)

type participantState struct {
	domain.Participant
	score   float64
	answers map[int]domain.Answer
	log     []domain.Answer
}

// Session is one live run of a quiz in one chat.
type Session struct {
	id       string
	chatID   string
	quiz     domain.Quiz
	marathon bool
	now      func() time.Time
	expired  expiryFunc

	mu           sync.Mutex
	clock        *clock.Clock
	status       domain.Status
	current      int
	delivered    int
	closed       int
	participants map[string]*participantState
	order        []string
	startedAt    time.Time
	endedAt      time.Time

	questionStart   time.Time
	questionElapsed time.Duration
	pausedRemaining time.Duration
}

type sessionParams struct {
	id       string
	chatID   string
	quiz     domain.Quiz
	marathon bool
	now      func() time.Time
	clock    *clock.Clock
	expired  expiryFunc
}

func newSession(p sessionParams) *Session {
	return &Session{
		id:           p.id,
		chatID:       p.chatID,
		quiz:         p.quiz,
		marathon:     p.marathon,
		now:          p.now,
		expired:      p.expired,
		clock:        p.clock,
		status:       domain.StatusActive,
		participants: make(map[string]*participantState),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// ChatID returns the chat the session runs in.
func (s *Session) ChatID() string { return s.chatID }

// State returns a snapshot of the session.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// begin registers the starting participants and presents question 0.
func (s *Session) begin(participants []domain.Participant) outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.startedAt = s.now()
	for _, p := range participants {
		s.addParticipantLocked(p)
	}
	var out outcome
	s.presentLocked(&out)
	out.state = s.snapshotLocked()
	return out
}

func (s *Session) apply(ev event) (outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out outcome
	var err error
	switch e := ev.(type) {
	case answerEvent:
		err = s.answerLocked(e, &out)
	case timeoutEvent:
		s.timeoutLocked(e, &out)
	case skipEvent:
		err = s.skipLocked(&out)
	case pauseEvent:
		err = s.pauseLocked()
	case resumeEvent:
		err = s.resumeLocked()
	case endEvent:
		s.endLocked(e, &out)
	case joinEvent:
		err = s.joinLocked(e)
	default:
		err = fmt.Errorf("%w: unknown event %T", domain.ErrInvalidTransition, ev)
	}
	out.state = s.snapshotLocked()
	return out, err
}

func (s *Session) terminalErr() error {
	return fmt.Errorf("%w: %w (session %s is %s)", domain.ErrInvalidTransition, domain.ErrSessionNotActive, s.id, s.status)
}

func (s *Session) answerLocked(e answerEvent, out *outcome) error {
	if s.status.Terminal() {
		return s.terminalErr()
	}
	if s.status != domain.StatusActive {
		return fmt.Errorf("%w: session %s is %s", domain.ErrSessionNotActive, s.id, s.status)
	}
	p, ok := s.participants[e.participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if e.questionIndex != s.current {
		return fmt.Errorf("%w: got %d, current is %d", domain.ErrStaleAnswer, e.questionIndex, s.current)
	}
	if _, dup := p.answers[e.questionIndex]; dup {
		return domain.ErrDuplicateAnswer
	}
	question := s.questionAt(s.current)
	if e.option < 0 || e.option >= len(question.Options) {
		return fmt.Errorf("%w: %d", domain.ErrInvalidOption, e.option)
	}

	graded := scoring.Score(question, e.option, s.quiz.Rules)
	answer := domain.Answer{
		ParticipantID: p.ID,
		QuestionIndex: s.current,
		Selected:      e.option,
		TimeTaken:     s.elapsedLocked().Seconds(),
		IsCorrect:     graded.IsCorrect,
		ScoreDelta:    graded.Delta,
		AnsweredAt:    s.now(),
	}
	p.record(answer)
	out.answer = answer
	out.recorded = append(out.recorded, answer)

	if s.allAnsweredLocked() {
		s.clock.Cancel()
		s.closeQuestionLocked(out)
	}
	return nil
}

// timeoutLocked ignores fires that lost a race with an answer, pause, skip or end.
func (s *Session) timeoutLocked(e timeoutEvent, out *outcome) {
	if s.status != domain.StatusActive || e.questionIndex != s.current || !s.clock.Current(e.gen) {
		return
	}
	s.clock.Disarm()
	s.recordMissingLocked(out)
	s.closeQuestionLocked(out)
}

func (s *Session) skipLocked(out *outcome) error {
	if s.status.Terminal() {
		return s.terminalErr()
	}
	if s.status != domain.StatusActive {
		return fmt.Errorf("%w: session %s is %s", domain.ErrSessionNotActive, s.id, s.status)
	}
	s.clock.Cancel()
	s.recordMissingLocked(out)
	s.closeQuestionLocked(out)
	return nil
}

func (s *Session) pauseLocked() error {
	if s.status.Terminal() {
		return s.terminalErr()
	}
	if s.status != domain.StatusActive {
		return fmt.Errorf("%w: session %s is %s", domain.ErrSessionNotActive, s.id, s.status)
	}
	s.pausedRemaining = 0
	if s.clock.Armed() {
		s.pausedRemaining = s.clock.Freeze()
	}
	s.questionElapsed += s.now().Sub(s.questionStart)
	s.status = domain.StatusPaused
	return nil
}

func (s *Session) resumeLocked() error {
	if s.status.Terminal() {
		return s.terminalErr()
	}
	if s.status != domain.StatusPaused {
		return fmt.Errorf("%w: session %s is %s", domain.ErrSessionNotActive, s.id, s.status)
	}
	if s.quiz.Rules.TimeLimit() > 0 {
		s.armLocked(s.pausedRemaining)
	}
	s.questionStart = s.now()
	s.pausedRemaining = 0
	s.status = domain.StatusActive
	return nil
}

// endLocked is a no-op on a terminal session so duplicate end requests are harmless.
func (s *Session) endLocked(e endEvent, out *outcome) {
	if s.status.Terminal() {
		return
	}
	status := domain.StatusAborted
	if !e.force && s.closed >= len(s.quiz.Questions) {
		status = domain.StatusCompleted
	}
	s.finishLocked(status, out)
}

func (s *Session) joinLocked(e joinEvent) error {
	if s.status.Terminal() {
		return s.terminalErr()
	}
	s.addParticipantLocked(e.participant)
	return nil
}

func (s *Session) addParticipantLocked(p domain.Participant) {
	if existing, ok := s.participants[p.ID]; ok {
		existing.DisplayName = p.DisplayName
		return
	}
	s.participants[p.ID] = &participantState{
		Participant: p,
		answers:     make(map[int]domain.Answer),
	}
	s.order = append(s.order, p.ID)
}

func (s *Session) recordMissingLocked(out *outcome) {
	elapsed := s.elapsedLocked().Seconds()
	at := s.now()
	for _, id := range s.order {
		p := s.participants[id]
		if _, ok := p.answers[s.current]; ok {
			continue
		}
		answer := domain.Answer{
			ParticipantID: id,
			QuestionIndex: s.current,
			Selected:      domain.NoSelection,
			TimeTaken:     elapsed,
			AnsweredAt:    at,
		}
		p.record(answer)
		out.recorded = append(out.recorded, answer)
	}
}

func (s *Session) allAnsweredLocked() bool {
	for _, p := range s.participants {
		if _, ok := p.answers[s.current]; !ok {
			return false
		}
	}
	return true
}

// closeQuestionLocked moves past the current question. Marathon sessions never run out
// of questions; they cycle through the quiz until ended.
func (s *Session) closeQuestionLocked(out *outcome) {
	s.closed++
	s.current++
	if !s.marathon && s.current >= len(s.quiz.Questions) {
		s.finishLocked(domain.StatusCompleted, out)
		return
	}
	s.presentLocked(out)
}

func (s *Session) presentLocked(out *outcome) {
	s.delivered++
	s.questionStart = s.now()
	s.questionElapsed = 0

	limit := s.quiz.Rules.TimeLimit()
	if limit > 0 {
		s.armLocked(limit)
	}
	out.deliveries = append(out.deliveries, Delivery{
		Kind:   DeliverQuestion,
		ChatID: s.chatID,
		Prompt: domain.Prompt{
			SessionID:     s.id,
			QuestionIndex: s.current,
			Question:      s.questionAt(s.current),
			Total:         len(s.quiz.Questions),
			Marathon:      s.marathon,
			TimeLimit:     limit,
		},
	})
}

func (s *Session) armLocked(d time.Duration) {
	index := s.current
	s.clock.Arm(d, func(gen uint64) {
		if s.expired != nil {
			s.expired(s, index, gen)
		}
	})
}

func (s *Session) finishLocked(status domain.Status, out *outcome) {
	s.clock.Cancel()
	s.status = status
	s.endedAt = s.now()
	out.attempts = s.attemptsLocked()
	out.finished = true
}

func (s *Session) attemptsLocked() []domain.Attempt {
	attempts := make([]domain.Attempt, 0, len(s.order))
	for _, id := range s.order {
		p := s.participants[id]
		totals := scoring.Tally(s.quiz, s.delivered, p.log)
		attempts = append(attempts, domain.Attempt{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			SessionID:     s.id,
			QuizID:        s.quiz.ID,
			ChatID:        s.chatID,
			Score:         totals.Score,
			MaxScore:      totals.MaxScore,
			SectionScores: totals.Sections,
			StartTime:     s.startedAt,
			EndTime:       s.endedAt,
			Completed:     s.status == domain.StatusCompleted,
			Answers:       append([]domain.Answer(nil), p.log...),
		})
	}
	return attempts
}

func (s *Session) elapsedLocked() time.Duration {
	if s.status != domain.StatusActive {
		return s.questionElapsed
	}
	return s.questionElapsed + s.now().Sub(s.questionStart)
}

func (s *Session) questionAt(index int) domain.Question {
	return s.quiz.Questions[index%len(s.quiz.Questions)]
}

func (s *Session) snapshotLocked() domain.SessionState {
	scores := make(map[string]float64, len(s.participants))
	participants := make([]domain.Participant, 0, len(s.order))
	for _, id := range s.order {
		p := s.participants[id]
		scores[id] = p.score
		participants = append(participants, p.Participant)
	}
	state := domain.SessionState{
		SessionID:            s.id,
		QuizID:               s.quiz.ID,
		ChatID:               s.chatID,
		CurrentQuestionIndex: s.current,
		Status:               s.status,
		Marathon:             s.marathon,
		Scores:               scores,
		Participants:         participants,
		StartedAt:            s.startedAt,
	}
	if s.status == domain.StatusPaused {
		state.PausedRemaining = s.pausedRemaining
	}
	return state
}

func (p *participantState) record(answer domain.Answer) {
	p.answers[answer.QuestionIndex] = answer
	p.log = append(p.log, answer)
	p.score += answer.ScoreDelta
}
