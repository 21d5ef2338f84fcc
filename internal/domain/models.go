package domain

import (
	"fmt"
	"sort"
	"time"
)

const (
	// MinOptions and MaxOptions bound the option count of a question.
	MinOptions = 2
	MaxOptions = 10

	// NoSelection marks an answer recorded because the participant did not pick an option in time.
	NoSelection = -1
)

// Rules are the quiz-level scoring and timing settings.
type Rules struct {
	TimeLimitPerQuestionSeconds int              `json:"timeLimitPerQuestionSeconds" yaml:"time_limit_per_question_seconds"`
	AllowNegativeMarking        bool             `json:"allowNegativeMarking" yaml:"allow_negative_marking"`
	NegativeMarkingFactor       float64          `json:"negativeMarkingFactor" yaml:"negative_marking_factor"`
	Sections                    map[string][]int `json:"sections,omitempty" yaml:"sections,omitempty"`
}

// TimeLimit returns the per-question time limit; zero means questions never expire.
func (r Rules) TimeLimit() time.Duration {
	if r.TimeLimitPerQuestionSeconds <= 0 {
		return 0
	}
	return time.Duration(r.TimeLimitPerQuestionSeconds) * time.Second
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	Text          string   `json:"text" yaml:"text"`
	Options       []string `json:"options" yaml:"options"`
	CorrectOption int      `json:"correctOption" yaml:"correct_option"`
	Points        int      `json:"points" yaml:"points"`
	Section       string   `json:"section,omitempty" yaml:"section,omitempty"`
	Explanation   string   `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

// Quiz is an ordered collection of questions plus the rules they are played under.
type Quiz struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
	Rules     Rules      `json:"rules" yaml:"rules"`
}

// Validate checks the structural invariants a session relies on.
func (q Quiz) Validate() error {
	if len(q.Questions) == 0 {
		return fmt.Errorf("%w: quiz %q has no questions", ErrInvalidQuiz, q.ID)
	}
	for i, question := range q.Questions {
		if n := len(question.Options); n < MinOptions || n > MaxOptions {
			return fmt.Errorf("%w: question %d has %d options", ErrInvalidQuiz, i, n)
		}
		if question.CorrectOption < 0 || question.CorrectOption >= len(question.Options) {
			return fmt.Errorf("%w: question %d correct option %d out of range", ErrInvalidQuiz, i, question.CorrectOption)
		}
		if question.Points < 0 {
			return fmt.Errorf("%w: question %d has negative points", ErrInvalidQuiz, i)
		}
	}
	if f := q.Rules.NegativeMarkingFactor; f < 0 || f > 1 {
		return fmt.Errorf("%w: negative marking factor %v outside [0,1]", ErrInvalidQuiz, f)
	}
	owner := make(map[int]string)
	for _, name := range q.sectionNames() {
		for _, idx := range q.Rules.Sections[name] {
			if idx < 0 || idx >= len(q.Questions) {
				return fmt.Errorf("%w: section %q references question %d", ErrInvalidQuiz, name, idx)
			}
			if prev, ok := owner[idx]; ok && prev != name {
				return fmt.Errorf("%w: question %d is listed in sections %q and %q", ErrInvalidQuiz, idx, prev, name)
			}
			owner[idx] = name
		}
	}
	return nil
}

// SectionOf returns the section of the question at index i. The question's own tag wins;
// otherwise the first section name in sorted order that lists i.
func (q Quiz) SectionOf(i int) string {
	if i < 0 || i >= len(q.Questions) {
		return ""
	}
	if tag := q.Questions[i].Section; tag != "" {
		return tag
	}
	for _, name := range q.sectionNames() {
		for _, idx := range q.Rules.Sections[name] {
			if idx == i {
				return name
			}
		}
	}
	return ""
}

func (q Quiz) sectionNames() []string {
	names := make([]string, 0, len(q.Rules.Sections))
	for name := range q.Rules.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prompt is what a gateway shows for one delivered question.
type Prompt struct {
	SessionID     string
	QuestionIndex int
	Question      Question
	Total         int
	Marathon      bool
	TimeLimit     time.Duration
}

// Participant represents a chat member taking part in a session.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Answer is the recorded outcome of one participant on one delivered question.
// QuestionIndex is the delivery index; in marathon sessions it keeps growing past the
// number of questions in the quiz.
type Answer struct {
	ParticipantID string    `json:"participantId"`
	QuestionIndex int       `json:"questionIndex"`
	Selected      int       `json:"selected"`
	TimeTaken     float64   `json:"timeTakenSeconds"`
	IsCorrect     bool      `json:"isCorrect"`
	ScoreDelta    float64   `json:"scoreDelta"`
	AnsweredAt    time.Time `json:"answeredAt"`
}

// TimedOut reports whether the answer was recorded without a selection.
func (a Answer) TimedOut() bool {
	return a.Selected == NoSelection
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// SessionState is a point-in-time snapshot of a session.
type SessionState struct {
	SessionID            string             `json:"sessionId"`
	QuizID               string             `json:"quizId"`
	ChatID               string             `json:"chatId"`
	CurrentQuestionIndex int                `json:"currentQuestionIndex"`
	Status               Status             `json:"status"`
	Marathon             bool               `json:"marathon"`
	Scores               map[string]float64 `json:"scores"`
	Participants         []Participant      `json:"participants"`
	StartedAt            time.Time          `json:"startedAt"`
	// PausedRemaining is only meaningful while Status is StatusPaused.
	PausedRemaining time.Duration `json:"pausedRemaining,omitempty"`
}

// Attempt is the finalized, immutable scoring record for one participant in one session.
type Attempt struct {
	ParticipantID string             `json:"participantId"`
	DisplayName   string             `json:"displayName"`
	SessionID     string             `json:"sessionId"`
	QuizID        string             `json:"quizId"`
	ChatID        string             `json:"chatId"`
	Score         float64            `json:"score"`
	MaxScore      float64            `json:"maxScore"`
	SectionScores map[string]float64 `json:"sectionScores"`
	StartTime     time.Time          `json:"startTime"`
	EndTime       time.Time          `json:"endTime"`
	Completed     bool               `json:"completed"`
	Answers       []Answer           `json:"answers"`
}

// Clone returns a copy that shares no maps or slices with a.
func (a Attempt) Clone() Attempt {
	if a.SectionScores != nil {
		sections := make(map[string]float64, len(a.SectionScores))
		for name, v := range a.SectionScores {
			sections[name] = v
		}
		a.SectionScores = sections
	}
	a.Answers = append([]Answer(nil), a.Answers...)
	return a
}

// CloneAttempts clones every attempt in attempts.
func CloneAttempts(attempts []Attempt) []Attempt {
	if attempts == nil {
		return nil
	}
	out := make([]Attempt, len(attempts))
	for i, a := range attempts {
		out[i] = a.Clone()
	}
	return out
}
