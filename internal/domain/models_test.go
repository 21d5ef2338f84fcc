package domain

import (
	"errors"
	"testing"
	"time"
)

func TestQuizValidate(t *testing.T) {
	valid := Quiz{
		ID: "quiz-1",
		Questions: []Question{
			{Text: "2+2", Options: []string{"3", "4"}, CorrectOption: 1, Points: 1},
		},
		Rules: Rules{NegativeMarkingFactor: 0.25, Sections: map[string][]int{"math": {0}}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid quiz, got %v", err)
	}

	broken := []func(q *Quiz){
		func(q *Quiz) { q.Questions = nil },
		func(q *Quiz) { q.Questions[0].Options = []string{"only"} },
		func(q *Quiz) { q.Questions[0].Options = make([]string, MaxOptions+1) },
		func(q *Quiz) { q.Questions[0].CorrectOption = 2 },
		func(q *Quiz) { q.Questions[0].Points = -1 },
		func(q *Quiz) { q.Rules.NegativeMarkingFactor = 1.5 },
		func(q *Quiz) { q.Rules.Sections = map[string][]int{"math": {3}} },
		func(q *Quiz) { q.Rules.Sections = map[string][]int{"math": {0}, "arithmetic": {0}} },
	}
	for i, mutate := range broken {
		q := valid
		q.Questions = append([]Question(nil), valid.Questions...)
		mutate(&q)
		if err := q.Validate(); !errors.Is(err, ErrInvalidQuiz) {
			t.Fatalf("case %d: expected ErrInvalidQuiz, got %v", i, err)
		}
	}
}

func TestSectionOfPrefersTag(t *testing.T) {
	q := Quiz{
		Questions: []Question{
			{Section: "tagged"},
			{},
			{},
		},
		Rules: Rules{Sections: map[string][]int{"mapped": {0, 1}}},
	}
	if got := q.SectionOf(0); got != "tagged" {
		t.Fatalf("expected tag to win, got %q", got)
	}
	if got := q.SectionOf(1); got != "mapped" {
		t.Fatalf("expected mapped section, got %q", got)
	}
	if got := q.SectionOf(2); got != "" {
		t.Fatalf("expected no section, got %q", got)
	}
}

func TestSectionOfIsStableForOverlappingSections(t *testing.T) {
	q := Quiz{
		Questions: []Question{{}},
		Rules:     Rules{Sections: map[string][]int{"gamma": {0}, "alpha": {0}, "beta": {0}}},
	}
	for i := 0; i < 100; i++ {
		if got := q.SectionOf(0); got != "alpha" {
			t.Fatalf("run %d: expected alpha, got %q", i, got)
		}
	}
}

func TestAttemptCloneSharesNothing(t *testing.T) {
	original := Attempt{
		ParticipantID: "u1",
		SectionScores: map[string]float64{"math": 1},
		Answers:       []Answer{{QuestionIndex: 0, ScoreDelta: 1}},
	}
	copies := CloneAttempts([]Attempt{original})
	copies[0].SectionScores["math"] = 99
	copies[0].Answers[0].ScoreDelta = 99

	if original.SectionScores["math"] != 1 || original.Answers[0].ScoreDelta != 1 {
		t.Fatalf("clone leaked into the original: %+v", original)
	}
	if CloneAttempts(nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
}

func TestRulesTimeLimit(t *testing.T) {
	if d := (Rules{TimeLimitPerQuestionSeconds: 30}).TimeLimit(); d != 30*time.Second {
		t.Fatalf("expected 30s, got %v", d)
	}
	if d := (Rules{}).TimeLimit(); d != 0 {
		t.Fatalf("expected no limit, got %v", d)
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsBenign(ErrStaleAnswer) || !IsBenign(ErrDuplicateAnswer) {
		t.Fatalf("expected answer races to be benign")
	}
	if IsBenign(ErrSessionNotActive) {
		t.Fatalf("session state errors are not benign")
	}
	if !IsUserFacing(ErrSessionCapacityExceeded) || !IsUserFacing(ErrSessionAlreadyActive) {
		t.Fatalf("expected capacity errors to be user facing")
	}
	if IsUserFacing(ErrDuplicateAnswer) {
		t.Fatalf("duplicate answers are silently dropped")
	}
}
