// Package scoring holds the pure scoring rules for quiz answers and attempts.
package scoring

import "chat-quiz-service/internal/domain"

// Outcome is the result of scoring a single selection.
type Outcome struct {
	IsCorrect bool
	Delta     float64
}

// Score grades one selection against a question. A selection of domain.NoSelection
// (timeout or skip) is never penalized; only wrong picks are negatively marked.
func Score(question domain.Question, selected int, rules domain.Rules) Outcome {
	switch {
	case selected == domain.NoSelection:
		return Outcome{}
	case selected == question.CorrectOption:
		return Outcome{IsCorrect: true, Delta: float64(question.Points)}
	case rules.AllowNegativeMarking:
		return Outcome{Delta: -(float64(question.Points) * rules.NegativeMarkingFactor)}
	default:
		return Outcome{}
	}
}

// Totals aggregates one participant's answers.
type Totals struct {
	Score    float64
	MaxScore float64
	Sections map[string]float64
}

// Tally sums the deltas of answers and the points of the first delivered questions.
// Delivery index i refers to quiz question i mod len(questions), which lets marathon
// sessions count every pass through the quiz. Sections of delivered questions are
// present in the result even when nothing in them was answered.
func Tally(quiz domain.Quiz, delivered int, answers []domain.Answer) Totals {
	totals := Totals{Sections: make(map[string]float64)}
	n := len(quiz.Questions)
	if n == 0 {
		return totals
	}

	for i := 0; i < delivered; i++ {
		qi := i % n
		totals.MaxScore += float64(quiz.Questions[qi].Points)
		if section := quiz.SectionOf(qi); section != "" {
			if _, ok := totals.Sections[section]; !ok {
				totals.Sections[section] = 0
			}
		}
	}

	for _, answer := range answers {
		totals.Score += answer.ScoreDelta
		if section := quiz.SectionOf(answer.QuestionIndex % n); section != "" {
			totals.Sections[section] += answer.ScoreDelta
		}
	}
	return totals
}
