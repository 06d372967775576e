package quiz

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"ad-engagement-service/internal/domain"
)

// Engine selects quiz questions and grades submissions.
type Engine struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewEngine() *Engine {
	return NewEngineWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewEngineWithSource is used by tests for a deterministic pick order.
func NewEngineWithSource(src rand.Source) *Engine {
	return &Engine{rnd: rand.New(src)}
}

// SelectQuestion picks a question from the ad uniformly at random.
func (e *Engine) SelectQuestion(ad domain.Ad) (domain.QuizQuestion, error) {
	if len(ad.Quiz) == 0 {
		return domain.QuizQuestion{}, domain.ErrNoQuizAvailable
	}
	e.mu.Lock()
	idx := e.rnd.Intn(len(ad.Quiz))
	e.mu.Unlock()
	return ad.Quiz[idx], nil
}

// Grade reports whether the submission answers the question.
func Grade(question domain.QuizQuestion, submission domain.Submission) bool {
	switch question.Type {
	case domain.QuestionMultiple:
		return submission.SelectedOption != nil && *submission.SelectedOption == question.Correct
	case domain.QuestionShort:
		got := normalize(submission.Answer)
		want := normalize(question.Answer)
		// an empty answer is a substring of everything
		if got == "" || want == "" {
			return false
		}
		return strings.Contains(want, got) || strings.Contains(got, want)
	}
	return false
}

// FindQuestion looks a question up by id.
func FindQuestion(ad domain.Ad, questionID string) (domain.QuizQuestion, error) {
	for _, q := range ad.Quiz {
		if q.ID == questionID {
			return q, nil
		}
	}
	return domain.QuizQuestion{}, domain.ErrQuestionNotFound
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
