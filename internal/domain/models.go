package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Format is the presentation format of an ad.
type Format string

const (
	FormatRegular Format = "regular"
	FormatBanner  Format = "banner"
	FormatPopup   Format = "popup"
	FormatModal   Format = "modal"
	FormatVideo   Format = "video"
	FormatAudio   Format = "audio"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatRegular, FormatBanner, FormatPopup, FormatModal, FormatVideo, FormatAudio:
		return true
	}
	return false
}

// Timed formats finish when their media signals the end.
func (f Format) Timed() bool {
	return f == FormatVideo || f == FormatAudio
}

// QuestionType distinguishes multiple-choice from short-answer questions.
type QuestionType string

const (
	QuestionMultiple QuestionType = "multiple"
	QuestionShort    QuestionType = "short"
)

// QuizQuestion gates the reward of an ad.
type QuizQuestion struct {
	ID       string       `json:"id" yaml:"id"`
	Question string       `json:"question" yaml:"question"`
	Type     QuestionType `json:"type" yaml:"type"`
	Options  []string     `json:"options,omitempty" yaml:"options,omitempty"`
	Correct  int          `json:"correct" yaml:"correct"`
	Answer   string       `json:"answer,omitempty" yaml:"answer,omitempty"`
}

// Validate checks the shape rules for the question type.
func (q QuizQuestion) Validate() error {
	switch q.Type {
	case QuestionMultiple:
		filled := 0
		for _, opt := range q.Options {
			if strings.TrimSpace(opt) != "" {
				filled++
			}
		}
		if filled < 2 {
			return fmt.Errorf("%w: multiple choice needs at least two non-empty options", ErrInvalidQuestion)
		}
		if q.Correct < 0 || q.Correct >= len(q.Options) {
			return fmt.Errorf("%w: correct option %d out of range", ErrInvalidQuestion, q.Correct)
		}
	case QuestionShort:
		if strings.TrimSpace(q.Answer) == "" {
			return fmt.Errorf("%w: short answer needs a canonical answer", ErrInvalidQuestion)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidQuestion, q.Type)
	}
	return nil
}

// Public strips the solution so the question can be shown to a viewer.
func (q QuizQuestion) Public() QuizQuestion {
	out := QuizQuestion{ID: q.ID, Question: q.Question, Type: q.Type}
	if len(q.Options) > 0 {
		out.Options = append([]string(nil), q.Options...)
	}
	return out
}

// Ad is the catalog entry shown to a viewer.
type Ad struct {
	ID          string          `json:"id" yaml:"id"`
	Title       string          `json:"title" yaml:"title"`
	Description string          `json:"description" yaml:"description"`
	Link        string          `json:"link" yaml:"link"`
	Format      Format          `json:"format" yaml:"format"`
	Media       string          `json:"media,omitempty" yaml:"media,omitempty"`
	Budget      decimal.Decimal `json:"budget" yaml:"budget"`
	Spent       decimal.Decimal `json:"spent" yaml:"spent"`
	Reward      int             `json:"reward" yaml:"reward"`
	Frequency   string          `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	Views       int             `json:"views" yaml:"views"`
	Completions int             `json:"completions" yaml:"completions"`
	Active      bool            `json:"active" yaml:"active"`
	CreatedAt   time.Time       `json:"createdAt" yaml:"createdAt"`
	Quiz        []QuizQuestion  `json:"quiz" yaml:"quiz"`
}

// Timed reports whether completion comes from the media itself.
func (a Ad) Timed() bool {
	return a.Format.Timed()
}

// Normalize fills positional ids on questions that have none. The quiz slice is
// copied so ads shared through a cache are never written to.
func (a *Ad) Normalize() {
	if len(a.Quiz) == 0 {
		return
	}
	quiz := make([]QuizQuestion, len(a.Quiz))
	copy(quiz, a.Quiz)
	for i := range quiz {
		if quiz[i].ID == "" {
			quiz[i].ID = strconv.Itoa(i + 1)
		}
	}
	a.Quiz = quiz
}

// Validate is used when ads are written to the catalog.
func (a Ad) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("ad id is required")
	}
	if !a.Format.Valid() {
		return fmt.Errorf("ad %s: unknown format %q", a.ID, a.Format)
	}
	if a.Reward < 0 {
		return fmt.Errorf("ad %s: negative reward", a.ID)
	}
	for i, q := range a.Quiz {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("ad %s question %d: %w", a.ID, i, err)
		}
	}
	return nil
}

// DisplayFilter narrows the ads the catalog returns for display.
type DisplayFilter struct {
	Format Format
	Limit  int
}

// Submission is the viewer's answer state for a quiz question.
type Submission struct {
	Answer         string `json:"answer,omitempty"`
	SelectedOption *int   `json:"selectedOption,omitempty"`
}

// Viewer identifies who is watching; Token is forwarded to the backend.
type Viewer struct {
	ID    string
	Token string
}

// RewardClaim is one credit request. ID stays the same across retries of the
// claim, so ledgers can drop repeats.
type RewardClaim struct {
	ID     string
	Viewer Viewer
	AdID   string
	Amount int
}
