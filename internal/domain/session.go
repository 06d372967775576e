package domain

import "time"

// State is the lifecycle position of an ad session.
type State string

const (
	StateLoading        State = "loading"
	StateViewing        State = "viewing"
	StateSkipped        State = "skipped"
	StateCompleted      State = "completed"
	StateRewardPrompted State = "reward_prompted"
	StateQuizActive     State = "quiz_active"
	StateRewarded       State = "rewarded"
	StateDeclined       State = "declined"
)

// CompletionTrigger says what ended the viewing phase.
type CompletionTrigger string

const (
	TriggerMediaEnded   CompletionTrigger = "media_ended"
	TriggerAcknowledged CompletionTrigger = "acknowledged"
)

// EventKind names an engagement event reported to trackers.
type EventKind string

const (
	EventView          EventKind = "view"
	EventSkip          EventKind = "skip"
	EventCompletion    EventKind = "completion"
	EventRewardClaimed EventKind = "reward_claimed"
)

// Event is a single engagement signal for one session.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	AdID      string    `json:"adId"`
	ViewerID  string    `json:"viewerId"`
	Amount    int       `json:"amount,omitempty"`
	At        time.Time `json:"at"`
}

// QuizView is the client-facing state of an active quiz attempt.
type QuizView struct {
	Question  QuizQuestion `json:"question"`
	Remaining int          `json:"remainingSeconds"`
	Graded    bool         `json:"graded"`
	Correct   bool         `json:"correct"`
}

// Snapshot is what subscribers see of a session.
type Snapshot struct {
	SessionID     string    `json:"sessionId"`
	AdID          string    `json:"adId,omitempty"`
	State         State     `json:"state"`
	Elapsed       int       `json:"elapsedSeconds"`
	SkipAfter     int       `json:"skipAfterSeconds"`
	CanSkip       bool      `json:"canSkip"`
	RewardOffered bool      `json:"rewardOffered"`
	Reward        int       `json:"reward"`
	RewardClaimed bool      `json:"rewardClaimed"`
	Quiz          *QuizView `json:"quiz,omitempty"`
	Error         string    `json:"error,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
