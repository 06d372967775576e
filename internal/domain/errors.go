package domain

import "errors"

var (
	// ErrFetchFailed is returned when the ad catalog cannot be reached.
	ErrFetchFailed = errors.New("ad fetch failed")
	// ErrNoAds means the catalog answered but had nothing to show.
	ErrNoAds = errors.New("no ads to show")
	// ErrAdNotFound indicates the requested ad does not exist.
	ErrAdNotFound = errors.New("ad not found")
	// ErrNoQuizAvailable is returned when an ad has an empty quiz list.
	ErrNoQuizAvailable = errors.New("no quiz available")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidQuestion marks quiz content that breaks the shape rules.
	ErrInvalidQuestion = errors.New("invalid quiz question")
	// ErrLedgerCallFailed is returned when crediting a reward failed; the graded result is kept.
	ErrLedgerCallFailed = errors.New("reward ledger call failed")
	// ErrEventEmitFailed wraps tracking failures. It is logged, never surfaced to viewers.
	ErrEventEmitFailed = errors.New("event emit failed")

	ErrSkipNotAllowed       = errors.New("skip not allowed yet")
	ErrInvalidTransition    = errors.New("action not allowed in current state")
	ErrRewardAlreadyClaimed = errors.New("reward already claimed")
	ErrSessionClosed        = errors.New("ad session closed")
	ErrSessionNotFound      = errors.New("ad session not found")
	ErrUnauthenticated      = errors.New("unauthenticated")
)
