package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"ad-engagement-service/internal/domain"
	"ad-engagement-service/internal/quiz"
	"github.com/google/uuid"
)

// Ledger is the system of record for viewer balances. Crediting the same
// claim ID twice must credit once.
type Ledger interface {
	CreditReward(ctx context.Context, claim domain.RewardClaim) error
}

// QuestionSelector draws the quiz question for a reward attempt.
type QuestionSelector interface {
	SelectQuestion(ad domain.Ad) (domain.QuizQuestion, error)
}

// SessionConfig parameterizes every ad session.
type SessionConfig struct {
	RewardProbability float64
	SkipMinSeconds    int
	SkipMaxSeconds    int
	TickInterval      time.Duration
	QuizTimeout       time.Duration
	SuccessHold       time.Duration
	FailureHold       time.Duration
	LedgerTimeout     time.Duration
	EventTimeout      time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		RewardProbability: 0.5,
		SkipMinSeconds:    3,
		SkipMaxSeconds:    15,
		TickInterval:      time.Second,
		QuizTimeout:       20 * time.Second,
		SuccessHold:       5 * time.Second,
		FailureHold:       2 * time.Second,
		LedgerTimeout:     10 * time.Second,
		EventTimeout:      5 * time.Second,
	}
}

const (
	timerTick = "tick"
	timerQuiz = "quiz"
	timerHold = "hold"
)

// Session owns the lifecycle of one ad impression.
type Session struct {
	id       string
	viewer   domain.Viewer
	cfg      SessionConfig
	clock    Clock
	selector QuestionSelector
	ledger   Ledger
	onClose  func(id string)

	// fixed at construction
	skipAfter     int
	rewardOffered bool

	mu            sync.Mutex
	state         domain.State
	ad            domain.Ad
	startedAt     time.Time
	elapsed       int
	viewed        bool
	completed     bool
	rewardClaimed bool
	pendingCredit bool
	crediting     bool
	attempt       *attempt
	lastErr       string
	closed        bool
	timers        *timerSet
	events        *eventQueue
	subscribers   map[chan domain.Snapshot]struct{}
}

type attempt struct {
	question domain.QuizQuestion
	draft    domain.Submission
	deadline time.Time
	graded   bool
	correct  bool
}

type sessionParams struct {
	id            string
	viewer        domain.Viewer
	cfg           SessionConfig
	clock         Clock
	selector      QuestionSelector
	tracker       Tracker
	ledger        Ledger
	skipAfter     int
	rewardOffered bool
	onClose       func(id string)
}

func newSession(p sessionParams) *Session {
	return &Session{
		id:            p.id,
		viewer:        p.viewer,
		cfg:           p.cfg,
		clock:         p.clock,
		selector:      p.selector,
		ledger:        p.ledger,
		onClose:       p.onClose,
		skipAfter:     p.skipAfter,
		rewardOffered: p.rewardOffered,
		state:         domain.StateLoading,
		timers:        newTimerSet(p.clock),
		events:        newEventQueue(p.tracker, p.cfg.EventTimeout),
		subscribers:   make(map[chan domain.Snapshot]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// SkipAfter is the elapsed second count at which skipping unlocks.
func (s *Session) SkipAfter() int { return s.skipAfter }

func (s *Session) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Begin moves a loaded session into Viewing and reports the view.
func (s *Session) Begin(ad domain.Ad) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.state != domain.StateLoading {
		return domain.ErrInvalidTransition
	}
	ad.Normalize()
	s.ad = ad
	s.state = domain.StateViewing
	s.startedAt = s.clock.Now()
	if !s.viewed {
		s.viewed = true
		s.emitLocked(domain.EventView, 0)
	}
	s.timers.arm(timerTick, s.cfg.TickInterval, s.tick)
	s.broadcastLocked()
	return nil
}

func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != domain.StateViewing {
		return
	}
	s.refreshElapsedLocked()
	s.timers.arm(timerTick, s.cfg.TickInterval, s.tick)
	s.broadcastLocked()
}

// refreshElapsedLocked counts whole seconds of viewing; the tick interval only
// sets how often snapshots go out.
func (s *Session) refreshElapsedLocked() {
	s.elapsed = int(s.clock.Now().Sub(s.startedAt) / time.Second)
}

// Skip ends the session without reward once the skip threshold has passed.
func (s *Session) Skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.state != domain.StateViewing {
		return domain.ErrInvalidTransition
	}
	s.refreshElapsedLocked()
	if s.elapsed < s.skipAfter {
		return domain.ErrSkipNotAllowed
	}
	s.state = domain.StateSkipped
	s.emitLocked(domain.EventSkip, 0)
	s.broadcastLocked()
	s.closeLocked()
	return nil
}

// Complete ends the viewing phase. Timed formats complete on media end,
// the others on an explicit viewer acknowledgement.
func (s *Session) Complete(trigger domain.CompletionTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.state != domain.StateViewing {
		return domain.ErrInvalidTransition
	}
	want := domain.TriggerAcknowledged
	if s.ad.Timed() {
		want = domain.TriggerMediaEnded
	}
	if trigger != want {
		return fmt.Errorf("%w: %s ad completes on %s", domain.ErrInvalidTransition, s.ad.Format, want)
	}

	s.timers.cancel(timerTick)
	s.state = domain.StateCompleted
	if !s.completed {
		s.completed = true
		s.emitLocked(domain.EventCompletion, 0)
	}
	s.broadcastLocked()

	if s.rewardOffered {
		s.state = domain.StateRewardPrompted
	} else {
		s.state = domain.StateDeclined
		s.holdLocked(s.cfg.FailureHold)
	}
	s.broadcastLocked()
	return nil
}

// DeclineReward dismisses the reward prompt.
func (s *Session) DeclineReward() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.state != domain.StateRewardPrompted || s.crediting {
		return domain.ErrInvalidTransition
	}
	s.state = domain.StateDeclined
	s.pendingCredit = false
	s.broadcastLocked()
	s.holdLocked(s.cfg.FailureHold)
	return nil
}

// RequestReward starts the quiz gate. An ad without questions is credited directly.
func (s *Session) RequestReward(ctx context.Context) error {
	s.mu.Lock()
	if err := s.claimableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.state != domain.StateRewardPrompted {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}

	question, err := s.selector.SelectQuestion(s.ad)
	if errors.Is(err, domain.ErrNoQuizAvailable) {
		s.pendingCredit = true
		s.crediting = true
		s.broadcastLocked()
		s.mu.Unlock()
		return s.credit(ctx)
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.attempt = &attempt{
		question: question,
		deadline: s.clock.Now().Add(s.cfg.QuizTimeout),
	}
	s.state = domain.StateQuizActive
	s.timers.arm(timerQuiz, s.cfg.QuizTimeout, s.expireQuiz)
	s.broadcastLocked()
	s.mu.Unlock()
	return nil
}

// UpdateDraft keeps the answer the viewer has entered so far.
func (s *Session) UpdateDraft(submission domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.state != domain.StateQuizActive || s.attempt == nil || s.attempt.graded {
		return domain.ErrInvalidTransition
	}
	s.attempt.draft = submission
	return nil
}

// SubmitAnswer grades the active quiz attempt. A correct answer credits the reward.
func (s *Session) SubmitAnswer(ctx context.Context, submission domain.Submission) (bool, error) {
	s.mu.Lock()
	if err := s.claimableLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if s.state != domain.StateQuizActive || s.attempt == nil || s.attempt.graded {
		s.mu.Unlock()
		return false, domain.ErrInvalidTransition
	}
	correct := s.gradeLocked(submission)
	s.mu.Unlock()

	if !correct {
		return false, nil
	}
	return true, s.credit(ctx)
}

// RetryReward repeats a failed ledger call without asking the quiz again.
func (s *Session) RetryReward(ctx context.Context) error {
	s.mu.Lock()
	if err := s.claimableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.pendingCredit {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	s.crediting = true
	s.mu.Unlock()
	return s.credit(ctx)
}

func (s *Session) expireQuiz() {
	s.mu.Lock()
	if s.closed || s.state != domain.StateQuizActive || s.attempt == nil || s.attempt.graded {
		s.mu.Unlock()
		return
	}
	correct := s.gradeLocked(s.attempt.draft)
	s.mu.Unlock()

	if correct {
		if err := s.credit(context.Background()); err != nil {
			log.Printf("session %s: reward credit after quiz timeout failed: %v", s.id, err)
		}
	}
}

func (s *Session) claimableLocked() error {
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.rewardClaimed {
		return domain.ErrRewardAlreadyClaimed
	}
	if s.crediting {
		return domain.ErrInvalidTransition
	}
	return nil
}

// gradeLocked records the result; on success the caller must run credit.
func (s *Session) gradeLocked(submission domain.Submission) bool {
	s.timers.cancel(timerQuiz)
	s.attempt.draft = submission
	s.attempt.graded = true
	s.attempt.correct = quiz.Grade(s.attempt.question, submission)

	if !s.attempt.correct {
		s.state = domain.StateDeclined
		s.broadcastLocked()
		s.holdLocked(s.cfg.FailureHold)
		return false
	}
	s.pendingCredit = true
	s.crediting = true
	s.broadcastLocked()
	return true
}

// credit calls the ledger outside the lock. crediting must already be set.
func (s *Session) credit(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()

	// ad is immutable after Begin
	err := s.ledger.CreditReward(ctx, domain.RewardClaim{
		ID:     s.id,
		Viewer: s.viewer,
		AdID:   s.ad.ID,
		Amount: s.ad.Reward,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.crediting = false
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrLedgerCallFailed, err)
		s.lastErr = err.Error()
		s.broadcastLocked()
		return err
	}

	s.pendingCredit = false
	s.rewardClaimed = true
	s.lastErr = ""
	if s.closed {
		// viewer left while the call was in flight; nothing more is emitted
		return nil
	}
	s.state = domain.StateRewarded
	s.emitLocked(domain.EventRewardClaimed, s.ad.Reward)
	s.broadcastLocked()
	s.holdLocked(s.cfg.SuccessHold)
	return nil
}

func (s *Session) holdLocked(d time.Duration) {
	s.timers.arm(timerHold, d, s.Close)
}

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	s.timers.cancelAll()
	s.events.close()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	if s.onClose != nil {
		s.onClose(s.id)
	}
}

// Drained is closed once every event accepted by the session has been delivered.
func (s *Session) Drained() <-chan struct{} {
	return s.events.done
}

// Subscribe returns a channel of snapshots; the caller must invoke cancel.
// The channel is closed when the session closes.
func (s *Session) Subscribe() (<-chan domain.Snapshot, func(), error) {
	ch := make(chan domain.Snapshot, 8)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, domain.ErrSessionClosed
	}
	s.subscribers[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

// emitLocked queues an event. A session emits at most four, so the queue never blocks.
func (s *Session) emitLocked(kind domain.EventKind, amount int) {
	s.events.push(domain.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		SessionID: s.id,
		AdID:      s.ad.ID,
		ViewerID:  s.viewer.ID,
		Amount:    amount,
		At:        s.clock.Now(),
	})
}

func (s *Session) broadcastLocked() {
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// drop the stale snapshot so slow readers always see the latest
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (s *Session) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		SessionID:     s.id,
		AdID:          s.ad.ID,
		State:         s.state,
		Elapsed:       s.elapsed,
		SkipAfter:     s.skipAfter,
		CanSkip:       s.state == domain.StateViewing && s.elapsed >= s.skipAfter,
		RewardOffered: s.rewardOffered,
		Reward:        s.ad.Reward,
		RewardClaimed: s.rewardClaimed,
		Error:         s.lastErr,
		UpdatedAt:     s.clock.Now(),
	}
	if s.attempt != nil && (s.state == domain.StateQuizActive || s.attempt.graded) {
		remaining := s.attempt.deadline.Sub(s.clock.Now())
		if remaining < 0 || s.attempt.graded {
			remaining = 0
		}
		snap.Quiz = &domain.QuizView{
			Question:  s.attempt.question.Public(),
			Remaining: int((remaining + time.Second - 1) / time.Second),
			Graded:    s.attempt.graded,
			Correct:   s.attempt.correct,
		}
	}
	return snap
}
