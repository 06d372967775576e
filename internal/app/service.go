package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"ad-engagement-service/internal/domain"
	"ad-engagement-service/internal/quiz"
	"github.com/google/uuid"
)

// SessionRepository abstracts where live ad sessions are kept (in-memory, Redis, etc).
type SessionRepository interface {
	Save(session *Session)
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
}

// AdCatalog supplies ads for display. Both calls return the catalog's list as-is;
// the service uses the first element.
type AdCatalog interface {
	DisplayAds(ctx context.Context, filter domain.DisplayFilter) ([]domain.Ad, error)
	PreviewAd(ctx context.Context, adID string) ([]domain.Ad, error)
}

// OpenRequest selects the ad for a new session: a specific ad when AdID is set,
// otherwise whatever the catalog offers for Filter.
type OpenRequest struct {
	AdID   string
	Filter domain.DisplayFilter
}

// EngagementService contains the ad engagement use cases.
type EngagementService struct {
	sessions SessionRepository
	catalog  AdCatalog
	tracker  Tracker
	ledger   Ledger
	engine   *quiz.Engine
	cfg      SessionConfig
	clock    Clock

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option customizes an EngagementService.
type Option func(*EngagementService)

func WithSessionConfig(cfg SessionConfig) Option {
	return func(s *EngagementService) { s.cfg = cfg }
}

// WithClock is used by tests to drive session timers by hand.
func WithClock(clock Clock) Option {
	return func(s *EngagementService) { s.clock = clock }
}

// WithRandSource makes skip thresholds and reward gates deterministic.
func WithRandSource(src rand.Source) Option {
	return func(s *EngagementService) { s.rnd = rand.New(src) }
}

func NewEngagementService(sessions SessionRepository, catalog AdCatalog, tracker Tracker, ledger Ledger, engine *quiz.Engine, opts ...Option) *EngagementService {
	s := &EngagementService{
		sessions: sessions,
		catalog:  catalog,
		tracker:  tracker,
		ledger:   ledger,
		engine:   engine,
		cfg:      DefaultSessionConfig(),
		clock:    SystemClock(),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracker == nil {
		s.tracker = NopTracker{}
	}
	if s.engine == nil {
		s.engine = quiz.NewEngine()
	}
	return s
}

// Open fetches an ad and starts a session for it.
func (s *EngagementService) Open(ctx context.Context, viewer domain.Viewer, req OpenRequest) (*Session, error) {
	if viewer.ID == "" {
		return nil, domain.ErrUnauthenticated
	}

	skipAfter, offered := s.draw()
	session := newSession(sessionParams{
		id:            uuid.NewString(),
		viewer:        viewer,
		cfg:           s.cfg,
		clock:         s.clock,
		selector:      s.engine,
		tracker:       s.tracker,
		ledger:        s.ledger,
		skipAfter:     skipAfter,
		rewardOffered: offered,
		onClose:       s.sessions.Delete,
	})
	s.sessions.Save(session)

	ads, err := s.fetch(ctx, req)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	if len(ads) == 0 {
		session.Close()
		return nil, domain.ErrNoAds
	}
	if err := session.Begin(ads[0]); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// Session looks up a live session.
func (s *EngagementService) Session(sessionID string) (*Session, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Close discards a session, as when the viewer navigates away.
func (s *EngagementService) Close(sessionID string) {
	if session, ok := s.sessions.Get(sessionID); ok {
		session.Close()
	}
}

// RandomQuestion draws a question for an ad with the solution removed.
func (s *EngagementService) RandomQuestion(ctx context.Context, adID string) (domain.QuizQuestion, error) {
	ad, err := s.lookupAd(ctx, adID)
	if err != nil {
		return domain.QuizQuestion{}, err
	}
	question, err := s.engine.SelectQuestion(ad)
	if err != nil {
		return domain.QuizQuestion{}, err
	}
	return question.Public(), nil
}

// SubmitQuiz grades an answer to one of an ad's questions.
func (s *EngagementService) SubmitQuiz(ctx context.Context, adID, questionID string, submission domain.Submission) (bool, error) {
	ad, err := s.lookupAd(ctx, adID)
	if err != nil {
		return false, err
	}
	question, err := quiz.FindQuestion(ad, questionID)
	if err != nil {
		return false, err
	}
	return quiz.Grade(question, submission), nil
}

func (s *EngagementService) fetch(ctx context.Context, req OpenRequest) ([]domain.Ad, error) {
	if req.AdID != "" {
		return s.catalog.PreviewAd(ctx, req.AdID)
	}
	return s.catalog.DisplayAds(ctx, req.Filter)
}

func (s *EngagementService) lookupAd(ctx context.Context, adID string) (domain.Ad, error) {
	ads, err := s.catalog.PreviewAd(ctx, adID)
	if err != nil {
		return domain.Ad{}, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	if len(ads) == 0 {
		return domain.Ad{}, domain.ErrAdNotFound
	}
	ad := ads[0]
	ad.Normalize()
	return ad, nil
}

// draw picks the per-session skip threshold and reward gate.
func (s *EngagementService) draw() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo, hi := s.cfg.SkipMinSeconds, s.cfg.SkipMaxSeconds
	if hi < lo {
		hi = lo
	}
	skipAfter := lo + s.rnd.Intn(hi-lo+1)
	return skipAfter, s.rnd.Float64() < s.cfg.RewardProbability
}
