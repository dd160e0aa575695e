package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"learnquest/internal/aggregate"
	"learnquest/internal/domain"
	"learnquest/internal/logger"
	"learnquest/internal/srs"
	"golang.org/x/sync/errgroup"
)

// ProgressStore abstracts where progress records live (in-memory, Redis, Postgres).
// Write is a full-record upsert, so retrying a failed write is always safe.
type ProgressStore interface {
	Read(ctx context.Context, username, quizID string) (domain.UserQuizProgress, bool, error)
	Write(ctx context.Context, username, quizID string, record domain.UserQuizProgress) error
	ReadAll(ctx context.Context, username string) (map[string]domain.UserQuizProgress, error)
	Delete(ctx context.Context, username, quizID string) error
}

// DismissalStore remembers quizzes a learner asked not to be suggested.
type DismissalStore interface {
	Dismissed(ctx context.Context, username string) (map[string]bool, error)
	Dismiss(ctx context.Context, username, quizID string) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	ListQuizzes(ctx context.Context) ([]domain.QuizSummary, error)
}

// catalogLookupLimit bounds concurrent catalog reads while resolving a dashboard.
const catalogLookupLimit = 8

// ProgressService contains the learner progress use cases.
type ProgressService struct {
	progress   ProgressStore
	dismissals DismissalStore
	quizzes    QuizRepository
	engine     *srs.Engine
	log        *logger.Logger
	now        func() time.Time

	suggestionLimit int
	rndMu           sync.Mutex
	rnd             *rand.Rand
}

// Option customizes a ProgressService.
type Option func(*ProgressService)

// WithClock replaces time.Now; used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *ProgressService) { s.now = now }
}

func WithLogger(log *logger.Logger) Option {
	return func(s *ProgressService) { s.log = log }
}

func WithSuggestionLimit(limit int) Option {
	return func(s *ProgressService) { s.suggestionLimit = limit }
}

// WithRand seeds suggestion sampling.
func WithRand(rnd *rand.Rand) Option {
	return func(s *ProgressService) { s.rnd = rnd }
}

func NewProgressService(progress ProgressStore, dismissals DismissalStore, quizzes QuizRepository, engine *srs.Engine, opts ...Option) *ProgressService {
	s := &ProgressService{
		progress:        progress,
		dismissals:      dismissals,
		quizzes:         quizzes,
		engine:          engine,
		log:             logger.Nop(),
		now:             time.Now,
		suggestionLimit: aggregate.DefaultSuggestionLimit,
		rnd:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dashboard is everything the learner's home screen shows.
type Dashboard struct {
	Progress       []domain.ProgressView
	DueForReview   []domain.QuestionRef
	WrongPoolSize  int
	TotalXP        int
	CompletedCount int
}

// Dashboard reads every record of username once and derives the views.
func (s *ProgressService) Dashboard(ctx context.Context, username string) (Dashboard, error) {
	records, quizzes, err := s.loadAll(ctx, username)
	if err != nil {
		return Dashboard{}, err
	}
	now := s.now()
	d := Dashboard{
		Progress:      aggregate.Dashboard(records, quizzes, now),
		DueForReview:  aggregate.DueForReview(records, now),
		WrongPoolSize: len(aggregate.WrongQuestions(records)),
	}
	for _, p := range records {
		if p.XP != nil {
			d.TotalXP += *p.XP
		}
		if p.Completed {
			d.CompletedCount++
		}
	}
	return d, nil
}

// Review lists the questions due for review across all quizzes.
func (s *ProgressService) Review(ctx context.Context, username string) ([]domain.QuestionRef, error) {
	records, err := s.progress.ReadAll(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	return aggregate.DueForReview(records, s.now()), nil
}

// WrongPool materializes the wrong questions pool.
func (s *ProgressService) WrongPool(ctx context.Context, username string) (domain.WrongQuestionsPool, error) {
	records, quizzes, err := s.loadAll(ctx, username)
	if err != nil {
		return domain.WrongQuestionsPool{}, err
	}
	return aggregate.BuildWrongPool(records, quizzes), nil
}

// Suggestions samples quizzes the learner has not started or dismissed.
func (s *ProgressService) Suggestions(ctx context.Context, username string) ([]domain.QuizSummary, error) {
	catalog, err := s.quizzes.ListQuizzes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	records, err := s.progress.ReadAll(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	dismissed, err := s.dismissals.Dismissed(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("read dismissals: %w", err)
	}
	started := make(map[string]bool, len(records))
	for quizID := range records {
		started[quizID] = true
	}

	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return aggregate.Suggest(catalog, started, dismissed, s.rnd, s.suggestionLimit), nil
}

// DismissSuggestion hides quizID from future suggestions.
func (s *ProgressService) DismissSuggestion(ctx context.Context, username, quizID string) error {
	return s.dismissals.Dismiss(ctx, username, quizID)
}

// DeleteProgress removes one record. It works for records of deleted quizzes too.
func (s *ProgressService) DeleteProgress(ctx context.Context, username, quizID string) error {
	_, ok, err := s.progress.Read(ctx, username, quizID)
	if err != nil {
		return fmt.Errorf("read progress: %w", err)
	}
	if !ok {
		return domain.ErrProgressNotFound
	}
	if err := s.progress.Delete(ctx, username, quizID); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	s.log.Info("progress deleted", "user", username, "quiz", quizID)
	return nil
}

// loadAll reads all records and resolves the quizzes they refer to. Deleted
// quizzes are simply absent from the returned catalog map.
func (s *ProgressService) loadAll(ctx context.Context, username string) (map[string]domain.UserQuizProgress, map[string]domain.Quiz, error) {
	records, err := s.progress.ReadAll(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("read progress: %w", err)
	}

	var mu sync.Mutex
	quizzes := make(map[string]domain.Quiz, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogLookupLimit)
	for quizID := range records {
		g.Go(func() error {
			quiz, err := s.quizzes.GetQuiz(gctx, quizID)
			if errors.Is(err, domain.ErrQuizNotFound) {
				s.log.Debug("progress refers to deleted quiz", "user", username, "quiz", quizID)
				return nil
			}
			if err != nil {
				return fmt.Errorf("load quiz %s: %w", quizID, err)
			}
			mu.Lock()
			quizzes[quizID] = quiz
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return records, quizzes, nil
}
