package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"learnquest/internal/aggregate"
	"learnquest/internal/domain"
	"learnquest/internal/logger"
	"learnquest/internal/srs"
	"learnquest/internal/xp"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// WrongPoolQuizID selects the wrong questions pool instead of a real quiz.
const WrongPoolQuizID = "wrong-pool"

// SessionResult is what a learner sees when a session ends.
type SessionResult struct {
	SessionID   string         `json:"sessionId"`
	QuizID      string         `json:"quizId"`
	Percentage  float64        `json:"percentage"`
	Calculation xp.Calculation `json:"calculation"`
	XPEarned    int            `json:"xpEarned"`
	PreviousXP  int            `json:"previousXP"`
	Delta       int            `json:"delta"`
	Completed   bool           `json:"completed"`
	// Flushed lists the origin quizzes written when a pooled session ends.
	Flushed []string `json:"flushed,omitempty"`
}

// Session is one run through a real quiz or through the wrong questions pool.
// Answers to a real quiz are written as they arrive. Answers to pooled
// questions are buffered per origin quiz and written once per origin when the
// session ends, so two answers to the same origin cannot overwrite each other.
type Session struct {
	id        string
	username  string
	quizID    string
	startedAt time.Time
	svc       *ProgressService
	log       *logger.Logger

	mu        sync.Mutex
	questions []domain.SessionQuestion
	quizzes   map[string]domain.Quiz
	records   map[string]*domain.UserQuizProgress
	dirty     map[string]bool
	correct   map[string]bool
	finished  bool
}

// StartSession opens a session on quizID, or on the wrong questions pool when
// quizID is WrongPoolQuizID.
func (s *ProgressService) StartSession(ctx context.Context, username, quizID string) (*Session, error) {
	if quizID == WrongPoolQuizID {
		return s.startPoolSession(ctx, username)
	}

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		if _, ok, rerr := s.progress.Read(ctx, username, quizID); rerr == nil && ok {
			return nil, domain.ErrOrphanedProgress
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	record, ok, err := s.progress.Read(ctx, username, quizID)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	if !ok {
		record = domain.NewProgress(username, quizID)
	}
	srs.Materialize(&record, quiz.Keys())

	questions := make([]domain.SessionQuestion, len(quiz.Questions))
	for i, q := range quiz.Questions {
		questions[i] = domain.SessionQuestion{Key: quiz.Key(i), Question: q}
	}
	sess := s.newSession(username, quizID, questions)
	sess.quizzes[quizID] = quiz
	sess.records[quizID] = &record
	return sess, nil
}

func (s *ProgressService) startPoolSession(ctx context.Context, username string) (*Session, error) {
	records, quizzes, err := s.loadAll(ctx, username)
	if err != nil {
		return nil, err
	}
	pool := aggregate.BuildWrongPool(records, quizzes)
	if len(pool.Questions) == 0 {
		return nil, domain.ErrEmptyPool
	}

	sess := s.newSession(username, WrongPoolQuizID, pool.Questions)
	for _, q := range pool.Questions {
		origin := q.Origin.QuizID
		if _, ok := sess.records[origin]; ok {
			continue
		}
		record := records[origin]
		sess.records[origin] = &record
		sess.quizzes[origin] = quizzes[origin]
	}
	return sess, nil
}

func (s *ProgressService) newSession(username, quizID string, questions []domain.SessionQuestion) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		username:  username,
		quizID:    quizID,
		startedAt: s.now(),
		svc:       s,
		log:       s.log.With("session", id, "user", username, "quiz", quizID),
		questions: questions,
		quizzes:   make(map[string]domain.Quiz),
		records:   make(map[string]*domain.UserQuizProgress),
		dirty:     make(map[string]bool),
		correct:   make(map[string]bool),
	}
}

func (sess *Session) ID() string { return sess.id }

func (sess *Session) QuizID() string { return sess.quizID }

// Pooled reports whether the session plays the wrong questions pool.
func (sess *Session) Pooled() bool { return sess.quizID == WrongPoolQuizID }

// Questions returns the questions in play order.
func (sess *Session) Questions() []domain.SessionQuestion {
	return append([]domain.SessionQuestion(nil), sess.questions...)
}

// Answer grades optionIndex for the question stored under key and applies the
// SRS update to the record of the quiz the question belongs to. originQuizID
// disambiguates pooled questions and may be empty otherwise.
func (sess *Session) Answer(ctx context.Context, originQuizID, key string, optionIndex int) (domain.AnswerResult, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.finished {
		return domain.AnswerResult{}, domain.ErrSessionClosed
	}

	question, origin, err := sess.lookup(originQuizID, key)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	correct, err := scoreSubmission(question.Question, optionIndex)
	if err != nil {
		return domain.AnswerResult{}, err
	}

	record := sess.records[origin]
	before := record.Clone()
	next, err := sess.svc.engine.Record(record, key, correct, sess.svc.now())
	if err != nil {
		return domain.AnswerResult{}, err
	}
	sess.correct[origin+"/"+key] = correct

	if sess.Pooled() {
		sess.dirty[origin] = true
	} else if err := sess.svc.progress.Write(ctx, sess.username, origin, *record); err != nil {
		// Keep memory consistent with the last durable checkpoint.
		*record = before
		delete(sess.correct, origin+"/"+key)
		return domain.AnswerResult{}, fmt.Errorf("write progress: %w", err)
	}

	return domain.AnswerResult{
		Key:          key,
		Correct:      correct,
		CorrectIndex: question.Question.CorrectIndex,
		SRS:          next,
	}, nil
}

// Finish ends the session, scores it, and persists the outcome.
func (sess *Session) Finish(ctx context.Context) (SessionResult, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.finished {
		return SessionResult{}, domain.ErrSessionClosed
	}
	if sess.Pooled() {
		return sess.finishPool(ctx)
	}
	return sess.finishQuiz(ctx)
}

// Close flushes buffered pooled answers of an abandoned session. It is a no-op
// after Finish.
func (sess *Session) Close(ctx context.Context) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.finished {
		return nil
	}
	sess.finished = true
	if !sess.Pooled() {
		return nil
	}
	_, err := sess.flush(ctx)
	return err
}

func (sess *Session) finishQuiz(ctx context.Context) (SessionResult, error) {
	now := sess.svc.now()
	quiz := sess.quizzes[sess.quizID]
	record := sess.records[sess.quizID]
	updated := record.Clone()

	elapsed := now.Sub(sess.startedAt)
	updated.TotalTries++
	total := elapsed
	if updated.TotalElapsedTime != nil {
		total += *updated.TotalElapsedTime
	}
	updated.TotalElapsedTime = &total
	if updated.Completed && updated.CompletedTime == nil {
		completedAt := total
		updated.CompletedTime = &completedAt
	}

	answered := 0
	for _, key := range quiz.Keys() {
		if updated.Questions[key].Answered {
			answered++
		}
	}
	percentage := percentOf(answered, len(quiz.Questions))
	calc, err := xp.Calculate(xp.Input{
		Percentage:     percentage,
		Elapsed:        elapsed,
		TotalQuestions: len(quiz.Questions),
		Attempts:       updated.TotalTries,
	})
	if err != nil {
		return SessionResult{}, err
	}

	previous := updated.XP
	earned := calc.TotalXP
	updated.LastXP = previous
	updated.XP = &earned
	updated.LastUpdated = now

	if err := sess.svc.progress.Write(ctx, sess.username, sess.quizID, updated); err != nil {
		return SessionResult{}, fmt.Errorf("write progress: %w", err)
	}
	*record = updated
	sess.finished = true

	result := SessionResult{
		SessionID:   sess.id,
		QuizID:      sess.quizID,
		Percentage:  percentage,
		Calculation: calc,
		XPEarned:    earned,
		Delta:       xp.Delta(previous, earned),
		Completed:   updated.Completed,
	}
	if previous != nil {
		result.PreviousXP = *previous
	}
	sess.log.Info("session finished", "xp", earned, "delta", result.Delta, "completed", updated.Completed)
	return result, nil
}

func (sess *Session) finishPool(ctx context.Context) (SessionResult, error) {
	elapsed := sess.svc.now().Sub(sess.startedAt)
	right := 0
	for _, ok := range sess.correct {
		if ok {
			right++
		}
	}
	percentage := percentOf(right, len(sess.questions))
	calc, err := xp.Calculate(xp.Input{
		Percentage:     percentage,
		Elapsed:        elapsed,
		TotalQuestions: len(sess.questions),
		Attempts:       1,
	})
	if err != nil {
		return SessionResult{}, err
	}

	flushed, err := sess.flush(ctx)
	if err != nil {
		return SessionResult{}, err
	}
	sess.finished = true
	sess.log.Info("pooled session finished", "xp", calc.TotalXP, "origins", len(flushed))
	return SessionResult{
		SessionID:   sess.id,
		QuizID:      sess.quizID,
		Percentage:  percentage,
		Calculation: calc,
		XPEarned:    calc.TotalXP,
		Delta:       calc.TotalXP,
		Flushed:     flushed,
	}, nil
}

// flush writes one coalesced record per touched origin quiz. Different origins
// are written concurrently and independently: one failed origin does not cancel
// the others, and it stays dirty so it can be retried.
func (sess *Session) flush(ctx context.Context) ([]string, error) {
	origins := make([]string, 0, len(sess.dirty))
	for origin := range sess.dirty {
		origins = append(origins, origin)
	}
	sort.Strings(origins)

	now := sess.svc.now()
	var mu sync.Mutex
	written := make([]string, 0, len(origins))
	var g errgroup.Group
	for _, origin := range origins {
		record := sess.records[origin]
		srs.Materialize(record, sess.quizzes[origin].Keys())
		record.LastUpdated = now
		if record.Completed && record.CompletedTime == nil {
			// Pool time is not attributed to a quiz; completion is stamped with
			// the time spent in the quiz's own sessions.
			var completedAt time.Duration
			if record.TotalElapsedTime != nil {
				completedAt = *record.TotalElapsedTime
			}
			record.CompletedTime = &completedAt
		}
		snapshot := record.Clone()
		g.Go(func() error {
			if err := sess.svc.progress.Write(ctx, sess.username, origin, snapshot); err != nil {
				sess.log.Error("flush failed", "origin", origin, "error", err)
				return fmt.Errorf("write progress %s: %w", origin, err)
			}
			mu.Lock()
			written = append(written, origin)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	for _, origin := range written {
		delete(sess.dirty, origin)
	}
	sort.Strings(written)
	return written, err
}

func (sess *Session) lookup(originQuizID, key string) (domain.SessionQuestion, string, error) {
	for _, q := range sess.questions {
		if q.Key != key {
			continue
		}
		if q.Origin == nil {
			return q, sess.quizID, nil
		}
		if originQuizID == "" || q.Origin.QuizID == originQuizID {
			return q, q.Origin.QuizID, nil
		}
	}
	return domain.SessionQuestion{}, "", domain.ErrQuestionNotFound
}

// scoreSubmission validates the answer against quiz content.
func scoreSubmission(q domain.Question, optionIndex int) (bool, error) {
	if optionIndex < 0 || optionIndex >= len(q.Options) {
		return false, domain.ErrOptionNotFound
	}
	return optionIndex == q.CorrectIndex, nil
}

func percentOf(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
