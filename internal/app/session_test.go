package app_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"learnquest/internal/app"
	"learnquest/internal/domain"
	"learnquest/internal/infra/memory"
	"learnquest/internal/srs"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// countingStore records writes per quiz and can be told to fail them, either
// all of them or only those of one quiz.
type countingStore struct {
	*memory.ProgressStore
	mu       sync.Mutex
	writes   map[string]int
	fail     bool
	failQuiz string
	// failed is closed by the first write to failQuiz. Writes to other quizzes
	// wait for it so they observe whatever that failure did to their context.
	failed chan struct{}
}

func newCountingStore() *countingStore {
	return &countingStore{ProgressStore: memory.NewProgressStore(nil), writes: make(map[string]int)}
}

func (s *countingStore) Write(ctx context.Context, username, quizID string, record domain.UserQuizProgress) error {
	s.mu.Lock()
	if s.fail {
		s.mu.Unlock()
		return errors.New("disk full")
	}
	if s.failQuiz != "" && quizID == s.failQuiz {
		select {
		case <-s.failed:
		default:
			close(s.failed)
		}
		s.mu.Unlock()
		return errors.New("disk full")
	}
	failed := s.failed
	s.mu.Unlock()

	if failed != nil {
		<-failed
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.writes[quizID]++
	s.mu.Unlock()
	return s.ProgressStore.Write(ctx, username, quizID, record)
}

func (s *countingStore) count(quizID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[quizID]
}

func (s *countingStore) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

// failOnly makes writes to quizID fail. An empty quizID clears it.
func (s *countingStore) failOnly(quizID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failQuiz = quizID
	s.failed = nil
	if quizID != "" {
		s.failed = make(chan struct{})
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store   *countingStore
	loader  *memory.StaticQuizLoader
	clock   *testClock
	service *app.ProgressService
}

func newFixture(opts ...app.Option) *fixture {
	f := &fixture{
		store:  newCountingStore(),
		loader: memory.NewStaticQuizLoader(testQuizzes()),
		clock:  &testClock{now: t0},
	}
	opts = append([]app.Option{app.WithClock(f.clock.Now), app.WithRand(rand.New(rand.NewSource(1)))}, opts...)
	f.service = app.NewProgressService(
		f.store,
		memory.NewDismissalStore(),
		memory.NewQuizRepository(f.loader, time.Minute),
		srs.NewEngine(srs.DefaultConfig()),
		opts...,
	)
	return f
}

// seedWrong stores a record whose listed questions were attempted once and missed.
func (f *fixture) seedWrong(t *testing.T, quizID string, keys ...string) {
	t.Helper()
	p := domain.NewProgress("ana", quizID)
	for _, key := range keys {
		p.Questions[key] = domain.QuestionSRSData{Attempts: 1, LastAttemptDate: t0.Add(-time.Hour)}
	}
	if err := f.store.ProgressStore.Write(context.Background(), "ana", quizID, p); err != nil {
		t.Fatalf("seed %s: %v", quizID, err)
	}
}

func TestQuizSessionScoresAndTracksDelta(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	play := func() app.SessionResult {
		sess, err := f.service.StartSession(ctx, "ana", "quiz-1")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		for _, q := range sess.Questions() {
			if _, err := sess.Answer(ctx, "", q.Key, q.Question.CorrectIndex); err != nil {
				t.Fatalf("answer %s: %v", q.Key, err)
			}
		}
		f.clock.Advance(40 * time.Second)
		result, err := sess.Finish(ctx)
		if err != nil {
			t.Fatalf("finish: %v", err)
		}
		return result
	}

	first := play()
	// 20 base * 1.5 accuracy * 1.3 speed (20s per question) * 1.0 first attempt.
	if first.XPEarned != 39 || first.Delta != 39 || first.PreviousXP != 0 || !first.Completed {
		t.Fatalf("unexpected first result %+v", first)
	}

	second := play()
	// Second try costs 10%: 35.1 rounds to 35.
	if second.XPEarned != 35 || second.PreviousXP != 39 || second.Delta != -4 {
		t.Fatalf("unexpected second result %+v", second)
	}

	record, _, _ := f.store.Read(ctx, "ana", "quiz-1")
	if record.TotalTries != 2 || *record.XP != 35 || *record.LastXP != 39 {
		t.Fatalf("unexpected record %+v", record)
	}
	if *record.TotalElapsedTime != 80*time.Second || *record.CompletedTime != 40*time.Second {
		t.Fatalf("unexpected timings total=%v completed=%v", *record.TotalElapsedTime, *record.CompletedTime)
	}
	if q := record.Questions["capital"]; q.Attempts != 2 || q.CorrectStreak != 2 || q.DifficultyLevel != 2 {
		t.Fatalf("unexpected srs state %+v", q)
	}
}

func TestQuizAnswersArePersistedImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	sess, err := f.service.StartSession(ctx, "ana", "quiz-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := sess.Answer(ctx, "", "quiz-1_0", 0)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.Correct || res.CorrectIndex != 1 || !res.SRS.NextReviewDate.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("unexpected answer result %+v", res)
	}
	if f.store.count("quiz-1") != 1 {
		t.Fatalf("expected one write per answer, got %d", f.store.count("quiz-1"))
	}

	record, ok, _ := f.store.Read(ctx, "ana", "quiz-1")
	if !ok || len(record.Questions) != 2 || record.Completed {
		t.Fatalf("expected materialized incomplete record, got %+v", record)
	}
}

func TestAnswerValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sess, _ := f.service.StartSession(ctx, "ana", "quiz-1")

	if _, err := sess.Answer(ctx, "", "nope", 0); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
	if _, err := sess.Answer(ctx, "", "capital", 3); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected ErrOptionNotFound, got %v", err)
	}
	if _, err := sess.Answer(ctx, "", "capital", -1); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected ErrOptionNotFound, got %v", err)
	}
	if f.store.count("quiz-1") != 0 {
		t.Fatalf("rejected answers must not be written")
	}
}

func TestAnswerRollsBackOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sess, _ := f.service.StartSession(ctx, "ana", "quiz-1")

	f.store.setFail(true)
	if _, err := sess.Answer(ctx, "", "capital", 2); err == nil {
		t.Fatalf("expected write error")
	}
	f.store.setFail(false)

	res, err := sess.Answer(ctx, "", "capital", 2)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.SRS.Attempts != 1 || res.SRS.DifficultyLevel != 1 {
		t.Fatalf("failed answer leaked into state: %+v", res.SRS)
	}
}

func TestFinishedSessionRejectsInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sess, _ := f.service.StartSession(ctx, "ana", "quiz-1")

	if _, err := sess.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := sess.Finish(ctx); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := sess.Answer(ctx, "", "capital", 2); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if err := sess.Close(ctx); err != nil {
		t.Fatalf("close after finish: %v", err)
	}
}

func TestPooledAnswersCoalescePerOrigin(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.seedWrong(t, "quiz-1", "quiz-1_0", "capital")
	f.seedWrong(t, "quiz-2", "quiz-2_0")
	before := f.store.count("quiz-1")

	sess, err := f.service.StartSession(ctx, "ana", app.WrongPoolQuizID)
	if err != nil {
		t.Fatalf("start pool: %v", err)
	}
	if !sess.Pooled() || len(sess.Questions()) != 3 {
		t.Fatalf("expected three pooled questions, got %d", len(sess.Questions()))
	}
	for _, q := range sess.Questions() {
		if _, err := sess.Answer(ctx, q.Origin.QuizID, q.Key, q.Question.CorrectIndex); err != nil {
			t.Fatalf("answer %s/%s: %v", q.Origin.QuizID, q.Key, err)
		}
	}
	if f.store.count("quiz-1") != before {
		t.Fatalf("pooled answers must be buffered until the session ends")
	}

	result, err := sess.Finish(ctx)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if len(result.Flushed) != 2 || result.Flushed[0] != "quiz-1" || result.Flushed[1] != "quiz-2" {
		t.Fatalf("unexpected flushed origins %v", result.Flushed)
	}
	if got := f.store.count("quiz-1") - before; got != 1 {
		t.Fatalf("expected one coalesced write for quiz-1, got %d", got)
	}

	record, _, _ := f.store.Read(ctx, "ana", "quiz-1")
	for _, key := range []string{"quiz-1_0", "capital"} {
		if q := record.Questions[key]; !q.LastAnswerCorrect || q.Attempts != 2 {
			t.Fatalf("answer to %s lost: %+v", key, q)
		}
	}
	if !record.Completed {
		t.Fatalf("expected quiz-1 completed after pool")
	}

	pool, err := f.service.WrongPool(ctx, "ana")
	if err != nil || len(pool.Questions) != 0 {
		t.Fatalf("expected drained pool, got %+v (err %v)", pool, err)
	}
}

func TestPooledAnswerUsesOriginForDuplicateKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.seedWrong(t, "dup-a", "shared")
	f.seedWrong(t, "dup-b", "shared")

	sess, err := f.service.StartSession(ctx, "ana", app.WrongPoolQuizID)
	if err != nil {
		t.Fatalf("start pool: %v", err)
	}
	if _, err := sess.Answer(ctx, "dup-b", "shared", 1); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := sess.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	a, _, _ := f.store.Read(ctx, "ana", "dup-a")
	b, _, _ := f.store.Read(ctx, "ana", "dup-b")
	if a.Questions["shared"].Attempts != 1 || b.Questions["shared"].Attempts != 2 {
		t.Fatalf("answer applied to the wrong origin: a=%+v b=%+v", a.Questions["shared"], b.Questions["shared"])
	}
}

func TestCloseFlushesAbandonedPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.seedWrong(t, "quiz-2", "quiz-2_0")

	sess, _ := f.service.StartSession(ctx, "ana", app.WrongPoolQuizID)
	if _, err := sess.Answer(ctx, "quiz-2", "quiz-2_0", 1); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := sess.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	record, _, _ := f.store.Read(ctx, "ana", "quiz-2")
	if !record.Questions["quiz-2_0"].LastAnswerCorrect {
		t.Fatalf("abandoned pooled answer not flushed: %+v", record)
	}
	if _, err := sess.Answer(ctx, "quiz-2", "quiz-2_0", 1); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestPooledFlushRetriesFailedOrigin(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.seedWrong(t, "quiz-1", "quiz-1_0")
	f.seedWrong(t, "quiz-2", "quiz-2_0")

	sess, err := f.service.StartSession(ctx, "ana", app.WrongPoolQuizID)
	if err != nil {
		t.Fatalf("start pool: %v", err)
	}
	for _, q := range sess.Questions() {
		if _, err := sess.Answer(ctx, q.Origin.QuizID, q.Key, q.Question.CorrectIndex); err != nil {
			t.Fatalf("answer %s/%s: %v", q.Origin.QuizID, q.Key, err)
		}
	}

	f.store.failOnly("quiz-1")
	if _, err := sess.Finish(ctx); err == nil {
		t.Fatalf("expected flush error")
	}
	// The healthy origin is written even though its sibling failed.
	if f.store.count("quiz-2") != 1 {
		t.Fatalf("expected quiz-2 written once, got %d", f.store.count("quiz-2"))
	}
	record, _, _ := f.store.Read(ctx, "ana", "quiz-2")
	if !record.Questions["quiz-2_0"].LastAnswerCorrect {
		t.Fatalf("quiz-2 answer not persisted: %+v", record)
	}
	if f.store.count("quiz-1") != 0 {
		t.Fatalf("quiz-1 write should have failed")
	}

	f.store.failOnly("")
	result, err := sess.Finish(ctx)
	if err != nil {
		t.Fatalf("retry finish: %v", err)
	}
	if len(result.Flushed) != 1 || result.Flushed[0] != "quiz-1" {
		t.Fatalf("retry should only write the failed origin, got %v", result.Flushed)
	}
	if f.store.count("quiz-1") != 1 || f.store.count("quiz-2") != 1 {
		t.Fatalf("unexpected write counts quiz-1=%d quiz-2=%d", f.store.count("quiz-1"), f.store.count("quiz-2"))
	}
}

func TestCloseRetriesFailedOrigin(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.seedWrong(t, "quiz-2", "quiz-2_0")

	sess, _ := f.service.StartSession(ctx, "ana", app.WrongPoolQuizID)
	if _, err := sess.Answer(ctx, "quiz-2", "quiz-2_0", 1); err != nil {
		t.Fatalf("answer: %v", err)
	}
	f.store.failOnly("quiz-2")
	if _, err := sess.Finish(ctx); err == nil {
		t.Fatalf("expected flush error")
	}
	f.store.failOnly("")
	if err := sess.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	record, _, _ := f.store.Read(ctx, "ana", "quiz-2")
	if !record.Questions["quiz-2_0"].LastAnswerCorrect {
		t.Fatalf("failed origin not retried on close: %+v", record)
	}
}

func TestPooledCompletionSetsCompletedTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.seedWrong(t, "quiz-2", "quiz-2_0")

	sess, _ := f.service.StartSession(ctx, "ana", app.WrongPoolQuizID)
	if _, err := sess.Answer(ctx, "quiz-2", "quiz-2_0", 1); err != nil {
		t.Fatalf("answer: %v", err)
	}
	f.clock.Advance(30 * time.Second)
	if _, err := sess.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	record, _, _ := f.store.Read(ctx, "ana", "quiz-2")
	if !record.Completed || record.CompletedTime == nil {
		t.Fatalf("expected completion time on pooled completion, got %+v", record)
	}
	// Pool time is not charged to the quiz.
	if *record.CompletedTime != 0 {
		t.Fatalf("unexpected completed time %v", *record.CompletedTime)
	}
}

func TestEmptyPool(t *testing.T) {
	f := newFixture()
	if _, err := f.service.StartSession(context.Background(), "ana", app.WrongPoolQuizID); !errors.Is(err, domain.ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
}

func TestStartSessionOnDeletedQuiz(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.seedWrong(t, "quiz-2", "quiz-2_0")
	f.loader.Remove("quiz-2")

	if _, err := f.service.StartSession(ctx, "ana", "quiz-2"); !errors.Is(err, domain.ErrOrphanedProgress) {
		t.Fatalf("expected ErrOrphanedProgress, got %v", err)
	}
	if _, err := f.service.StartSession(ctx, "ana", "never-existed"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}

	// The orphan's missed question cannot be played and is reported instead.
	pool, err := f.service.WrongPool(ctx, "ana")
	if err != nil {
		t.Fatalf("wrong pool: %v", err)
	}
	if len(pool.Questions) != 0 || len(pool.Unresolved) != 1 {
		t.Fatalf("unexpected pool %+v", pool)
	}
}

func testQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Basics",
			Questions: []domain.Question{
				{Prompt: "What is 2 + 2?", Options: []domain.Option{{Text: "3"}, {Text: "4"}}, CorrectIndex: 1},
				{ID: "capital", Prompt: "Capital of France?", Options: []domain.Option{{Text: "Rome"}, {Text: "Madrid"}, {Text: "Paris"}}, CorrectIndex: 2},
			},
		},
		"quiz-2": {
			ID:    "quiz-2",
			Title: "Colours",
			Questions: []domain.Question{
				{Prompt: "Colour of the sky?", Options: []domain.Option{{Text: "Green"}, {Text: "Blue"}}, CorrectIndex: 1},
			},
		},
		"dup-a": {
			ID:        "dup-a",
			Questions: []domain.Question{{ID: "shared", Prompt: "A?", Options: []domain.Option{{Text: "x"}, {Text: "y"}}, CorrectIndex: 1}},
		},
		"dup-b": {
			ID:        "dup-b",
			Questions: []domain.Question{{ID: "shared", Prompt: "B?", Options: []domain.Option{{Text: "x"}, {Text: "y"}}, CorrectIndex: 1}},
		},
	}
}
