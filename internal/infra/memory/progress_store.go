package memory

import (
	"context"
	"sync"

	"learnquest/internal/domain"
	"learnquest/internal/logger"
	"learnquest/internal/srs"
)

// ProgressStore is an in-memory implementation of app.ProgressStore. Records
// are kept as encoded documents so reads go through the same normalization as
// the Redis and Postgres stores.
type ProgressStore struct {
	mu    sync.RWMutex
	users map[string]map[string][]byte
	log   *logger.Logger
}

func NewProgressStore(log *logger.Logger) *ProgressStore {
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressStore{
		users: make(map[string]map[string][]byte),
		log:   log,
	}
}

func (s *ProgressStore) Read(_ context.Context, username, quizID string) (domain.UserQuizProgress, bool, error) {
	s.mu.RLock()
	doc, ok := s.users[username][quizID]
	s.mu.RUnlock()
	if !ok {
		return domain.UserQuizProgress{}, false, nil
	}
	p, err := srs.UnmarshalProgress(doc)
	if err != nil {
		return domain.UserQuizProgress{}, false, err
	}
	p.Username, p.QuizID = username, quizID
	return p, true, nil
}

func (s *ProgressStore) Write(_ context.Context, username, quizID string, record domain.UserQuizProgress) error {
	record.Username = username
	record.QuizID = quizID
	doc, err := srs.MarshalProgress(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[username] == nil {
		s.users[username] = make(map[string][]byte)
	}
	s.users[username][quizID] = doc
	return nil
}

// ReadAll skips documents that cannot be decoded so one corrupt record does not
// hide the rest of the user's progress.
func (s *ProgressStore) ReadAll(_ context.Context, username string) (map[string]domain.UserQuizProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.UserQuizProgress, len(s.users[username]))
	for quizID, doc := range s.users[username] {
		p, err := srs.UnmarshalProgress(doc)
		if err != nil {
			s.log.Warn("skipping unreadable progress", "user", username, "quiz", quizID, "error", err)
			continue
		}
		p.Username, p.QuizID = username, quizID
		out[quizID] = p
	}
	return out, nil
}

func (s *ProgressStore) Delete(_ context.Context, username, quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users[username], quizID)
	return nil
}

// Put stores a raw document as-is; used to seed legacy data.
func (s *ProgressStore) Put(username, quizID string, doc []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[username] == nil {
		s.users[username] = make(map[string][]byte)
	}
	s.users[username][quizID] = append([]byte(nil), doc...)
}

// DismissalStore is an in-memory implementation of app.DismissalStore.
type DismissalStore struct {
	mu        sync.RWMutex
	dismissed map[string]map[string]bool
}

func NewDismissalStore() *DismissalStore {
	return &DismissalStore{dismissed: make(map[string]map[string]bool)}
}

func (s *DismissalStore) Dismissed(_ context.Context, username string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.dismissed[username]))
	for quizID := range s.dismissed[username] {
		out[quizID] = true
	}
	return out, nil
}

func (s *DismissalStore) Dismiss(_ context.Context, username, quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dismissed[username] == nil {
		s.dismissed[username] = make(map[string]bool)
	}
	s.dismissed[username][quizID] = true
	return nil
}
