package redis

import (
	"context"
	"fmt"

	"learnquest/internal/domain"
	"learnquest/internal/logger"
	"learnquest/internal/srs"
	"github.com/redis/go-redis/v9"
)

// ProgressStore keeps one hash per user, one field per quiz:
//
//	HSET progress:{username} {quizID} {json}
//
// ReadAll is a single HGETALL, which is all the cross-quiz aggregation needs.
// Fields that fail to decode are logged and skipped.
type ProgressStore struct {
	client *redis.Client
	log    *logger.Logger
}

func NewProgressStore(client *redis.Client, log *logger.Logger) *ProgressStore {
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressStore{client: client, log: log}
}

func (s *ProgressStore) Read(ctx context.Context, username, quizID string) (domain.UserQuizProgress, bool, error) {
	data, err := s.client.HGet(ctx, s.key(username), quizID).Bytes()
	if err == redis.Nil {
		return domain.UserQuizProgress{}, false, nil
	}
	if err != nil {
		return domain.UserQuizProgress{}, false, fmt.Errorf("hget progress: %w", err)
	}
	p, err := srs.UnmarshalProgress(data)
	if err != nil {
		return domain.UserQuizProgress{}, false, err
	}
	p.Username, p.QuizID = username, quizID
	return p, true, nil
}

func (s *ProgressStore) Write(ctx context.Context, username, quizID string, record domain.UserQuizProgress) error {
	record.Username = username
	record.QuizID = quizID
	data, err := srs.MarshalProgress(record)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key(username), quizID, data).Err(); err != nil {
		return fmt.Errorf("hset progress: %w", err)
	}
	return nil
}

func (s *ProgressStore) ReadAll(ctx context.Context, username string) (map[string]domain.UserQuizProgress, error) {
	docs, err := s.client.HGetAll(ctx, s.key(username)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall progress: %w", err)
	}
	out := make(map[string]domain.UserQuizProgress, len(docs))
	for quizID, doc := range docs {
		p, err := srs.UnmarshalProgress([]byte(doc))
		if err != nil {
			s.log.Warn("skipping unreadable progress", "user", username, "quiz", quizID, "error", err)
			continue
		}
		p.Username, p.QuizID = username, quizID
		out[quizID] = p
	}
	return out, nil
}

func (s *ProgressStore) Delete(ctx context.Context, username, quizID string) error {
	if err := s.client.HDel(ctx, s.key(username), quizID).Err(); err != nil {
		return fmt.Errorf("hdel progress: %w", err)
	}
	return nil
}

func (s *ProgressStore) key(username string) string {
	return "progress:" + username
}

// DismissalStore keeps dismissed suggestions in a set per user.
type DismissalStore struct {
	client *redis.Client
}

func NewDismissalStore(client *redis.Client) *DismissalStore {
	return &DismissalStore{client: client}
}

func (s *DismissalStore) Dismissed(ctx context.Context, username string) (map[string]bool, error) {
	ids, err := s.client.SMembers(ctx, s.key(username)).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers dismissed: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (s *DismissalStore) Dismiss(ctx context.Context, username, quizID string) error {
	if err := s.client.SAdd(ctx, s.key(username), quizID).Err(); err != nil {
		return fmt.Errorf("sadd dismissed: %w", err)
	}
	return nil
}

func (s *DismissalStore) key(username string) string {
	return "dismissed:" + username
}
