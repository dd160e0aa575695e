package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"learnquest/internal/domain"
	"learnquest/internal/logger"
	"learnquest/internal/srs"
	"github.com/uptrace/bun"
)

type progressRow struct {
	bun.BaseModel `bun:"table:user_quiz_progress"`

	Username    string    `bun:"username,pk"`
	QuizID      string    `bun:"quiz_id,pk"`
	Data        string    `bun:"data,type:jsonb"`
	Completed   bool      `bun:"completed"`
	LastUpdated time.Time `bun:"last_updated"`
}

type dismissedRow struct {
	bun.BaseModel `bun:"table:dismissed_quizzes"`

	Username    string    `bun:"username,pk"`
	QuizID      string    `bun:"quiz_id,pk"`
	DismissedAt time.Time `bun:"dismissed_at"`
}

// ProgressStore keeps one JSONB document per (username, quiz_id). The
// completed and last_updated columns mirror the document for ad-hoc queries.
// Rows whose document fails to decode are skipped by ReadAll.
type ProgressStore struct {
	db  *bun.DB
	log *logger.Logger
}

func NewProgressStore(db *bun.DB, log *logger.Logger) *ProgressStore {
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressStore{db: db, log: log}
}

func (s *ProgressStore) Read(ctx context.Context, username, quizID string) (domain.UserQuizProgress, bool, error) {
	row := new(progressRow)
	err := s.db.NewSelect().Model(row).
		Where("username = ?", username).
		Where("quiz_id = ?", quizID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserQuizProgress{}, false, nil
	}
	if err != nil {
		return domain.UserQuizProgress{}, false, fmt.Errorf("select progress: %w", err)
	}
	p, err := srs.UnmarshalProgress([]byte(row.Data))
	if err != nil {
		return domain.UserQuizProgress{}, false, err
	}
	p.Username, p.QuizID = row.Username, row.QuizID
	return p, true, nil
}

func (s *ProgressStore) Write(ctx context.Context, username, quizID string, record domain.UserQuizProgress) error {
	record.Username = username
	record.QuizID = quizID
	data, err := srs.MarshalProgress(record)
	if err != nil {
		return err
	}
	row := &progressRow{
		Username:    username,
		QuizID:      quizID,
		Data:        string(data),
		Completed:   record.Completed,
		LastUpdated: record.LastUpdated,
	}
	if row.LastUpdated.IsZero() {
		row.LastUpdated = time.Now()
	}
	_, err = s.db.NewInsert().Model(row).
		On("CONFLICT (username, quiz_id) DO UPDATE").
		Set("data = EXCLUDED.data").
		Set("completed = EXCLUDED.completed").
		Set("last_updated = EXCLUDED.last_updated").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

func (s *ProgressStore) ReadAll(ctx context.Context, username string) (map[string]domain.UserQuizProgress, error) {
	var rows []progressRow
	if err := s.db.NewSelect().Model(&rows).Where("username = ?", username).Scan(ctx); err != nil {
		return nil, fmt.Errorf("select progress: %w", err)
	}
	out := make(map[string]domain.UserQuizProgress, len(rows))
	for _, row := range rows {
		p, err := srs.UnmarshalProgress([]byte(row.Data))
		if err != nil {
			s.log.Warn("skipping unreadable progress", "user", username, "quiz", row.QuizID, "error", err)
			continue
		}
		p.Username, p.QuizID = row.Username, row.QuizID
		out[row.QuizID] = p
	}
	return out, nil
}

func (s *ProgressStore) Delete(ctx context.Context, username, quizID string) error {
	_, err := s.db.NewDelete().Model((*progressRow)(nil)).
		Where("username = ?", username).
		Where("quiz_id = ?", quizID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}

// DismissalStore records dismissed suggestions in dismissed_quizzes.
type DismissalStore struct {
	db *bun.DB
}

func NewDismissalStore(db *bun.DB) *DismissalStore {
	return &DismissalStore{db: db}
}

func (s *DismissalStore) Dismissed(ctx context.Context, username string) (map[string]bool, error) {
	var ids []string
	err := s.db.NewSelect().Model((*dismissedRow)(nil)).
		Column("quiz_id").
		Where("username = ?", username).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("select dismissed: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (s *DismissalStore) Dismiss(ctx context.Context, username, quizID string) error {
	row := &dismissedRow{Username: username, QuizID: quizID, DismissedAt: time.Now()}
	if _, err := s.db.NewInsert().Model(row).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("insert dismissed: %w", err)
	}
	return nil
}
