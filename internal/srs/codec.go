package srs

import (
	"encoding/json"
	"fmt"
	"time"

	"learnquest/internal/domain"
)

// StoredProgress is the persisted document of a UserQuizProgress.
type StoredProgress struct {
	Username         string                    `json:"username"`
	QuizID           string                    `json:"quizId"`
	Questions        map[string]StoredQuestion `json:"questions,omitempty"`
	TotalTries       int                       `json:"totalTries,omitempty"`
	Completed        bool                      `json:"completed,omitempty"`
	LastUpdated      int64                     `json:"lastUpdated,omitempty"`
	TotalElapsedTime *int64                    `json:"totalElapsedTime,omitempty"` // ms
	CompletedTime    *int64                    `json:"completedTime,omitempty"`    // ms
	XP               *int                      `json:"xp,omitempty"`
	LastXP           *int                      `json:"lastXP,omitempty"`
}

// NormalizeProgress turns a stored document into a complete record. The
// completed flag is recomputed from the questions rather than trusted.
func NormalizeProgress(s StoredProgress) domain.UserQuizProgress {
	p := domain.NewProgress(s.Username, s.QuizID)
	for key, q := range s.Questions {
		p.Questions[key] = Normalize(q)
	}
	if s.TotalTries > 0 {
		p.TotalTries = s.TotalTries
	}
	p.Completed = p.AllAnswered()
	if s.LastUpdated > 0 {
		p.LastUpdated = time.UnixMilli(s.LastUpdated)
	}
	if s.TotalElapsedTime != nil {
		d := time.Duration(*s.TotalElapsedTime) * time.Millisecond
		p.TotalElapsedTime = &d
	}
	if s.CompletedTime != nil {
		d := time.Duration(*s.CompletedTime) * time.Millisecond
		p.CompletedTime = &d
	}
	if s.XP != nil {
		v := *s.XP
		p.XP = &v
	}
	if s.LastXP != nil {
		v := *s.LastXP
		p.LastXP = &v
	}
	return p
}

// StoreProgress converts p into its persisted document.
func StoreProgress(p domain.UserQuizProgress) StoredProgress {
	s := StoredProgress{
		Username:   p.Username,
		QuizID:     p.QuizID,
		Questions:  make(map[string]StoredQuestion, len(p.Questions)),
		TotalTries: p.TotalTries,
		Completed:  p.Completed,
		XP:         p.XP,
		LastXP:     p.LastXP,
	}
	for key, q := range p.Questions {
		s.Questions[key] = Store(q)
	}
	if !p.LastUpdated.IsZero() {
		s.LastUpdated = p.LastUpdated.UnixMilli()
	}
	if p.TotalElapsedTime != nil {
		ms := p.TotalElapsedTime.Milliseconds()
		s.TotalElapsedTime = &ms
	}
	if p.CompletedTime != nil {
		ms := p.CompletedTime.Milliseconds()
		s.CompletedTime = &ms
	}
	return s
}

// MarshalProgress encodes p as a JSON document.
func MarshalProgress(p domain.UserQuizProgress) ([]byte, error) {
	data, err := json.Marshal(StoreProgress(p))
	if err != nil {
		return nil, fmt.Errorf("marshal progress: %w", err)
	}
	return data, nil
}

// UnmarshalProgress decodes a JSON document of any schema generation.
func UnmarshalProgress(data []byte) (domain.UserQuizProgress, error) {
	var s StoredProgress
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.UserQuizProgress{}, fmt.Errorf("unmarshal progress: %w", err)
	}
	return NormalizeProgress(s), nil
}
