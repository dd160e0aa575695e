package srs

import (
	"time"

	"learnquest/internal/domain"
)

// StoredQuestion is the persisted shape of a question's SRS state. Every field
// is optional because documents written before SRS tracking carry only a
// subset (often just "answered").
type StoredQuestion struct {
	Answered          *bool  `json:"answered,omitempty"`
	Attempts          *int   `json:"attempts,omitempty"`
	LastAnswerCorrect *bool  `json:"lastAnswerCorrect,omitempty"`
	CorrectStreak     *int   `json:"correctStreak,omitempty"`
	DifficultyLevel   *int   `json:"difficultyLevel,omitempty"`
	LastAttemptDate   *int64 `json:"lastAttemptDate,omitempty"` // ms since epoch
	NextReviewDate    *int64 `json:"nextReviewDate,omitempty"`  // ms since epoch
}

// Normalize fills every missing field with its default and repairs values the
// update rule can never produce (negative counters, a streak longer than the
// attempt count, a level above MaxDifficultyLevel). Applying it to its own
// output is a no-op.
func Normalize(s StoredQuestion) domain.QuestionSRSData {
	d := domain.QuestionSRSData{}
	if s.Answered != nil {
		d.Answered = *s.Answered
	}
	if s.Attempts != nil && *s.Attempts > 0 {
		d.Attempts = *s.Attempts
	}
	if s.LastAnswerCorrect != nil {
		d.LastAnswerCorrect = *s.LastAnswerCorrect
	}
	if s.CorrectStreak != nil && *s.CorrectStreak > 0 {
		d.CorrectStreak = *s.CorrectStreak
	}
	if s.DifficultyLevel != nil && *s.DifficultyLevel > 0 {
		d.DifficultyLevel = min(*s.DifficultyLevel, MaxDifficultyLevel)
	}
	if s.LastAttemptDate != nil && *s.LastAttemptDate > 0 {
		d.LastAttemptDate = time.UnixMilli(*s.LastAttemptDate)
	}
	if s.NextReviewDate != nil && *s.NextReviewDate > 0 {
		d.NextReviewDate = time.UnixMilli(*s.NextReviewDate)
	}

	// Legacy documents only knew "answered"; a solved question had at least one
	// correct submission.
	if d.Answered && d.Attempts == 0 {
		d.Attempts = 1
		if s.LastAnswerCorrect == nil {
			d.LastAnswerCorrect = true
		}
	}
	if d.CorrectStreak > d.Attempts {
		d.CorrectStreak = d.Attempts
	}
	return d
}

// Store converts d into its persisted shape. Unset timestamps are omitted.
func Store(d domain.QuestionSRSData) StoredQuestion {
	answered := d.Answered
	attempts := d.Attempts
	lastCorrect := d.LastAnswerCorrect
	streak := d.CorrectStreak
	level := d.DifficultyLevel
	s := StoredQuestion{
		Answered:          &answered,
		Attempts:          &attempts,
		LastAnswerCorrect: &lastCorrect,
		CorrectStreak:     &streak,
		DifficultyLevel:   &level,
	}
	if !d.LastAttemptDate.IsZero() {
		ms := d.LastAttemptDate.UnixMilli()
		s.LastAttemptDate = &ms
	}
	if !d.NextReviewDate.IsZero() {
		ms := d.NextReviewDate.UnixMilli()
		s.NextReviewDate = &ms
	}
	return s
}

// Default is the state of a question the learner has not interacted with.
func Default() domain.QuestionSRSData {
	return Normalize(StoredQuestion{})
}
