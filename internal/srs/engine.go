package srs

import (
	"time"

	"learnquest/internal/domain"
)

const (
	// MaxDifficultyLevel caps the mastery tier.
	MaxDifficultyLevel = 6
	// MasteredLevel is the first tier counted as mastered.
	MasteredLevel = 5
	// lapsePenalty is how many tiers an incorrect answer costs.
	lapsePenalty = 2
)

// Config holds the review intervals.
type Config struct {
	// Intervals[i] is the wait before a question at level i+1 is due again.
	Intervals []time.Duration
	// RetryInterval is the wait after an incorrect answer.
	RetryInterval time.Duration
}

// DefaultConfig returns the standard backoff: 1, 3, 7, 14, 30 and 60 days.
func DefaultConfig() Config {
	day := 24 * time.Hour
	return Config{
		Intervals:     []time.Duration{day, 3 * day, 7 * day, 14 * day, 30 * day, 60 * day},
		RetryInterval: 10 * time.Minute,
	}
}

// Engine computes SRS transitions. It holds no state besides its config.
type Engine struct {
	cfg Config
}

// NewEngine builds an engine; missing config values take the defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = def.Intervals
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	return &Engine{cfg: cfg}
}

// Apply returns the state that follows cur after one submission at now.
// cur must satisfy Validate.
func (e *Engine) Apply(cur domain.QuestionSRSData, correct bool, now time.Time) domain.QuestionSRSData {
	next := cur
	next.Attempts = cur.Attempts + 1
	next.LastAnswerCorrect = correct
	next.LastAttemptDate = now

	if correct {
		next.CorrectStreak = cur.CorrectStreak + 1
		next.DifficultyLevel = min(cur.DifficultyLevel+1, MaxDifficultyLevel)
		next.Answered = true
		next.NextReviewDate = now.Add(e.Interval(next.DifficultyLevel))
		return next
	}

	// Answered never reverts: a lapse on a solved question keeps the quiz complete.
	next.CorrectStreak = 0
	next.DifficultyLevel = max(cur.DifficultyLevel-lapsePenalty, 0)
	next.NextReviewDate = now.Add(e.cfg.RetryInterval)
	return next
}

// Interval is the wait before a question at level is due again.
func (e *Engine) Interval(level int) time.Duration {
	if level <= 0 {
		return e.cfg.RetryInterval
	}
	if level > len(e.cfg.Intervals) {
		return e.cfg.Intervals[len(e.cfg.Intervals)-1]
	}
	return e.cfg.Intervals[level-1]
}

// IsDue reports whether a solved question is scheduled for review at or before now.
// Never-solved questions belong to the wrong questions pool instead.
func IsDue(d domain.QuestionSRSData, now time.Time) bool {
	return d.Answered && !d.NextReviewDate.IsZero() && !d.NextReviewDate.After(now)
}

// IsWrong reports whether the latest submission of an attempted question was incorrect.
func IsWrong(d domain.QuestionSRSData) bool {
	return d.Attempts > 0 && !d.LastAnswerCorrect
}

// Tier buckets a difficulty level.
type Tier string

const (
	TierNew      Tier = "new"
	TierLearning Tier = "learning"
	TierMastered Tier = "mastered"
)

// TierOf returns the mastery bucket of d.
func TierOf(d domain.QuestionSRSData) Tier {
	switch {
	case d.DifficultyLevel >= MasteredLevel:
		return TierMastered
	case d.DifficultyLevel >= 1:
		return TierLearning
	default:
		return TierNew
	}
}
