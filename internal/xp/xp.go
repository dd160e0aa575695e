package xp

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrNoQuestions is returned when a session has no questions to score.
	ErrNoQuestions = errors.New("xp: total questions must be at least 1")
	// ErrInvalidInput is returned for out-of-range percentage, elapsed time or attempts.
	ErrInvalidInput = errors.New("xp: invalid input")
)

const (
	pointsPerQuestion = 10
	minAttemptFactor  = 0.5
)

// Input is one session's aggregate result.
type Input struct {
	Percentage     float64 // 0..100, share of questions answered correctly
	Elapsed        time.Duration
	TotalQuestions int
	Attempts       int // session-level tries, >= 1
}

// Calculation is the score with its breakdown.
type Calculation struct {
	BaseXP               int     `json:"baseXP"`
	PercentageMultiplier float64 `json:"percentageMultiplier"`
	SpeedMultiplier      float64 `json:"speedMultiplier"`
	AttemptMultiplier    float64 `json:"attemptMultiplier"`
	AvgSecondsPerQ       float64 `json:"avgSecondsPerQuestion"`

	AccuracyBonus  int `json:"accuracyBonus"`
	SpeedBonus     int `json:"speedBonus"`
	AttemptPenalty int `json:"attemptPenalty"`

	TotalXP int `json:"totalXP"`
}

type speedTier struct {
	maxSeconds float64
	multiplier float64
}

var speedTiers = []speedTier{
	{20, 1.3},
	{30, 1.2},
	{45, 1.1},
	{60, 1.0},
	{90, 0.9},
}

const slowestMultiplier = 0.8

// Calculate scores a session. It fails fast on inputs outside the contract.
func Calculate(in Input) (Calculation, error) {
	if in.TotalQuestions < 1 {
		return Calculation{}, ErrNoQuestions
	}
	if in.Percentage < 0 || in.Percentage > 100 || math.IsNaN(in.Percentage) || in.Elapsed < 0 || in.Attempts < 1 {
		return Calculation{}, ErrInvalidInput
	}

	base := float64(in.TotalQuestions * pointsPerQuestion)
	pm := PercentageMultiplier(in.Percentage)
	avg := in.Elapsed.Seconds() / float64(in.TotalQuestions)
	sm := SpeedMultiplier(avg)
	am := AttemptMultiplier(in.Attempts)

	return Calculation{
		BaseXP:               int(base),
		PercentageMultiplier: pm,
		SpeedMultiplier:      sm,
		AttemptMultiplier:    am,
		AvgSecondsPerQ:       avg,
		AccuracyBonus:        int(math.Round(base * (pm - 1))),
		SpeedBonus:           int(math.Round(base * pm * (sm - 1))),
		AttemptPenalty:       int(math.Round(base * pm * sm * (1 - am))),
		TotalXP:              int(math.Round(base * pm * sm * am)),
	}, nil
}

// PercentageMultiplier maps 0..100 onto 0.3..1.5.
func PercentageMultiplier(percentage float64) float64 {
	return 0.3 + (percentage/100)*1.2
}

// SpeedMultiplier is the step function over average seconds per question.
func SpeedMultiplier(avgSeconds float64) float64 {
	for _, tier := range speedTiers {
		if avgSeconds <= tier.maxSeconds {
			return tier.multiplier
		}
	}
	return slowestMultiplier
}

// AttemptMultiplier shrinks by 0.1 per try, floored at 0.5.
func AttemptMultiplier(attempts int) float64 {
	return math.Max(minAttemptFactor, 1.1-float64(attempts)*0.1)
}

// Delta is the change against the previous score; a first score counts from zero.
func Delta(previous *int, earned int) int {
	if previous == nil {
		return earned
	}
	return earned - *previous
}
