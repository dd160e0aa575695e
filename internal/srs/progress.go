package srs

import (
	"fmt"
	"time"

	"learnquest/internal/domain"
)

// Materialize adds a default entry for every key p does not track yet and
// recomputes the completed flag. Entries for keys no longer in the quiz are kept.
func Materialize(p *domain.UserQuizProgress, keys []string) {
	if p.Questions == nil {
		p.Questions = make(map[string]domain.QuestionSRSData, len(keys))
	}
	for _, key := range keys {
		if _, ok := p.Questions[key]; !ok {
			p.Questions[key] = Default()
		}
	}
	p.Completed = p.AllAnswered()
}

// Record applies one submission for key to p and recomputes the completed flag.
// A current state that fails Validate is rejected and p is left untouched.
func (e *Engine) Record(p *domain.UserQuizProgress, key string, correct bool, now time.Time) (domain.QuestionSRSData, error) {
	cur := p.Questions[key]
	if err := cur.Validate(); err != nil {
		return cur, fmt.Errorf("question %s: %w", key, err)
	}
	if p.Questions == nil {
		p.Questions = make(map[string]domain.QuestionSRSData)
	}
	next := e.Apply(cur, correct, now)
	p.Questions[key] = next
	p.Completed = p.AllAnswered()
	p.LastUpdated = now
	return next, nil
}
