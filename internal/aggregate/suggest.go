package aggregate

import (
	"math/rand"

	"learnquest/internal/domain"
)

// DefaultSuggestionLimit caps the number of suggested quizzes.
const DefaultSuggestionLimit = 5

// Suggest samples up to limit quizzes the learner has neither started nor dismissed.
func Suggest(catalog []domain.QuizSummary, started, dismissed map[string]bool, rnd *rand.Rand, limit int) []domain.QuizSummary {
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}
	candidates := make([]domain.QuizSummary, 0, len(catalog))
	for _, q := range catalog {
		if started[q.ID] || dismissed[q.ID] {
			continue
		}
		candidates = append(candidates, q)
	}
	rnd.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
