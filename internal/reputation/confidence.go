package reputation

import (
	"math"

	"github.com/mikey/mail-trust/internal/core"
)

const (
	// DefaultThreshold is the confidence at which a sender's history alone decides the category
	DefaultThreshold = 0.85

	passiveWeight  = 1.0
	feedbackWeight = 3.0
)

// Confidence computes how far a sender reputation can be trusted to short-circuit
// classification. It is a pure function of its inputs and always lands in [0, 1].
func Confidence(totalEmails, userOverrides int, scores []core.CategoryScore) float64 {
	base := math.Min(float64(max(totalEmails, 0))/20, 0.5)
	overrideBoost := math.Min(float64(max(userOverrides, 0))*0.15, 0.3)

	consistency := 0.0
	maxScore, sum := 0.0, 0.0
	for _, s := range scores {
		if s.Score <= 0 {
			continue
		}
		sum += s.Score
		if s.Score > maxScore {
			maxScore = s.Score
		}
	}
	if sum > 0 {
		consistency = (maxScore / sum) * 0.2
	}

	return math.Max(0, math.Min(1.0, base+overrideBoost+consistency))
}

// PrimaryCategory returns the argmax of an ordered score list.
// Ties keep the category that appears first, i.e. the first one inserted.
func PrimaryCategory(scores []core.CategoryScore) core.Category {
	var best core.Category
	bestScore := 0.0
	for _, s := range scores {
		if s.Score > bestScore {
			best = s.Category
			bestScore = s.Score
		}
	}
	return best
}

// addScore adds weight to a category, appending it at the end when first seen
func addScore(scores []core.CategoryScore, category core.Category, weight float64) []core.CategoryScore {
	for i := range scores {
		if scores[i].Category == category {
			scores[i].Score += weight
			return scores
		}
	}
	return append(scores, core.CategoryScore{Category: category, Score: weight})
}
