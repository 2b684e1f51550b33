package moderation

import "sort"

// Verdict is the aggregated result of one classification.
type Verdict struct {
	// Ranked holds every label ordered by probability, highest first.
	Ranked []LabelScore
	// ViolationScore is the summed probability of all non-benign labels.
	ViolationScore float64
}

// Aggregate ranks classifier output and derives the violation score.
// Labels with equal probability keep their input order.
func Aggregate(scores []LabelScore) Verdict {
	ranked := make([]LabelScore, len(scores))
	copy(ranked, scores)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Probability > ranked[j].Probability
	})

	var violation float64
	for _, s := range ranked {
		if s.Label != BenignLabel {
			violation += s.Probability
		}
	}

	return Verdict{Ranked: ranked, ViolationScore: violation}
}
