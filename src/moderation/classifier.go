package moderation

import "context"

// BenignLabel is the one classifier label that does not count as a violation.
const BenignLabel = "OK"

// LabelScore is one (label, probability) pair produced by the classifier.
type LabelScore struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Classifier scores text against a fixed label set. Implementations must be
// safe for concurrent use; a single instance serves every request.
type Classifier interface {
	// Classify returns one entry per label known to the model, in the model's
	// label order. The probabilities form a single distribution.
	Classify(ctx context.Context, text string) ([]LabelScore, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, text string) ([]LabelScore, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) ([]LabelScore, error) {
	return f(ctx, text)
}
