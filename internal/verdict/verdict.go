// Package verdict aggregates rule results into a detector verdict.
package verdict

import (
	"github.com/opensource-finance/watchtower/internal/domain"
)

// Score bounds. Suspicion is clamped into this range before the threshold test.
const (
	MinScore = 0
	MaxScore = 100
)

// Processor turns rule results into a classification.
type Processor struct {
	Detector domain.Detector

	// Threshold is the lowest clamped score classified as positive.
	Threshold int

	// NegativeReason, when set, closes the reason list of every negative verdict.
	NegativeReason string
}

// NewProcessor creates a processor for a detector with the given threshold.
func NewProcessor(detector domain.Detector, threshold int) *Processor {
	return &Processor{
		Detector:  detector,
		Threshold: threshold,
	}
}

// Process sums the points of triggered rules, clamps the sum, and applies
// the threshold. Reasons keep rule order.
func (p *Processor) Process(results []domain.RuleResult) domain.Verdict {
	score := 0
	reasons := make([]string, 0, len(results)+1)
	for _, r := range results {
		if !r.Triggered {
			continue
		}
		score += r.Points
		if r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}

	score = Clamp(score)
	positive := score >= p.Threshold
	if !positive && p.NegativeReason != "" {
		reasons = append(reasons, p.NegativeReason)
	}

	return domain.Verdict{
		Detector:   p.Detector,
		Score:      score,
		Threshold:  p.Threshold,
		Positive:   positive,
		Confidence: Confidence(score, positive),
		Reasons:    reasons,
		Rules:      results,
	}
}

// Clamp bounds a suspicion score to [MinScore, MaxScore].
func Clamp(score int) int {
	return min(max(score, MinScore), MaxScore)
}

// Confidence is the score itself for positive verdicts and its complement
// otherwise.
func Confidence(score int, positive bool) int {
	if positive {
		return score
	}
	return MaxScore - score
}
