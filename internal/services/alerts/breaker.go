package alerts

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/models"
	"github.com/ternarybob/linkaudit/internal/services/scanner"
)

// ErrBreakerTripped aborts a collection run when the local network looks down
var ErrBreakerTripped = errors.New("network circuit breaker tripped")

// DefaultBreakerThreshold is the failure fraction above which a run aborts
const DefaultBreakerThreshold = 0.15

// BatchRunner executes a batch of pages
type BatchRunner interface {
	Run(ctx context.Context, pages []*models.PageDesc) scanner.BatchStats
}

// BreakerResult describes one preflight
type BreakerResult struct {
	Checked  int
	Failed   int
	Fraction float64
	Failures []models.Warning
}

// Breaker fetches known-good reference URLs before a run
type Breaker struct {
	runner    BatchRunner
	urls      []string
	threshold float64
	logger    arbor.ILogger
}

// NewBreaker creates a breaker. A threshold <= 0 uses DefaultBreakerThreshold.
func NewBreaker(runner BatchRunner, urls []string, threshold float64, logger arbor.ILogger) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	return &Breaker{runner: runner, urls: urls, threshold: threshold, logger: logger}
}

// Check runs the preflight. It returns an error wrapping ErrBreakerTripped
// when the failure fraction exceeds the threshold. No reference URLs means
// nothing to check.
func (b *Breaker) Check(ctx context.Context) (BreakerResult, error) {
	var result BreakerResult
	if len(b.urls) == 0 {
		return result, nil
	}

	refs := models.NewResourceDesc("", "", "", "")
	for _, u := range b.urls {
		refs.AddPage("", models.LabelNetCheck, u, models.ChecksumExact)
	}
	b.runner.Run(ctx, refs.Pages)

	for _, p := range refs.Pages {
		result.Checked++
		if !p.Outcome.Severe() {
			continue
		}
		result.Failed++
		if p.Warning != nil {
			result.Failures = append(result.Failures, *p.Warning)
		}
	}
	result.Fraction = float64(result.Failed) / float64(result.Checked)

	b.logger.Debug().
		Int("checked", result.Checked).
		Int("failed", result.Failed).
		Float64("fraction", result.Fraction).
		Float64("threshold", b.threshold).
		Msg("Network preflight complete")

	if result.Fraction > b.threshold {
		return result, fmt.Errorf("%w: %d of %d reference URLs failed", ErrBreakerTripped, result.Failed, result.Checked)
	}
	return result, nil
}
