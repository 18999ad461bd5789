package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/common"
	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
	"github.com/ternarybob/linkaudit/internal/services/alerts"
)

// RunSummary aggregates one invocation over many collections
type RunSummary struct {
	Collections []CollectionSummary
	Failed      int
	Skipped     int
	Elapsed     time.Duration
}

// HasFailures reports whether any collection ended with an unhandled error.
// A tripped breaker is handled: the collection is skipped and alerted.
func (s RunSummary) HasFailures() bool {
	return s.Failed > 0
}

// Runner audits a set of collections, one coordinating goroutine each
type Runner struct {
	service  *Service
	parallel int
	logger   arbor.ILogger
}

// NewRunner creates a runner. parallel < 1 runs collections sequentially.
func NewRunner(service *Service, parallel int, logger arbor.ILogger) *Runner {
	if parallel < 1 {
		parallel = 1
	}
	return &Runner{service: service, parallel: parallel, logger: logger}
}

// Select resolves "format/key" (or bare "key") selectors against the registry.
// Explicitly selected collections run even when inactive. No selectors means
// every active collection.
func (r *Runner) Select(ctx context.Context, selectors []string) ([]*models.CollectionRecord, error) {
	store := r.service.Store()
	if len(selectors) == 0 {
		return store.GetActiveCollections(ctx)
	}

	var out []*models.CollectionRecord
	seen := make(map[string]bool, len(selectors))
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		format, key := "", sel
		if i := strings.Index(sel, "/"); i >= 0 {
			format, key = sel[:i], sel[i+1:]
		}
		if seen[key] {
			continue
		}

		coll, err := store.GetCollection(ctx, key)
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("unknown collection %q", sel)
		}
		if err != nil {
			return nil, err
		}
		if format != "" && !strings.EqualFold(format, coll.Format) {
			return nil, fmt.Errorf("collection %q has format %q, not %q", key, coll.Format, format)
		}
		seen[key] = true
		out = append(out, coll)
	}
	return out, nil
}

// Run audits the selected collections. The returned error covers selection
// only; per-collection failures are reported in the summary.
func (r *Runner) Run(ctx context.Context, selectors []string) (RunSummary, error) {
	start := time.Now()

	collections, err := r.Select(ctx, selectors)
	if err != nil {
		return RunSummary{}, err
	}
	if len(collections) == 0 {
		r.logger.Warn().Msg("No collections to audit")
		return RunSummary{}, nil
	}

	r.logger.Info().
		Int("collections", len(collections)).
		Int("parallel", r.parallel).
		Msg("Audit run started")

	results := make([]CollectionSummary, len(collections))
	if r.parallel == 1 {
		for i, coll := range collections {
			if ctx.Err() != nil {
				results[i] = CollectionSummary{Key: coll.Key, Err: ctx.Err()}
				continue
			}
			results[i] = r.runOne(ctx, coll)
		}
	} else {
		sem := make(chan struct{}, r.parallel)
		var wg sync.WaitGroup
		for i, coll := range collections {
			i, coll := i, coll
			wg.Add(1)
			sem <- struct{}{}
			common.SafeGo(r.logger, "collection:"+coll.Key, func() {
				defer func() {
					<-sem
					wg.Done()
				}()
				// Left in place if the run panics
				results[i] = CollectionSummary{Key: coll.Key, Err: fmt.Errorf("collection %s panicked", coll.Key)}
				results[i] = r.runOne(ctx, coll)
			}, nil)
		}
		wg.Wait()
	}

	summary := RunSummary{Collections: results, Elapsed: time.Since(start)}
	for _, res := range results {
		switch {
		case res.Skipped:
			summary.Skipped++
		case res.Err != nil:
			summary.Failed++
		}
	}

	r.logger.Info().
		Int("collections", len(results)).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("elapsed", summary.Elapsed).
		Msg("Audit run complete")

	return summary, nil
}

func (r *Runner) runOne(ctx context.Context, coll *models.CollectionRecord) CollectionSummary {
	res, err := r.service.RunCollection(ctx, coll)
	if err != nil && !errors.Is(err, alerts.ErrBreakerTripped) {
		r.logger.Error().Err(err).Str("collection", coll.Key).Msg("Collection audit failed")
	}
	return res
}
