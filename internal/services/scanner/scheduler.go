// -----------------------------------------------------------------------
// Scan Scheduler - bounded worker pool executing page fetches
// -----------------------------------------------------------------------

package scanner

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/linkaudit/internal/common"
	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
)

// Config bounds a scan batch
type Config struct {
	MaxConcurrency int
	Timeout        time.Duration

	// RateLimit caps fetch starts per second across all workers; 0 disables
	RateLimit float64
}

// Hooks observe page execution. Both run on the worker goroutine.
type Hooks struct {
	OnStart  func(page *models.PageDesc)
	OnFinish func(page *models.PageDesc)
}

// BatchStats summarises one Run
type BatchStats struct {
	Pages     int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// Scheduler runs every page of a batch exactly once with at most
// MaxConcurrency fetches in flight
type Scheduler struct {
	fetcher interfaces.PageFetcher
	config  Config
	limiter *rate.Limiter
	hooks   Hooks
	logger  arbor.ILogger
}

// NewScheduler creates a scheduler around fetcher
func NewScheduler(fetcher interfaces.PageFetcher, config Config, logger arbor.ILogger) *Scheduler {
	if config.MaxConcurrency < 1 {
		config.MaxConcurrency = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := int(config.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &Scheduler{
		fetcher: fetcher,
		config:  config,
		limiter: limiter,
		logger:  logger,
	}
}

// WithHooks sets execution hooks and returns the scheduler
func (s *Scheduler) WithHooks(hooks Hooks) *Scheduler {
	s.hooks = hooks
	return s
}

// Run executes pages and returns once every page has a terminal outcome.
// Pages already attempted, or listed twice, are not fetched again.
func (s *Scheduler) Run(ctx context.Context, pages []*models.PageDesc) BatchStats {
	start := time.Now()

	queue := make([]*models.PageDesc, 0, len(pages))
	seen := make(map[*models.PageDesc]struct{}, len(pages))
	for _, p := range pages {
		if p == nil || p.Attempted() {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		queue = append(queue, p)
	}

	workers := s.config.MaxConcurrency
	if workers > len(queue) {
		workers = len(queue)
	}

	s.logger.Debug().
		Int("pages", len(queue)).
		Int("workers", workers).
		Dur("timeout", s.config.Timeout).
		Msg("Scan batch started")

	jobs := make(chan *models.PageDesc)
	var wg sync.WaitGroup
	var succeeded, failed int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range jobs {
				s.execute(ctx, page)
				if page.OK() {
					atomic.AddInt64(&succeeded, 1)
				} else {
					atomic.AddInt64(&failed, 1)
				}
			}
		}()
	}

	for _, page := range queue {
		jobs <- page
	}
	close(jobs)
	wg.Wait()

	// Page buffers from a large batch are garbage now
	runtime.GC()

	stats := BatchStats{
		Pages:     len(queue),
		Succeeded: int(succeeded),
		Failed:    int(failed),
		Elapsed:   time.Since(start),
	}

	s.logger.Debug().
		Int("pages", stats.Pages).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Dur("elapsed", stats.Elapsed).
		Msg("Scan batch complete")

	return stats
}

// execute runs one fetch under its own deadline. A panic or a fetcher that
// records nothing still leaves the page with a terminal outcome.
func (s *Scheduler) execute(ctx context.Context, page *models.PageDesc) {
	if s.hooks.OnStart != nil {
		s.hooks.OnStart(page)
	}
	defer func() {
		if s.hooks.OnFinish != nil {
			s.hooks.OnFinish(page)
		}
	}()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			common.Recovered(s.logger, "fetch:"+page.URL, r)
			page.Fail(models.KindMisc, time.Since(start), "fetch panicked", fmt.Sprintf("%v", r))
		}
	}()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			page.Fail(models.KindMisc, time.Since(start), "scan cancelled", err.Error())
			return
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	s.fetcher.Fetch(opCtx, page)

	if !page.Attempted() {
		page.Fail(models.KindMisc, time.Since(start), "fetch recorded no outcome", "")
	}
}

// Pages flattens the pages of resources in resource order
func Pages(resources []*models.ResourceDesc) []*models.PageDesc {
	var pages []*models.PageDesc
	for _, r := range resources {
		pages = append(pages, r.Pages...)
	}
	return pages
}
