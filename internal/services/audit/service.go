// -----------------------------------------------------------------------
// Audit Service - one pass over one collection
// -----------------------------------------------------------------------

package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/common"
	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
	"github.com/ternarybob/linkaudit/internal/services/alerts"
	"github.com/ternarybob/linkaudit/internal/services/duplicates"
	"github.com/ternarybob/linkaudit/internal/services/resources"
	"github.com/ternarybob/linkaudit/internal/services/scanner"
	"github.com/ternarybob/linkaudit/internal/services/vitality"
)

// Config carries the run policy taken from [audit] and [email]
type Config struct {
	HistoryDays      int
	VitalityCutoff   int
	ReferenceURLs    []string
	BreakerThreshold float64
	NonDuplicates    []string
	AlertDays        []time.Weekday
	EmailMode        string

	// ParallelCollections > 1 runs that many collections at once
	ParallelCollections int
}

// NewConfig derives the audit policy from the application config
func NewConfig(config *common.Config) (Config, error) {
	days, err := config.Audit.AlertWeekdays()
	if err != nil {
		return Config{}, err
	}
	return Config{
		HistoryDays:         config.Audit.HistoryDays,
		VitalityCutoff:      config.Audit.VitalityCutoff,
		ReferenceURLs:       config.Audit.ReferenceURLs,
		BreakerThreshold:    config.Audit.BreakerThreshold,
		NonDuplicates:       config.Audit.NonDuplicates,
		AlertDays:           days,
		EmailMode:           config.Email.Mode,
		ParallelCollections: config.Audit.ParallelCollections,
	}, nil
}

// CollectionSummary holds the per-run counters of one collection
type CollectionSummary struct {
	Key        string
	RunID      string
	Resources  int
	Pages      int
	Failed     int
	Warnings   int
	Severe     int
	Duplicates int
	Emailed    bool
	Skipped    bool
	Elapsed    time.Duration
	Err        error
}

// Service audits collections
type Service struct {
	store    *resilientStore
	builder  *resources.Builder
	runner   alerts.BatchRunner
	breaker  *alerts.Breaker
	detector *duplicates.Detector
	engine   *vitality.Engine
	gate     *alerts.Gate
	notifier *alerts.Notifier
	config   Config
	logger   arbor.ILogger
	now      func() time.Time
}

// NewService wires the audit pipeline. runner executes every fetch batch,
// including the breaker preflight.
func NewService(
	store interfaces.AuditStore,
	registry interfaces.SchemaRegistry,
	runner alerts.BatchRunner,
	notifier *alerts.Notifier,
	config Config,
	logger arbor.ILogger,
) *Service {
	rs := newResilientStore(store, logger)
	return &Service{
		store:    rs,
		builder:  resources.NewBuilder(registry, logger),
		runner:   runner,
		breaker:  alerts.NewBreaker(runner, config.ReferenceURLs, config.BreakerThreshold, logger),
		detector: duplicates.NewDetector(duplicates.NewChecksumJudge(config.NonDuplicates), logger),
		engine: vitality.NewEngine(rs, vitality.Config{
			HistoryDays: config.HistoryDays,
			Cutoff:      config.VitalityCutoff,
		}, logger),
		gate:     alerts.NewGate(config.AlertDays, config.EmailMode),
		notifier: notifier,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Store returns the reconnecting store the service writes through
func (s *Service) Store() interfaces.AuditStore {
	return s.store
}

// RunCollection runs the full pipeline for one collection: breaker preflight,
// directory scan, fetch, duplicate grouping, history reconciliation, message
// log and the alert gate. A tripped breaker returns an error wrapping
// alerts.ErrBreakerTripped and persists nothing.
func (s *Service) RunCollection(ctx context.Context, coll *models.CollectionRecord) (CollectionSummary, error) {
	start := s.now()
	summary := CollectionSummary{Key: coll.Key, RunID: common.NewRunID()}

	err := s.run(ctx, coll, &summary, start)
	summary.Elapsed = time.Since(start)
	summary.Err = err
	return summary, err
}

func (s *Service) run(ctx context.Context, coll *models.CollectionRecord, summary *CollectionSummary, start time.Time) error {
	header := alerts.Header{
		CollectionKey: coll.Key,
		Name:          coll.Name,
		Format:        coll.Format,
		Dir:           coll.Dir,
		RunID:         summary.RunID,
		RunTime:       start,
		Recipients:    s.notifier.Recipients(coll.Recipients),
	}

	s.logger.Info().
		Str("collection", coll.Key).
		Str("format", coll.Format).
		Str("dir", coll.Dir).
		Str("run_id", summary.RunID).
		Msg("Collection audit started")

	// Preflight
	breakerResult, err := s.breaker.Check(ctx)
	if err != nil {
		summary.Skipped = true
		s.logger.Error().
			Err(err).
			Str("collection", coll.Key).
			Int("checked", breakerResult.Checked).
			Int("failed", breakerResult.Failed).
			Msg("Network check failed, collection skipped")

		if _, sendErr := s.notifier.SendNetworkFailure(ctx, header, breakerResult, err); sendErr != nil {
			s.logger.Error().Err(sendErr).Str("collection", coll.Key).Msg("Failed to send network failure alert")
		}
		return err
	}

	// Scan and fetch. The watermark stays zero: reconciliation needs every file.
	resourceList, err := s.builder.Build(ctx, coll, time.Time{})
	if err != nil {
		return fmt.Errorf("failed to build resource list for %s: %w", coll.Key, err)
	}
	summary.Resources = len(resourceList)
	header.Records = len(resourceList)

	stats := s.runner.Run(ctx, scanner.Pages(resourceList))
	summary.Pages = stats.Pages
	summary.Failed = stats.Failed
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, r := range resourceList {
		r.HarvestPages()
	}

	groups := s.detector.Detect(resourceList)
	for _, g := range groups {
		summary.Duplicates += len(g.Duplicates)
	}

	// Store access starts here, after every fetch has finished
	result, err := s.engine.Process(ctx, coll.Key, resourceList)
	if err != nil {
		return fmt.Errorf("failed to reconcile history for %s: %w", coll.Key, err)
	}

	var warnings []models.Warning
	for _, r := range resourceList {
		warnings = append(warnings, r.Warnings.All()...)
		for _, p := range r.Pages {
			p.Release()
		}
	}
	warnings = append(warnings, result.Warnings...)

	for seq, w := range warnings {
		rec := models.NewMessageRecord(coll.Key, summary.RunID, start, seq, w)
		if err := s.store.InsertMessage(ctx, &rec); err != nil {
			return fmt.Errorf("failed to log messages for %s: %w", coll.Key, err)
		}
		if w.Severe() {
			summary.Severe++
		}
	}
	summary.Warnings = len(warnings)

	coll.LastCheck = start
	coll.LastRunID = summary.RunID
	coll.Resources = summary.Resources
	coll.Warnings = summary.Warnings
	if err := s.store.SaveCollection(ctx, coll); err != nil {
		return fmt.Errorf("failed to update collection %s: %w", coll.Key, err)
	}

	// Alert gate
	lastEmail, err := s.store.GetLastEmailDate(ctx, coll.Key)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("failed to read last email date for %s: %w", coll.Key, err)
	}

	send, reason := s.gate.ShouldSend(lastEmail, result.Force)
	s.logger.Debug().
		Str("collection", coll.Key).
		Bool("send", send).
		Str("reason", reason).
		Msg("Alert gate decided")

	if send {
		sent, err := s.notifier.SendRunReport(ctx, header)
		if err != nil {
			return fmt.Errorf("failed to send report for %s: %w", coll.Key, err)
		}
		if sent {
			summary.Emailed = true
			if err := s.store.SetLastEmailDate(ctx, coll.Key, start); err != nil {
				return fmt.Errorf("failed to record email date for %s: %w", coll.Key, err)
			}
		}
	}

	s.logger.Info().
		Str("collection", coll.Key).
		Str("run_id", summary.RunID).
		Int("resources", summary.Resources).
		Int("pages", summary.Pages).
		Int("pages_failed", summary.Failed).
		Int("warnings", summary.Warnings).
		Int("severe", summary.Severe).
		Int("duplicates", summary.Duplicates).
		Bool("emailed", summary.Emailed).
		Dur("elapsed", time.Since(start)).
		Msg("Collection audit complete")

	return nil
}
