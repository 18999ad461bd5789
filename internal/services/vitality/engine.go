// -----------------------------------------------------------------------
// Vitality & History Engine - reconciles a scan against stored history
// and maintains the per-URL uptime series
// -----------------------------------------------------------------------

package vitality

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
)

// Store is the part of the audit store the engine uses
type Store interface {
	interfaces.ResourceStorage
	interfaces.VitalityStorage
}

// Config holds the rolling window and alert cutoff
type Config struct {
	HistoryDays int
	// Cutoff is the vitality percentage at or below which a failed check is reported
	Cutoff int
}

// Result summarises one reconciliation
type Result struct {
	// Force is set when the report must go out regardless of the alert day
	Force bool

	New        int
	Missing    int
	Reappeared int
	Renamed    int
	Changed    int
	Rows       int

	// Warnings not bound to a scanned resource, e.g. NO_XML_FILE
	Warnings []models.Warning
}

// Engine applies one collection pass to the store. Calls must not overlap
// for the same collection.
type Engine struct {
	store  Store
	config Config
	logger arbor.ILogger
	now    func() time.Time
}

// NewEngine creates an engine
func NewEngine(store Store, config Config, logger arbor.ILogger) *Engine {
	if config.HistoryDays < 1 {
		config.HistoryDays = 30
	}
	return &Engine{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Process reconciles resources against stored history, persists the current
// state and appends one vitality row per attempted page. resources must be
// the complete scan of the collection directory.
func (e *Engine) Process(ctx context.Context, collectionKey string, resources []*models.ResourceDesc) (Result, error) {
	var result Result
	now := e.now()

	history, err := e.store.GetResourceHistory(ctx, collectionKey)
	if err != nil {
		return result, fmt.Errorf("failed to load resource history: %w", err)
	}
	stored := make(map[string]*models.ResourceRecord, len(history))
	for _, rec := range history {
		stored[rec.ID] = rec
	}

	// First resource per id wins; later DUP_ID holders are not persisted
	current := make(map[string]*models.ResourceDesc, len(resources))
	var ordered []*models.ResourceDesc
	for _, r := range resources {
		if r.ID == "" {
			continue
		}
		if _, dup := current[r.ID]; dup {
			continue
		}
		current[r.ID] = r
		ordered = append(ordered, r)
	}

	for _, rec := range history {
		if _, present := current[rec.ID]; present || !rec.HasFile {
			continue
		}
		rec.HasFile = false
		rec.LastCheck = now
		if err := e.store.UpsertResource(ctx, rec); err != nil {
			return result, fmt.Errorf("failed to mark %s missing: %w", rec.ID, err)
		}
		result.Missing++
		result.Force = true
		result.Warnings = append(result.Warnings,
			models.NewWarning(models.KindNoXMLFile, "metadata file no longer present").
				ForResource(rec.ID, rec.FileName))
	}

	for _, r := range ordered {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rec, err := e.reconcile(ctx, r, stored[r.ID], now, &result)
		if err != nil {
			return result, err
		}
		if err := e.store.UpsertResource(ctx, rec); err != nil {
			return result, fmt.Errorf("failed to save resource %s: %w", r.ID, err)
		}

		// One history row per distinct URL, the first listing wins
		checked := make(map[string]bool, len(r.Pages))
		for _, p := range r.Pages {
			if !p.Attempted() || checked[p.URL] {
				continue
			}
			checked[p.URL] = true
			if err := e.recordCheck(ctx, r, p, now); err != nil {
				return result, err
			}
			result.Rows++
		}
		checkMirrors(r)
	}

	e.logger.Debug().
		Str("collection", collectionKey).
		Int("resources", len(ordered)).
		Int("new", result.New).
		Int("missing", result.Missing).
		Int("reappeared", result.Reappeared).
		Int("renamed", result.Renamed).
		Int("content_changed", result.Changed).
		Int("vitality_rows", result.Rows).
		Bool("force", result.Force).
		Msg("History reconciled")

	return result, nil
}

// reconcile compares r with its stored record and returns the record to save
func (e *Engine) reconcile(ctx context.Context, r *models.ResourceDesc, rec *models.ResourceRecord, now time.Time, result *Result) (*models.ResourceRecord, error) {
	if rec == nil {
		rec = &models.ResourceRecord{
			Key:            models.ResourceKey(r.CollectionKey, r.ID),
			CollectionKey:  r.CollectionKey,
			ID:             r.ID,
			FileName:       r.FileName,
			FirstAccession: now,
			HasFile:        true,
		}
		result.New++
		result.Force = true
		r.Warn(models.KindNewXMLFile, "new metadata file "+r.FileName)
	} else {
		if !rec.HasFile {
			rec.HasFile = true
			result.Reappeared++
			result.Force = true
			r.Warn(models.KindXMLFileReappeared, "metadata file is present again")
		}
		if rec.FileName != r.FileName {
			r.AddWarning(models.NewWarning(models.KindNameChanged,
				fmt.Sprintf("file renamed from %s to %s", rec.FileName, r.FileName)).
				WithAux(rec.FileName))
			rec.FileName = r.FileName
			result.Renamed++
			result.Force = true
		}
		if rec.FirstAccession.IsZero() {
			r.Warn(models.KindAccessionDateMissing, "no first-accession date on record, using today")
			rec.FirstAccession = now
		}
	}

	rec.LastCheck = now
	rec.MetaChecksum = r.MetaChecksum
	rec.PrimaryURL = r.PrimaryURL()
	rec.Status = models.ResourceStatusOK
	if r.Warnings.HasSevere() {
		rec.Status = models.ResourceStatusSevere
	}

	// Content changes are tracked, never alerted
	if p := r.Primary(); p != nil && p.OK() && p.Checksum != 0 && p.Checksum != rec.PrimaryChecksum {
		if rec.PrimaryChecksum != 0 {
			result.Changed++
			e.logger.Debug().
				Str("id", r.ID).
				Str("url", p.URL).
				Msg("Primary content changed")
		}
		rec.PrimaryChecksum = p.Checksum
		rec.PrimaryContent = p.PrimaryText
		rec.ContentType = p.ContentType
	}
	return rec, nil
}

// recordCheck computes vitality for one page and appends its history row
func (e *Engine) recordCheck(ctx context.Context, r *models.ResourceDesc, p *models.PageDesc, now time.Time) error {
	since := now.AddDate(0, 0, -e.config.HistoryDays)
	rows, err := e.store.GetVitalityHistory(ctx, r.CollectionKey, r.ID, p.URL, since)
	if err != nil {
		return fmt.Errorf("failed to load vitality history for %s: %w", p.URL, err)
	}

	up := !p.Outcome.Severe()
	vitality := Compute(rows)

	var dateUp, dateDown time.Time
	if n := len(rows); n > 0 {
		dateUp, dateDown = rows[n-1].DateUp, rows[n-1].DateDown
	}
	if up {
		dateUp = now
	} else {
		dateDown = now
	}

	series := models.SeriesKey(r.CollectionKey, r.ID, p.URL)
	row := &models.VitalityRecord{
		Key:           fmt.Sprintf("%s|%d", series, now.UnixNano()),
		CollectionKey: r.CollectionKey,
		ResourceID:    r.ID,
		URL:           p.URL,
		SeriesKey:     series,
		CheckDate:     now,
		Vitality:      vitality,
		DateUp:        dateUp,
		DateDown:      dateDown,
	}
	if !up {
		row.MsgType = p.Outcome.String()
	}
	if err := e.store.InsertVitalityRow(ctx, row); err != nil {
		return fmt.Errorf("failed to insert vitality row for %s: %w", p.URL, err)
	}

	if !up && vitality <= e.config.Cutoff {
		r.AddWarning(models.NewWarning(models.KindVitality, vitalityMessage(vitality, dateUp, now, e.config.HistoryDays)).
			AtURL(p.XPath, p.Label, p.URL).
			WithAux(fmt.Sprintf("%d%%", vitality)))
	}
	return nil
}

// Compute returns the rolling uptime percentage: successful rows plus the
// current attempt, over all rows plus the current attempt. The current attempt
// always counts once, so a single failure after a clean window stays at 100.
func Compute(rows []*models.VitalityRecord) int {
	ok := 1
	for _, row := range rows {
		if !row.Failed() {
			ok++
		}
	}
	return ok * 100 / (len(rows) + 1)
}

func vitalityMessage(vitality int, lastUp, now time.Time, historyDays int) string {
	if lastUp.IsZero() {
		return fmt.Sprintf("vitality %d%%, not reachable in the last %d days", vitality, historyDays)
	}
	days := int(now.Sub(lastUp).Hours() / 24)
	return fmt.Sprintf("vitality %d%%, last reachable %d days ago", vitality, days)
}

// checkMirrors flags mirrors whose content differs from the primary
func checkMirrors(r *models.ResourceDesc) {
	primary := r.PrimaryChecksum()
	if primary == 0 {
		return
	}
	for _, p := range r.Pages {
		if p.Label != models.LabelMirror || !p.OK() || p.Checksum == 0 || p.Checksum == primary {
			continue
		}
		r.AddWarning(models.NewWarning(models.KindMirrorMismatch, "mirror content differs from primary").
			AtURL(p.XPath, p.Label, p.URL).
			WithAux(r.PrimaryURL()))
	}
}
