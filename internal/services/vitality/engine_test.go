package vitality

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/models"
)

// memStore is an in-memory Store
type memStore struct {
	mu        sync.Mutex
	resources map[string]*models.ResourceRecord
	rows      []*models.VitalityRecord
}

func newMemStore() *memStore {
	return &memStore{resources: make(map[string]*models.ResourceRecord)}
}

func (s *memStore) GetResourceHistory(_ context.Context, coll string) ([]*models.ResourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ResourceRecord
	for _, r := range s.resources {
		if r.CollectionKey == coll {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) UpsertResource(_ context.Context, r *models.ResourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *r
	s.resources[r.Key] = &copied
	return nil
}

func (s *memStore) GetVitalityHistory(_ context.Context, coll, id, url string, since time.Time) ([]*models.VitalityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.SeriesKey(coll, id, url)
	var out []*models.VitalityRecord
	for _, row := range s.rows {
		if row.SeriesKey == key && !row.CheckDate.Before(since) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memStore) InsertVitalityRow(_ context.Context, v *models.VitalityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, v)
	return nil
}

var today = time.Date(2024, 3, 11, 2, 0, 0, 0, time.UTC)

func newEngine(store Store, cutoff int) *Engine {
	e := NewEngine(store, Config{HistoryDays: 10, Cutoff: cutoff}, arbor.NewLogger())
	e.now = func() time.Time { return today }
	return e
}

func seedHistory(store *memStore, id, url string, outcomes []bool) {
	for i, up := range outcomes {
		day := today.AddDate(0, 0, i-len(outcomes))
		row := &models.VitalityRecord{
			SeriesKey: models.SeriesKey("coll", id, url),
			CheckDate: day,
		}
		if !up {
			row.MsgType = models.KindTimeout.String()
		} else {
			row.DateUp = day
		}
		store.rows = append(store.rows, row)
	}
}

func scanned(id, file, url string, kind models.ErrorKind, checksum uint64) *models.ResourceDesc {
	r := models.NewResourceDesc("coll", "dif", "/d", file)
	r.ID = id
	p := r.AddPage("//Primary", models.LabelPrimary, url, models.ChecksumStandard)
	if kind == models.KindNone {
		p.Succeed(time.Millisecond, checksum)
	} else {
		p.Fail(kind, time.Millisecond, "failed", "")
	}
	return r
}

func vitalityWarnings(r *models.ResourceDesc) []models.Warning {
	var out []models.Warning
	for _, w := range r.Warnings.All() {
		if w.Kind() == models.KindVitality {
			out = append(out, w)
		}
	}
	return out
}

func TestCompute(t *testing.T) {
	rows := func(failures, total int) []*models.VitalityRecord {
		var out []*models.VitalityRecord
		for i := 0; i < total; i++ {
			row := &models.VitalityRecord{}
			if i < failures {
				row.MsgType = "TIMEOUT"
			}
			out = append(out, row)
		}
		return out
	}

	assert.Equal(t, 100, Compute(rows(0, 9)))
	assert.Equal(t, 90, Compute(rows(1, 9)))
	assert.Equal(t, 80, Compute(rows(2, 9)), "2 failures in 9 prior checks")
	assert.Equal(t, 10, Compute(rows(9, 9)))
	assert.Equal(t, 100, Compute(nil))
}

func TestProcess_VitalityAllUp(t *testing.T) {
	store := newMemStore()
	seedHistory(store, "A", "http://a/", []bool{true, true, true, true, true, true, true, true, true})

	r := scanned("A", "a.xml", "http://a/", models.KindNone, 11)
	_, err := newEngine(store, 90).Process(context.Background(), "coll", []*models.ResourceDesc{r})
	require.NoError(t, err)

	last := store.rows[len(store.rows)-1]
	assert.Equal(t, 100, last.Vitality)
	assert.Empty(t, last.MsgType)
	assert.Equal(t, today, last.DateUp)
	assert.Empty(t, vitalityWarnings(r))
}

func TestProcess_VitalityBelowCutoff(t *testing.T) {
	store := newMemStore()
	seedHistory(store, "A", "http://a/", []bool{true, true, false, true, false, true, true, true, true})

	r := scanned("A", "a.xml", "http://a/", models.KindNotFound, 0)
	_, err := newEngine(store, 90).Process(context.Background(), "coll", []*models.ResourceDesc{r})
	require.NoError(t, err)

	last := store.rows[len(store.rows)-1]
	assert.Equal(t, 80, last.Vitality)
	assert.Equal(t, "NOT_FOUND", last.MsgType)
	assert.Equal(t, today, last.DateDown)
	assert.Equal(t, today.AddDate(0, 0, -1), last.DateUp, "last up is carried from history")

	ws := vitalityWarnings(r)
	require.Len(t, ws, 1)
	assert.Contains(t, ws[0].Message(), "80%")
	assert.Contains(t, ws[0].Message(), "1 days ago")
	assert.Equal(t, "80%", ws[0].Aux())
}

func TestProcess_TransientFailureAboveCutoff(t *testing.T) {
	store := newMemStore()
	seedHistory(store, "A", "http://a/", []bool{true, true, true, true, true, true, true, true, true})

	r := scanned("A", "a.xml", "http://a/", models.KindTimeout, 0)
	_, err := newEngine(store, 80).Process(context.Background(), "coll", []*models.ResourceDesc{r})
	require.NoError(t, err)

	assert.Equal(t, 100, store.rows[len(store.rows)-1].Vitality)
	assert.Empty(t, vitalityWarnings(r), "one blip is not reported")
}

func TestProcess_RepeatedURLRecordedOnce(t *testing.T) {
	store := newMemStore()
	seedHistory(store, "A", "http://a/", []bool{false, false, false, false})

	r := scanned("A", "a.xml", "http://a/", models.KindNotFound, 0)
	mirror := r.AddPage("//Mirror", models.LabelMirror, "http://a/", models.ChecksumExact)
	mirror.Fail(models.KindNotFound, time.Millisecond, "failed", "")

	result, err := newEngine(store, 90).Process(context.Background(), "coll", []*models.ResourceDesc{r})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Rows)
	require.Len(t, store.rows, 5, "one new row for the shared URL")
	last := store.rows[len(store.rows)-1]
	assert.Equal(t, 20, last.Vitality, "history from this pass is not counted")
	require.Len(t, vitalityWarnings(r), 1)
}

func TestProcess_WindowExcludesOldRows(t *testing.T) {
	store := newMemStore()
	store.rows = append(store.rows, &models.VitalityRecord{
		SeriesKey: models.SeriesKey("coll", "A", "http://a/"),
		CheckDate: today.AddDate(0, 0, -30),
		MsgType:   "TIMEOUT",
	})

	r := scanned("A", "a.xml", "http://a/", models.KindNone, 1)
	_, err := newEngine(store, 90).Process(context.Background(), "coll", []*models.ResourceDesc{r})
	require.NoError(t, err)
	assert.Equal(t, 100, store.rows[len(store.rows)-1].Vitality)
}

func TestProcess_Reconciliation(t *testing.T) {
	store := newMemStore()
	seed := func(rec models.ResourceRecord) {
		rec.Key = models.ResourceKey("coll", rec.ID)
		rec.CollectionKey = "coll"
		store.resources[rec.Key] = &rec
	}
	seed(models.ResourceRecord{ID: "GONE", FileName: "gone.xml", HasFile: true, FirstAccession: today.AddDate(0, -1, 0)})
	seed(models.ResourceRecord{ID: "BACK", FileName: "back.xml", HasFile: false, FirstAccession: today.AddDate(0, -1, 0)})
	seed(models.ResourceRecord{ID: "MOVED", FileName: "old.xml", HasFile: true, FirstAccession: today.AddDate(0, -1, 0)})
	seed(models.ResourceRecord{ID: "NODATE", FileName: "nodate.xml", HasFile: true})
	seed(models.ResourceRecord{ID: "LONGGONE", FileName: "lg.xml", HasFile: false})

	back := scanned("BACK", "back.xml", "http://back/", models.KindNone, 1)
	moved := scanned("MOVED", "new.xml", "http://moved/", models.KindNone, 2)
	nodate := scanned("NODATE", "nodate.xml", "http://nodate/", models.KindNone, 3)
	fresh := scanned("FRESH", "fresh.xml", "http://fresh/", models.KindNone, 4)

	result, err := newEngine(store, 80).Process(context.Background(), "coll",
		[]*models.ResourceDesc{back, moved, nodate, fresh})
	require.NoError(t, err)

	assert.True(t, result.Force)
	assert.Equal(t, 1, result.New)
	assert.Equal(t, 1, result.Missing, "already-missing records are not reported again")
	assert.Equal(t, 1, result.Reappeared)
	assert.Equal(t, 1, result.Renamed)
	assert.Equal(t, 4, result.Rows)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, models.KindNoXMLFile, result.Warnings[0].Kind())
	assert.Equal(t, "GONE", result.Warnings[0].ResourceID())
	assert.False(t, store.resources[models.ResourceKey("coll", "GONE")].HasFile)

	assert.True(t, back.Warnings.Has(models.KindXMLFileReappeared))
	assert.True(t, moved.Warnings.Has(models.KindNameChanged))
	assert.Equal(t, "new.xml", store.resources[models.ResourceKey("coll", "MOVED")].FileName)
	assert.True(t, nodate.Warnings.Has(models.KindAccessionDateMissing))
	assert.True(t, fresh.Warnings.Has(models.KindNewXMLFile))

	freshRec := store.resources[models.ResourceKey("coll", "FRESH")]
	require.NotNil(t, freshRec)
	assert.Equal(t, today, freshRec.FirstAccession)
	assert.Equal(t, uint64(4), freshRec.PrimaryChecksum)
	assert.True(t, freshRec.HasFile)
}

func TestProcess_IdempotentRerun(t *testing.T) {
	store := newMemStore()
	engine := newEngine(store, 90)

	run := func() ([]*models.ResourceDesc, Result) {
		rs := []*models.ResourceDesc{
			scanned("A", "a.xml", "http://a/", models.KindNone, 10),
			scanned("B", "b.xml", "http://b/", models.KindNone, 20),
		}
		result, err := engine.Process(context.Background(), "coll", rs)
		require.NoError(t, err)
		return rs, result
	}

	_, first := run()
	assert.Equal(t, 2, first.New)

	engine.now = func() time.Time { return today.AddDate(0, 0, 1) }
	rs, second := run()
	assert.False(t, second.Force)
	assert.Zero(t, second.New+second.Missing+second.Reappeared+second.Renamed+second.Changed)
	assert.Empty(t, second.Warnings)
	for _, r := range rs {
		assert.Zero(t, r.Warnings.Len())
	}
	for _, row := range store.rows {
		assert.Equal(t, 100, row.Vitality)
	}
}

func TestProcess_PrimaryChecksumUpdatedWithoutAlert(t *testing.T) {
	store := newMemStore()
	engine := newEngine(store, 90)

	_, err := engine.Process(context.Background(), "coll", []*models.ResourceDesc{scanned("A", "a.xml", "http://a/", models.KindNone, 1)})
	require.NoError(t, err)

	changed := scanned("A", "a.xml", "http://a/", models.KindNone, 2)
	changed.Primary().PrimaryText = "# New content"
	result, err := engine.Process(context.Background(), "coll", []*models.ResourceDesc{changed})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Changed)
	assert.False(t, result.Force)
	assert.Zero(t, changed.Warnings.Len())
	rec := store.resources[models.ResourceKey("coll", "A")]
	assert.Equal(t, uint64(2), rec.PrimaryChecksum)
	assert.Equal(t, "# New content", rec.PrimaryContent)
}

func TestProcess_MirrorMismatch(t *testing.T) {
	r := scanned("A", "a.xml", "http://a/", models.KindNone, 5)
	r.AddPage("//Mirror", models.LabelMirror, "http://m1/", models.ChecksumStandard).Succeed(time.Millisecond, 5)
	r.AddPage("//Mirror", models.LabelMirror, "http://m2/", models.ChecksumStandard).Succeed(time.Millisecond, 6)

	_, err := newEngine(newMemStore(), 90).Process(context.Background(), "coll", []*models.ResourceDesc{r})
	require.NoError(t, err)

	counts := r.Warnings.CountByKind()
	assert.Equal(t, 1, counts[models.KindMirrorMismatch])
}
