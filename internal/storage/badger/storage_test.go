package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/common"
	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestCollections(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.SaveCollection(ctx, &models.CollectionRecord{Key: "b", Active: true, Format: "dif", Dir: "/b"}))
	require.NoError(t, m.SaveCollection(ctx, &models.CollectionRecord{Key: "a", Active: true, Format: "dif", Dir: "/a"}))
	require.NoError(t, m.SaveCollection(ctx, &models.CollectionRecord{Key: "off", Active: false, Format: "dif", Dir: "/off"}))

	active, err := m.GetActiveCollections(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].Key)
	assert.Equal(t, "b", active[1].Key)

	_, err = m.GetCollection(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	last, err := m.GetLastEmailDate(ctx, "a")
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	sent := time.Date(2024, 3, 11, 2, 0, 0, 0, time.UTC)
	require.NoError(t, m.SetLastEmailDate(ctx, "a", sent))
	last, err = m.GetLastEmailDate(ctx, "a")
	require.NoError(t, err)
	assert.True(t, sent.Equal(last))
}

func TestResourcesAndVitality(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.UpsertResource(ctx, &models.ResourceRecord{CollectionKey: "c", ID: "B", FileName: "b.xml", HasFile: true}))
	require.NoError(t, m.UpsertResource(ctx, &models.ResourceRecord{CollectionKey: "c", ID: "A", FileName: "a.xml", HasFile: true}))
	require.NoError(t, m.UpsertResource(ctx, &models.ResourceRecord{CollectionKey: "other", ID: "A", FileName: "x.xml"}))
	require.NoError(t, m.UpsertResource(ctx, &models.ResourceRecord{CollectionKey: "c", ID: "A", FileName: "renamed.xml", HasFile: true}))

	history, err := m.GetResourceHistory(ctx, "c")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "A", history[0].ID)
	assert.Equal(t, "renamed.xml", history[0].FileName)

	base := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		row := &models.VitalityRecord{CollectionKey: "c", ResourceID: "A", URL: "http://a/", CheckDate: base.AddDate(0, 0, 4-i)}
		if i == 0 {
			row.MsgType = "TIMEOUT"
		}
		require.NoError(t, m.InsertVitalityRow(ctx, row))
	}
	require.NoError(t, m.InsertVitalityRow(ctx, &models.VitalityRecord{CollectionKey: "c", ResourceID: "A", URL: "http://other/", CheckDate: base}))

	rows, err := m.GetVitalityHistory(ctx, "c", "A", "http://a/", base.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].CheckDate.Before(rows[1].CheckDate), "oldest first")
	assert.True(t, rows[2].Failed())
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	now := time.Now()

	for i, kind := range []models.ErrorKind{models.KindNotFound, models.KindVitality} {
		rec := models.NewMessageRecord("c", "run_1", now, i, models.NewWarning(kind, "msg").ForResource("A", "a.xml"))
		require.NoError(t, m.InsertMessage(ctx, &rec))
	}
	other := models.NewMessageRecord("c", "run_2", now, 0, models.NewWarning(models.KindMisc, "other"))
	require.NoError(t, m.InsertMessage(ctx, &other))

	messages, err := m.GetMessages(ctx, "c", "run_1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "NOT_FOUND", messages[0].Kind)

	w, err := messages[1].Warning()
	require.NoError(t, err)
	assert.Equal(t, models.KindVitality, w.Kind())
}

func TestReconnect(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.SaveCollection(ctx, &models.CollectionRecord{Key: "a", Active: true}))

	require.NoError(t, m.db.Close())
	_, err := m.GetCollection(ctx, "a")
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))

	require.NoError(t, m.Reconnect(ctx))
	c, err := m.GetCollection(ctx, "a")
	require.NoError(t, err)
	assert.True(t, c.Active)
}

func TestLoadCollectionsFromFile(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	sent := time.Date(2024, 3, 4, 2, 0, 0, 0, time.UTC)
	require.NoError(t, m.SaveCollection(ctx, &models.CollectionRecord{Key: "sst", Format: "dif", Dir: "/old", LastEmail: sent}))

	path := filepath.Join(t.TempDir(), "collections.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[sst]
name = "Sea temperature"
format = "dif"
dir = "/data/dif/sst"
recipients = ["ops@example.org"]

[paused]
format = "fgdc"
dir = "/data/fgdc/paused"
active = false

[broken]
name = "no format"
`), 0644))

	require.NoError(t, m.LoadCollectionsFromFile(ctx, path))

	sst, err := m.GetCollection(ctx, "sst")
	require.NoError(t, err)
	assert.True(t, sst.Active)
	assert.Equal(t, "/data/dif/sst", sst.Dir)
	assert.Equal(t, []string{"ops@example.org"}, sst.Recipients)
	assert.True(t, sent.Equal(sst.LastEmail), "history survives a reload")

	paused, err := m.GetCollection(ctx, "paused")
	require.NoError(t, err)
	assert.False(t, paused.Active)

	_, err = m.GetCollection(ctx, "broken")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, m.LoadCollectionsFromFile(ctx, filepath.Join(t.TempDir(), "absent.toml")))
}
