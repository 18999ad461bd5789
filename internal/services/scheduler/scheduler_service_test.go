package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestRegisterJob_ValidatesSchedule(t *testing.T) {
	s := NewService(arbor.NewLogger())

	assert.Error(t, s.RegisterJob("every-minute", "* * * * *", "", func() error { return nil }))
	assert.Error(t, s.RegisterJob("bad", "not a cron", "", func() error { return nil }))
	require.NoError(t, s.RegisterJob("audit", "0 2 * * *", "nightly audit", func() error { return nil }))
	assert.Error(t, s.RegisterJob("audit", "0 3 * * *", "", func() error { return nil }), "duplicate name")
}

func TestTriggerJob_RecordsOutcome(t *testing.T) {
	s := NewService(arbor.NewLogger())
	var calls int32
	require.NoError(t, s.RegisterJob("audit", "0 2 * * *", "nightly audit", func() error {
		atomic.AddInt32(&calls, 1)
		return errors.New("collection sst failed")
	}))

	require.NoError(t, s.Start())
	defer s.Stop()
	assert.True(t, s.IsRunning())

	require.NoError(t, s.TriggerJob("audit"))
	require.Eventually(t, func() bool {
		status, err := s.GetJobStatus("audit")
		return err == nil && status.LastRun != nil && !status.IsRunning
	}, 2*time.Second, 10*time.Millisecond)

	status, err := s.GetJobStatus("audit")
	require.NoError(t, err)
	assert.Equal(t, "collection sst failed", status.LastError)
	assert.NotNil(t, status.NextRun)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.Error(t, s.TriggerJob("missing"))
}

func TestDisableJob(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.RegisterJob("audit", "30 1 * * *", "", func() error { return nil }))

	require.NoError(t, s.DisableJob("audit"))
	require.NoError(t, s.DisableJob("audit"), "already disabled")
	assert.Error(t, s.DisableJob("missing"))

	statuses := s.GetAllJobStatuses()
	require.Contains(t, statuses, "audit")
	assert.False(t, statuses["audit"].Enabled)
	assert.Nil(t, statuses["audit"].NextRun)
}

func TestStop_WaitsForTriggeredRun(t *testing.T) {
	s := NewService(arbor.NewLogger())
	release := make(chan struct{})
	var finished int32
	require.NoError(t, s.RegisterJob("audit", "0 2 * * *", "", func() error {
		<-release
		atomic.StoreInt32(&finished, 1)
		return nil
	}))
	require.NoError(t, s.Start())
	require.NoError(t, s.TriggerJob("audit"))
	require.Eventually(t, func() bool {
		status, err := s.GetJobStatus("audit")
		return err == nil && status.IsRunning
	}, 2*time.Second, 10*time.Millisecond)

	time.AfterFunc(50*time.Millisecond, func() { close(release) })
	require.NoError(t, s.Stop())
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
	assert.False(t, s.IsRunning())
}

func TestExecuteJob_RecoversPanic(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.RegisterJob("audit", "0 2 * * *", "", func() error { panic("boom") }))

	s.executeJob("audit")

	status, err := s.GetJobStatus("audit")
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Contains(t, status.LastError, "boom")
}
