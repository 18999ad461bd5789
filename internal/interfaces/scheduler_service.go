package interfaces

import "time"

// JobStatus represents the current status of a scheduled job
type JobStatus struct {
	Name        string
	Enabled     bool
	Schedule    string
	Description string
	LastRun     *time.Time
	NextRun     *time.Time
	IsRunning   bool
	LastError   string
}

// SchedulerService manages cron-based scheduling of audit runs
type SchedulerService interface {
	// Start begins firing registered jobs
	Start() error

	// Stop halts the scheduler and waits for a running job to finish
	Stop() error

	// IsRunning returns true if scheduler is active
	IsRunning() bool

	// RegisterJob registers a new job with the scheduler
	RegisterJob(name, schedule, description string, handler func() error) error

	// DisableJob disables an enabled job
	DisableJob(name string) error

	// TriggerJob runs a job immediately in the background
	TriggerJob(name string) error

	// GetJobStatus returns the status of a specific job
	GetJobStatus(name string) (*JobStatus, error)

	// GetAllJobStatuses returns all job statuses
	GetAllJobStatuses() map[string]*JobStatus
}
