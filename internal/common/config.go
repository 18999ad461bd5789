package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/ternarybob/linkaudit/internal/models"
)

// Email delivery modes
const (
	EmailModeNormal = "normal"
	EmailModeForce  = "force"
	EmailModePrint  = "print"
	EmailModeSingle = "single"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"`
	Audit       AuditConfig       `toml:"audit"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Email       EmailConfig       `toml:"email"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Formats     FormatsConfig     `toml:"formats"`
	Collections CollectionsConfig `toml:"collections"`
}

// AuditConfig holds scan, vitality and alerting limits
type AuditConfig struct {
	MaxThreads      int    `toml:"max_threads" validate:"min=1,max=5000"`
	Timeout         string `toml:"timeout"`          // per fetch, e.g. "30s"
	HistoryDays     int    `toml:"history_days" validate:"min=1"`
	VitalityCutoff  int    `toml:"vitality_cutoff" validate:"min=0,max=100"` // percent
	MaxRedirects    int    `toml:"max_redirects" validate:"min=0,max=100"`
	MaxContentBytes int64  `toml:"max_content_bytes" validate:"min=1"`
	UserAgent       string `toml:"user_agent"`

	// ContactEmail is sent as the anonymous FTP password
	ContactEmail string `toml:"contact_email" validate:"required"`

	// AlertDays lists weekdays on which reports go out ("Mon", "Tue", ...)
	AlertDays []string `toml:"alert_days"`

	// Circuit breaker preflight
	ReferenceURLs    []string `toml:"reference_urls"`
	BreakerThreshold float64  `toml:"breaker_threshold" validate:"gte=0,lte=1"`

	// CompareByURL lists URLs hashed by URL string instead of content
	CompareByURL []string `toml:"compare_by_url"`

	// NonDuplicates lists primary URLs that are never judged duplicates
	NonDuplicates []string `toml:"non_duplicates"`

	// RateLimit caps fetches per second across the pool; 0 disables
	RateLimit float64 `toml:"rate_limit" validate:"gte=0"`

	ParallelCollections int `toml:"parallel_collections" validate:"min=1"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output     []string `toml:"output"` // "stdout", "file"
	TimeFormat string   `toml:"time_format"`
}

// EmailConfig contains SMTP settings for report delivery
type EmailConfig struct {
	Host       string   `toml:"host"`
	Port       int      `toml:"port" validate:"min=0,max=65535"`
	Username   string   `toml:"username"`
	Password   string   `toml:"password"`
	From       string   `toml:"from"`
	FromName   string   `toml:"from_name"`
	UseTLS     bool     `toml:"use_tls"`
	Recipients []string `toml:"recipients"` // used when a collection has none
	Mode       string   `toml:"mode" validate:"oneof=normal force print single"`

	// SingleAddress replaces every recipient list in single mode
	SingleAddress string `toml:"single_address"`

	// AttachPDF adds a PDF rendering of the report
	AttachPDF bool `toml:"attach_pdf"`
}

type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // 5-field cron
}

// FormatsConfig holds metadata format definitions
type FormatsConfig struct {
	Dir         string                             `toml:"dir"` // *.toml, *.yaml, *.yml
	Definitions map[string]models.FormatDefinition `toml:"definitions" validate:"dive"`
}

// CollectionsConfig points at the collection registry seed file
type CollectionsConfig struct {
	File string `toml:"file"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Audit: AuditConfig{
			MaxThreads:          50,
			Timeout:             "30s",
			HistoryDays:         30,
			VitalityCutoff:      80,
			MaxRedirects:        10,
			MaxContentBytes:     50 * 1024,
			UserAgent:           "linkaudit/" + Version,
			ContactEmail:        "linkaudit@localhost",
			AlertDays:           []string{"Mon"},
			BreakerThreshold:    0.15,
			ParallelCollections: 1,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Email: EmailConfig{
			Port:   587,
			UseTLS: true,
			Mode:   EmailModeNormal,
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "0 2 * * *",
		},
		Formats: FormatsConfig{
			Dir: "./formats",
		},
		Collections: CollectionsConfig{
			File: "./collections.toml",
		},
	}
}

// LoadFromFiles loads configuration from multiple files, later files
// overriding earlier ones. Priority: defaults -> files -> env -> flags.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Inline definitions are named by their table key
	for name, def := range config.Formats.Definitions {
		if def.Name == "" {
			def.Name = name
			config.Formats.Definitions[name] = def
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("LINKAUDIT_ENV"); env != "" {
		config.Environment = env
	}

	if v := os.Getenv("LINKAUDIT_MAX_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Audit.MaxThreads = n
		}
	}
	if v := os.Getenv("LINKAUDIT_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			config.Audit.Timeout = v
		}
	}
	if v := os.Getenv("LINKAUDIT_HISTORY_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Audit.HistoryDays = n
		}
	}
	if v := os.Getenv("LINKAUDIT_VITALITY_CUTOFF"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Audit.VitalityCutoff = n
		}
	}
	if v := os.Getenv("LINKAUDIT_CONTACT_EMAIL"); v != "" {
		config.Audit.ContactEmail = v
	}
	if v := os.Getenv("LINKAUDIT_ALERT_DAYS"); v != "" {
		config.Audit.AlertDays = splitList(v)
	}

	if v := os.Getenv("LINKAUDIT_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}

	if v := os.Getenv("LINKAUDIT_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("LINKAUDIT_LOG_OUTPUT"); v != "" {
		if outputs := splitList(v); len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if v := os.Getenv("LINKAUDIT_SMTP_HOST"); v != "" {
		config.Email.Host = v
	}
	if v := os.Getenv("LINKAUDIT_SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Email.Port = p
		}
	}
	if v := os.Getenv("LINKAUDIT_SMTP_USERNAME"); v != "" {
		config.Email.Username = v
	}
	if v := os.Getenv("LINKAUDIT_SMTP_PASSWORD"); v != "" {
		config.Email.Password = v
	}
	if v := os.Getenv("LINKAUDIT_SMTP_FROM"); v != "" {
		config.Email.From = v
	}
	if v := os.Getenv("LINKAUDIT_EMAIL_MODE"); v != "" {
		config.Email.Mode = v
	}

	if v := os.Getenv("LINKAUDIT_SCHEDULE"); v != "" {
		config.Scheduler.Schedule = v
	}
	if v := os.Getenv("LINKAUDIT_FORMATS_DIR"); v != "" {
		config.Formats.Dir = v
	}
	if v := os.Getenv("LINKAUDIT_COLLECTIONS_FILE"); v != "" {
		config.Collections.File = v
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority).
// Zero values leave the loaded configuration untouched.
func ApplyFlagOverrides(config *Config, threads int, logLevel, emailMode, emailTo string) {
	if threads > 0 {
		config.Audit.MaxThreads = threads
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
	if emailMode != "" {
		config.Email.Mode = emailMode
	}
	if emailTo != "" {
		config.Email.SingleAddress = emailTo
		if emailMode == "" {
			config.Email.Mode = EmailModeSingle
		}
	}
}

// Validate checks struct constraints, the timeout, alert days and the cron schedule
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := time.ParseDuration(c.Audit.Timeout); err != nil {
		return fmt.Errorf("invalid audit.timeout %q: %w", c.Audit.Timeout, err)
	}

	if _, err := c.Audit.AlertWeekdays(); err != nil {
		return err
	}

	if c.Email.Mode == EmailModeSingle && c.Email.SingleAddress == "" {
		return fmt.Errorf("email mode %q requires email.single_address", EmailModeSingle)
	}

	if c.Scheduler.Enabled {
		if err := ValidateSchedule(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("invalid scheduler.schedule: %w", err)
		}
	}

	return nil
}

// TimeoutDuration returns the per-fetch timeout, falling back to 30s
func (a AuditConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(a.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// AlertWeekdays parses AlertDays. Full names and three-letter forms are accepted.
func (a AuditConfig) AlertWeekdays() ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(a.AlertDays))
	for _, d := range a.AlertDays {
		key := strings.ToLower(strings.TrimSpace(d))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdays[key]
		if !ok {
			return nil, fmt.Errorf("invalid alert day %q", d)
		}
		days = append(days, wd)
	}
	return days, nil
}

// ValidateSchedule validates a 5-field cron expression and ensures a minimum 5-minute interval
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}
	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
