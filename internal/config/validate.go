package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// QueueSettings is QueueConfig with defaults applied and durations parsed.
type QueueSettings struct {
	Name        string
	Concurrency int
	// Buffer is nil when the queue default (concurrency/4) applies.
	Buffer      *float64
	RateLimit   int
	RatePeriod  time.Duration
	Paused      bool
	TaskTimeout time.Duration
	Shell       string
}

func (q QueueConfig) Settings() (QueueSettings, error) {
	s := QueueSettings{
		Name:        strings.TrimSpace(q.Name),
		Concurrency: q.Concurrency,
		Buffer:      q.Buffer,
		RateLimit:   q.RateLimit,
		Paused:      q.Paused,
		Shell:       strings.TrimSpace(q.Shell),
	}
	if s.Name == "" {
		s.Name = "default"
	}
	if s.Concurrency == 0 {
		s.Concurrency = 1
	}
	if s.Shell == "" {
		s.Shell = "/bin/sh"
	}

	var errs []error
	if s.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("queue.concurrency: must be >= 1"))
	}
	if s.Buffer != nil && *s.Buffer < 0 {
		errs = append(errs, fmt.Errorf("queue.buffer: must be >= 0"))
	}
	if s.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("queue.rate_limit: must be >= 0"))
	}
	var err error
	if s.RatePeriod, err = ParseDurationOrDefault("queue.rate_period", q.RatePeriod, time.Second); err != nil {
		errs = append(errs, err)
	}
	if s.TaskTimeout, err = ParseDurationField("queue.task_timeout", q.TaskTimeout); err != nil {
		errs = append(errs, err)
	}
	return s, errors.Join(errs...)
}

var (
	knownLevels  = []string{"", "trace", "debug", "info", "warn", "warning", "error"}
	knownDrivers = []string{"", "none", "file", "sqlite", "sqlite3"}
)

// Validate checks everything that can be checked without side effects.
// Errors are prefixed with the offending key path and joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := cfg.Queue.Settings(); err != nil {
		errs = append(errs, err)
	}

	lvl := strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	if !contains(knownLevels, lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if h := cfg.History; h != nil {
		driver := strings.ToLower(strings.TrimSpace(h.Driver))
		switch {
		case !contains(knownDrivers, driver):
			errs = append(errs, fmt.Errorf("history.driver: unknown driver %q", h.Driver))
		case driver != "" && driver != "none" && strings.TrimSpace(h.Path) == "":
			errs = append(errs, fmt.Errorf("history.path: required for driver %q", driver))
		}
		if _, err := ParseDurationField("history.busy_timeout", h.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if h.Keep < 0 {
			errs = append(errs, fmt.Errorf("history.keep: must be >= 0"))
		}
	}

	if a := cfg.Admin; a != nil && a.Enabled && strings.TrimSpace(a.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(a.Addr)); err != nil {
			errs = append(errs, fmt.Errorf("admin.addr: %w", err))
		}
	}

	seen := map[string]bool{}
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		case seen[name]:
			errs = append(errs, fmt.Errorf("%s.name: duplicate job %q", path, name))
		}
		seen[name] = true
		if strings.TrimSpace(j.Schedule) == "" {
			errs = append(errs, fmt.Errorf("%s.schedule: required", path))
		}
		if strings.TrimSpace(j.Command) == "" {
			errs = append(errs, fmt.Errorf("%s.command: required", path))
		}
	}
	return errors.Join(errs...)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
