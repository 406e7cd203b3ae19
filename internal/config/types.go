package config

// Config is the on-disk configuration of the qrate command.
//
// Example (YAML):
//
//	queue:
//	  concurrency: 4
//	  rate_limit: 10
//	  rate_period: 1s
//	logging:
//	  level: info
//	  console: true
//	history:
//	  driver: sqlite
//	  path: ./qrate.db
//	admin:
//	  enabled: true
//	  addr: 127.0.0.1:6060
//	jobs:
//	  - name: backup
//	    schedule: "0 3 * * *"
//	    command: ./backup.sh
type Config struct {
	Queue   QueueConfig    `json:"queue"`
	Logging LoggingConfig  `json:"logging"`
	History *HistoryConfig `json:"history,omitempty"`
	Admin   *AdminConfig   `json:"admin,omitempty"`
	Jobs    []JobConfig    `json:"jobs,omitempty"`
}

// QueueConfig mirrors the queue options. Durations are Go duration strings.
//
// Defaults (when fields are omitted/zero):
//   - name: "default"
//   - concurrency: 1
//   - buffer: concurrency/4
//   - rate_limit: 0 (unlimited)
//   - rate_period: "1s"
//   - task_timeout: "0s" (disabled)
//   - shell: "/bin/sh"
type QueueConfig struct {
	Name        string   `json:"name,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
	Buffer      *float64 `json:"buffer,omitempty"`
	RateLimit   int      `json:"rate_limit,omitempty"`
	RatePeriod  string   `json:"rate_period,omitempty"`
	Paused      bool     `json:"paused,omitempty"`
	TaskTimeout string   `json:"task_timeout,omitempty"`
	Shell       string   `json:"shell,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HistoryConfig controls the optional task outcome log.
//
//	"history": { "driver": "file", "path": "./qrate_history" }
type HistoryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Keep        int    `json:"keep,omitempty"`
}

// AdminConfig controls the operator HTTP endpoint (stats, history, pprof).
// A non-loopback addr needs a token unless allow_insecure is set.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// JobConfig pushes Command onto the queue every time Schedule triggers.
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Command  string `json:"command"`
}
