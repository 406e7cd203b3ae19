package history

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("history store closed")

// DefaultKeep is how many records a store retains when Config.Keep is 0.
const DefaultKeep = 1000

// Config selects and configures a driver. An empty Driver or "none"
// disables history.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Keep        int
}

// Record is one finished task.
type Record struct {
	ID       string        `json:"id"`
	RunID    string        `json:"run_id"`
	Queue    string        `json:"queue"`
	TaskID   uint64        `json:"task_id"`
	Source   string        `json:"source"` // "stdin" or the job name
	Command  string        `json:"command"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	ExitCode int           `json:"exit_code"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Store persists records. Implementations are safe for concurrent use.
type Store interface {
	Append(ctx context.Context, r Record) error
	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]Record, error)
	Close() error
}
