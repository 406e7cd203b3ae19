// Package app wires the qrate daemon together: configuration, logging,
// history, the shell-command queue and its feeds.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/glynnbird/qrate"
	"github.com/glynnbird/qrate/internal/config"
	"github.com/glynnbird/qrate/internal/feed"
	"github.com/glynnbird/qrate/internal/history"
	"github.com/glynnbird/qrate/internal/runtime/supervisor"
	"github.com/glynnbird/qrate/pkg/eventbus"
	logx "github.com/glynnbird/qrate/pkg/logx"
)

// Overrides are command-line values that take precedence over the config
// file. Zero values leave the file's setting alone.
type Overrides struct {
	Concurrency int
	RateLimit   int
	RatePeriod  string
	Level       string
}

type Options struct {
	// ConfigPath is optional. Without it the defaults and Overrides apply
	// and nothing is watched.
	ConfigPath string
	Overrides  Overrides

	// Stdin supplies one command per line. nil disables the line feed.
	Stdin io.Reader
	// Command output; nil means os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// command is the queue's task type.
type command struct {
	ID     uint64
	Source string
	Line   string
}

type App struct {
	opts  Options
	runID string

	cfgm *config.ConfigManager
	cfg  *config.Config
	qs   config.QueueSettings

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store history.Store

	queue *qrate.Queue[command]
	sched *feed.Scheduler
	sup   *supervisor.Supervisor

	// ctx is the base context of every command; cancel aborts running ones.
	ctx    context.Context
	cancel context.CancelFunc

	stdout, stderr io.Writer

	seq       atomic.Uint64
	submitted atomic.Int64
	failed    atomic.Int64
	pending   sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

func New(opts Options) (*App, error) {
	cfg := &config.Config{}
	var cfgm *config.ConfigManager
	if strings.TrimSpace(opts.ConfigPath) != "" {
		cfgm = config.NewConfigManager(opts.ConfigPath)
		parsed, err := cfgm.Parse()
		if err != nil {
			return nil, err
		}
		cfg = parsed
	}
	opts.Overrides.apply(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	qs, err := cfg.Queue.Settings()
	if err != nil {
		return nil, err
	}
	if cfgm != nil {
		cfgm.Commit(cfg)
	}

	logs, log := logx.New(loggingConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	a := &App{
		opts:   opts,
		runID:  uuid.NewString(),
		cfgm:   cfgm,
		cfg:    cfg,
		qs:     qs,
		log:    log,
		logs:   logs,
		bus:    eventbus.New(),
		stdout: lockedWriter(opts.Stdout, os.Stdout),
		stderr: lockedWriter(opts.Stderr, os.Stderr),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	if err := a.openHistory(); err != nil {
		a.cancel()
		_ = logs.Close()
		return nil, err
	}

	qopts := []qrate.Option{
		qrate.WithName(qs.Name),
		qrate.WithConcurrency(qs.Concurrency),
		qrate.WithContext(a.ctx),
		qrate.WithLogger(logs.Logger().With(logx.String("comp", "queue"))),
		qrate.WithEventBus(a.bus),
	}
	if qs.RateLimit > 0 {
		qopts = append(qopts, qrate.WithRateLimit(qs.RateLimit), qrate.WithRatePeriod(qs.RatePeriod))
	}
	a.queue, err = qrate.New(qrate.Async(a.run), qopts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	if qs.Buffer != nil {
		if err := a.queue.SetBuffer(*qs.Buffer); err != nil {
			a.Close()
			return nil, err
		}
	}
	if qs.Paused {
		a.queue.Pause()
	}
	a.queue.OnError(func(err error, c command) {
		a.log.Warn("command failed",
			logx.Uint64("id", c.ID),
			logx.String("source", c.Source),
			logx.String("command", c.Line),
			logx.Err(err),
		)
	})

	a.sched = feed.NewScheduler(a.submit, logs.Logger())
	if err := a.sched.Apply(cfg.Jobs); err != nil {
		a.Close()
		return nil, err
	}

	a.log.Info("qrate ready",
		logx.String("run_id", a.runID),
		logx.String("queue", qs.Name),
		logx.Int("concurrency", qs.Concurrency),
		logx.Int("rate_limit", qs.RateLimit),
		logx.Duration("rate_period", qs.RatePeriod),
		logx.Int("jobs", len(cfg.Jobs)),
	)
	return a, nil
}

func (o Overrides) apply(cfg *config.Config) {
	if o.Concurrency != 0 {
		cfg.Queue.Concurrency = o.Concurrency
	}
	if o.RateLimit != 0 {
		cfg.Queue.RateLimit = o.RateLimit
	}
	if strings.TrimSpace(o.RatePeriod) != "" {
		cfg.Queue.RatePeriod = o.RatePeriod
	}
	if strings.TrimSpace(o.Level) != "" {
		cfg.Logging.Level = o.Level
	}
}

func loggingConfig(l config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
	}
}

func (a *App) openHistory() error {
	h := a.cfg.History
	if h == nil {
		return nil
	}
	busy, err := config.ParseDurationField("history.busy_timeout", h.BusyTimeout)
	if err != nil {
		return err
	}
	st, err := history.Open(history.Config{
		Driver:      h.Driver,
		Path:        h.Path,
		BusyTimeout: busy,
		Keep:        h.Keep,
	}, a.logs.Logger().With(logx.String("comp", "history")))
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if st != nil {
		a.store = st
		a.log.Info("history enabled", logx.String("driver", h.Driver))
	}
	return nil
}

// submit pushes one command line onto the queue.
func (a *App) submit(source, line string) error {
	c := command{ID: a.seq.Add(1), Source: source, Line: line}
	a.pending.Add(1)
	err := a.queue.Push(c, func(err error, _ ...any) {
		if err != nil {
			a.failed.Add(1)
		}
		a.pending.Done()
	})
	if err != nil {
		a.pending.Done()
		return err
	}
	a.submitted.Add(1)
	return nil
}

// Stats reports the live queue state.
func (a *App) Stats() qrate.Stats { return a.queue.Stats() }

// Failed returns how many commands have failed so far.
func (a *App) Failed() int64 { return a.failed.Load() }

// Recent returns up to n recorded outcomes, newest first. It is empty when
// history is disabled.
func (a *App) Recent(ctx context.Context, n int) ([]history.Record, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.Recent(ctx, n)
}

// Close releases the queue, history store and log sinks. Run calls it on
// return.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Kill()
		}
		a.cancel()
		if a.store != nil {
			a.closeErr = a.store.Close()
		}
		_ = a.logs.Close()
	})
	return a.closeErr
}

// waitIdle waits until no command is running or ctx is done.
func (a *App) waitIdle(ctx context.Context) {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for a.queue.Running() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
