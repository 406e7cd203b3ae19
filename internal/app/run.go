package app

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/glynnbird/qrate"
	"github.com/glynnbird/qrate/internal/admin"
	"github.com/glynnbird/qrate/internal/config"
	"github.com/glynnbird/qrate/internal/feed"
	"github.com/glynnbird/qrate/internal/history"
	"github.com/glynnbird/qrate/internal/runtime/supervisor"
	"github.com/glynnbird/qrate/pkg/eventbus"
	logx "github.com/glynnbird/qrate/pkg/logx"
)

// waitDelay bounds how long a killed command's leftover children may hold
// its output open.
const waitDelay = time.Second

// result is what a finished command reports to its task callback.
type result struct {
	ExitCode int
	Duration time.Duration
}

// run executes one command with the configured shell. It blocks, so the
// queue drives it through qrate.Async.
func (a *App) run(ctx context.Context, c command) (any, error) {
	if a.qs.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.qs.TaskTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, a.qs.Shell, "-c", c.Line)
	cmd.Stdout = a.stdout
	cmd.Stderr = a.stderr
	cmd.WaitDelay = waitDelay

	started := time.Now()
	err := cmd.Run()
	res := result{Duration: time.Since(started)}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		err = fmt.Errorf("timed out after %s", a.qs.TaskTimeout)
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		err = fmt.Errorf("exit status %d", res.ExitCode)
	case err != nil:
		res.ExitCode = -1
	}

	a.record(c, started, res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (a *App) record(c command, started time.Time, res result, runErr error) {
	if a.store == nil {
		return
	}
	rec := history.Record{
		RunID:    a.runID,
		Queue:    a.qs.Name,
		TaskID:   c.ID,
		Source:   c.Source,
		Command:  c.Line,
		OK:       runErr == nil,
		ExitCode: res.ExitCode,
		Started:  started,
		Duration: res.Duration,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Append(ctx, rec); err != nil {
		a.log.Warn("history append failed", logx.Uint64("id", c.ID), logx.Err(err))
	}
}

// Run feeds the queue until ctx is done, a supervised goroutine fails, or
// stdin is exhausted with every command finished and no jobs scheduled.
// It closes the App before returning.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.logs.Logger().With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	defer func() { _ = a.Close() }()

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			return a.sched.CheckJobs(cfg.Jobs)
		})
		sub := a.cfgm.Subscribe(8)
		a.sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 10*time.Second)
		a.sup.Go("config.apply", func(ctx context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.applyLoop(ctx, sub)
			return nil
		})
	}

	if ac := a.cfg.Admin; ac != nil && ac.Enabled {
		srv := admin.New(admin.Config{
			Addr:          ac.Addr,
			Token:         ac.Token,
			AllowInsecure: ac.AllowInsecure,
		}, a, a.logs.Logger().With(logx.String("comp", "admin")))
		a.sup.GoRestart("admin.serve", srv.Serve, 500*time.Millisecond, 30*time.Second)
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go("events.log", func(ctx context.Context) error {
		defer unsub()
		a.logEvents(ctx, events)
		return nil
	})

	a.sched.Start()

	finished := make(chan struct{})
	if a.opts.Stdin != nil {
		a.sup.Go("feed.stdin", func(ctx context.Context) error {
			n, err := feed.Lines(ctx, a.opts.Stdin, a.submit)
			if err != nil {
				return fmt.Errorf("stdin: %w", err)
			}
			a.log.Debug("stdin exhausted", logx.Int("lines", n))
			if !a.waitPending(ctx) {
				return nil
			}
			if a.sched.Len() == 0 {
				close(finished)
			}
			return nil
		})
	} else if a.sched.Len() == 0 {
		close(finished)
	}

	select {
	case <-finished:
		a.log.Debug("all commands finished")
	case <-a.sup.Context().Done():
		a.log.Info("stopping")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.sched.Stop(stopCtx)
	a.queue.Kill()
	a.cancel()
	a.waitIdle(stopCtx)
	supErr := a.sup.Stop(stopCtx)

	stats := a.queue.Stats()
	a.log.Info("qrate stopped",
		logx.Int64("submitted", a.submitted.Load()),
		logx.Int64("failed", a.failed.Load()),
		logx.Int("pending", stats.Pending),
	)
	if supErr != nil && !errors.Is(supErr, context.Canceled) {
		return supErr
	}
	return nil
}

// waitPending waits for every submitted command's callback. It returns
// false if ctx ended first.
func (a *App) waitPending(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		a.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// logEvents mirrors queue lifecycle events into the log.
func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	log := a.logs.Logger().With(logx.String("comp", "events"))
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev, _ := e.Data.(qrate.TaskEvent)
			fields := []logx.Field{
				logx.String("type", e.Type),
				logx.String("queue", e.Source),
				logx.Int("running", ev.Running),
				logx.Int("pending", ev.Pending),
			}
			if ev.TaskID != 0 {
				fields = append(fields, logx.Uint64("task", ev.TaskID))
			}
			if ev.Elapsed > 0 {
				fields = append(fields, logx.Duration("elapsed", ev.Elapsed))
			}
			switch e.Type {
			case qrate.EventQueueSaturated, qrate.EventQueueKilled:
				log.Info("event", fields...)
			default:
				log.Trace("event", fields...)
			}
		}
	}
}
