package app

import (
	"context"
	"strings"

	"github.com/glynnbird/qrate/internal/config"
	logx "github.com/glynnbird/qrate/pkg/logx"
)

// applyLoop applies every published config until ctx is done. Bursts are
// coalesced so only the latest config is applied.
func (a *App) applyLoop(ctx context.Context, sub <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next != nil {
				a.apply(next)
			}
		}
	}
}

// apply updates the live queue, logging and jobs from cfg. Settings that
// shape the queue itself (name, rate limit, shell, timeout) and the
// history store are only logged; they take effect on restart.
func (a *App) apply(next *config.Config) {
	// Command-line values keep winning after a reload.
	cp := *next
	a.opts.Overrides.apply(&cp)
	next = &cp

	ch := config.Diff(a.cfg, next)
	if ch.Empty() {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config changed", fields...)

	qs, err := next.Queue.Settings()
	if err != nil {
		a.log.Warn("queue settings rejected", logx.Err(err))
		return
	}

	for _, s := range ch.Sections {
		switch s {
		case "queue":
			a.applyQueue(qs)
		case "logging":
			a.logs.Apply(loggingConfig(next.Logging))
		case "jobs":
			if err := a.sched.Apply(next.Jobs); err != nil {
				a.log.Warn("jobs rejected", logx.Err(err))
			}
		}
	}
	if ch.Restart {
		a.log.Warn("some config changes require a restart to take effect", logx.String("changed", strings.Join(ch.Sections, ",")))
	}
	a.cfg = next
}

func (a *App) applyQueue(qs config.QueueSettings) {
	if err := a.queue.SetConcurrency(qs.Concurrency); err != nil {
		a.log.Warn("concurrency rejected", logx.Err(err))
	}
	buffer := float64(qs.Concurrency) / 4
	if qs.Buffer != nil {
		buffer = *qs.Buffer
	}
	if err := a.queue.SetBuffer(buffer); err != nil {
		a.log.Warn("buffer rejected", logx.Err(err))
	}
	switch {
	case qs.Paused && !a.queue.Paused():
		a.queue.Pause()
	case !qs.Paused && a.queue.Paused():
		a.queue.Resume()
	}
}
