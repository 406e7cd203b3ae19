package config

import (
	"reflect"

	logx "github.com/glynnbird/qrate/pkg/logx"
)

// Change describes what differs between two configs, for logging and for
// deciding what must be re-applied.
type Change struct {
	Sections []string
	Fields   []logx.Field

	// Restart is set when a change cannot be applied to a live queue
	// (rate limit, name, shell, history or admin).
	Restart bool
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	oq, nq := oldCfg.Queue, newCfg.Queue
	if oq.Concurrency != nq.Concurrency || !reflect.DeepEqual(oq.Buffer, nq.Buffer) || oq.Paused != nq.Paused {
		ch.Sections = append(ch.Sections, "queue")
		ch.Fields = append(ch.Fields,
			logx.Int("queue.concurrency", nq.Concurrency),
			logx.Bool("queue.paused", nq.Paused),
		)
	}
	if oq.Name != nq.Name || oq.RateLimit != nq.RateLimit || oq.RatePeriod != nq.RatePeriod ||
		oq.Shell != nq.Shell || oq.TaskTimeout != nq.TaskTimeout {
		ch.Sections = append(ch.Sections, "queue.static")
		ch.Restart = true
	}

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.History, newCfg.History) {
		ch.Sections = append(ch.Sections, "history")
		ch.Restart = true
	}
	if !reflect.DeepEqual(oldCfg.Admin, newCfg.Admin) {
		ch.Sections = append(ch.Sections, "admin")
		ch.Restart = true
	}
	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		ch.Sections = append(ch.Sections, "jobs")
		ch.Fields = append(ch.Fields, logx.Int("jobs.count", len(newCfg.Jobs)))
	}
	return ch
}
