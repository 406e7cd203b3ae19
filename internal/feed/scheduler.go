package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/glynnbird/qrate/internal/config"
	logx "github.com/glynnbird/qrate/pkg/logx"
)

// Scheduler submits each configured job's command whenever its schedule
// fires. Jobs can be replaced at runtime with Apply.
type Scheduler struct {
	log    logx.Logger
	submit Submit
	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]cron.EntryID
}

func NewScheduler(submit Submit, log logx.Logger) *Scheduler {
	s := &Scheduler{
		log:    log.With(logx.String("comp", "scheduler")),
		submit: submit,
		// SecondOptional accepts both 5- and 6-field specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]cron.EntryID{},
	}
	s.c = s.newCron()
	return s
}

func (s *Scheduler) newCron() *cron.Cron {
	cl := cronLogger{log: s.log}
	return cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
}

// CheckJobs parses every job's schedule without registering anything.
func (s *Scheduler) CheckJobs(jobs []config.JobConfig) error {
	var errs []error
	for i, j := range jobs {
		if _, err := s.schedule(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("jobs[%d].schedule: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) schedule(raw string) (cron.Schedule, error) {
	sch, err := ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	if sch.Kind == KindInterval {
		return cron.Every(sch.Every), nil
	}
	return s.parser.Parse(sch.Cron)
}

// Apply replaces the registered jobs. Nothing changes if any schedule is
// invalid.
func (s *Scheduler) Apply(jobs []config.JobConfig) error {
	type parsed struct {
		job config.JobConfig
		sch cron.Schedule
	}
	all := make([]parsed, 0, len(jobs))
	for i, j := range jobs {
		sch, err := s.schedule(j.Schedule)
		if err != nil {
			return fmt.Errorf("jobs[%d].schedule: %w", i, err)
		}
		all = append(all, parsed{job: j, sch: sch})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, id := range s.entries {
		s.c.Remove(id)
		delete(s.entries, name)
	}
	for _, p := range all {
		name := strings.TrimSpace(p.job.Name)
		command := p.job.Command
		s.entries[name] = s.c.Schedule(p.sch, cron.FuncJob(func() { s.fire(name, command) }))
	}
	s.log.Info("jobs applied", logx.Int("jobs", len(all)))
	return nil
}

func (s *Scheduler) fire(name, command string) {
	if err := s.submit(name, command); err != nil {
		s.log.Warn("job submit failed", logx.String("job", name), logx.Err(err))
		return
	}
	s.log.Debug("job submitted", logx.String("job", name))
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Next returns when job name fires next. It is zero before Start.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	c := s.c
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return c.Entry(id).Next, true
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	c := s.c
	s.mu.Unlock()
	c.Start()
	s.log.Debug("scheduler started")
}

// Stop stops triggering and waits for running job submissions until ctx
// is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.mu.Unlock()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Debug("scheduler stopped")
}

// cronLogger routes robfig/cron's internal logging to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
