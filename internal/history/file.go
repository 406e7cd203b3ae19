package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "github.com/glynnbird/qrate/pkg/logx"
)

// fileStore appends records to <prefix>.history.jsonl and keeps the newest
// Keep of them in memory. The file is rewritten once it holds twice that.
type fileStore struct {
	log  logx.Logger
	keep int
	path string

	mu     sync.Mutex
	f      *os.File
	recent []Record // oldest first
	onDisk int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	p := strings.TrimSpace(cfg.Path)
	if p == "" {
		return nil, errors.New("history.path is required for file driver")
	}
	dir := filepath.Dir(p)
	base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	path := filepath.Join(dir, base+".history.jsonl")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, keep: cfg.Keep, path: path}
	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

// load replays the existing file. Malformed lines (a torn final write) are
// skipped.
func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		s.onDisk++
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		s.remember(r)
	}
	return sc.Err()
}

func (s *fileStore) remember(r Record) {
	s.recent = append(s.recent, r)
	if over := len(s.recent) - s.keep; over > 0 {
		s.recent = append(s.recent[:0], s.recent[over:]...)
	}
}

func (s *fileStore) Append(_ context.Context, r Record) error {
	r = withID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.onDisk++
	s.remember(r)

	if s.onDisk >= 2*s.keep {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Recent(_ context.Context, n int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]Record, 0, n)
	for i := len(s.recent) - 1; len(out) < n; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

// compactLocked rewrites the file with only the retained records.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range s.recent {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	_ = s.f.Close()
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Join(err, s.reopenLocked())
	}
	s.onDisk = len(s.recent)
	return s.reopenLocked()
}

func (s *fileStore) reopenLocked() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return err
	}
	s.f = f
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
