package graph

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/logger"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
)

// TemplateSource supplies the query templates for one generate step. The
// returned map must not be modified.
type TemplateSource interface {
	Templates() map[memory.QuestionType]Template
}

type staticTemplates map[memory.QuestionType]Template

func (t staticTemplates) Templates() map[memory.QuestionType]Template { return t }

// TemplateStore serves the templates loaded from a YAML overrides file and
// can reload them while the process runs. A file that fails to load or
// validate never replaces the set in use.
type TemplateStore struct {
	path    string
	current atomic.Pointer[map[memory.QuestionType]Template]
	logger  *slog.Logger
}

// NewTemplateStore loads path once. It fails if that first load fails.
func NewTemplateStore(path string, log *slog.Logger) (*TemplateStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &TemplateStore{path: filepath.Clean(path), logger: log}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Templates returns the set currently in use.
func (s *TemplateStore) Templates() map[memory.QuestionType]Template {
	return *s.current.Load()
}

// Reload reads the file again and swaps in the result.
func (s *TemplateStore) Reload() error {
	t, err := LoadTemplatesFile(s.path)
	if err != nil {
		return fmt.Errorf("loading templates %s: %w", s.path, err)
	}
	s.current.Store(&t)
	return nil
}

// Watch reloads the file whenever it is written or replaced, until ctx is
// done. The directory is watched rather than the file so editors that save
// by rename are picked up. Watch returns once the watch is in place.
func (s *TemplateStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating template watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching %s: %w", s.path, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Error("template reload rejected, keeping previous set", "error", err)
					continue
				}
				s.logger.Info("templates reloaded", "path", s.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("template watcher", "error", err)
			}
		}
	}()
	return nil
}
