// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/labctl/internal/docstore"
	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/metrics"
	"github.com/ManuGH/labctl/internal/trigger/model"
)

const (
	// DocumentVersion is the only schema version this build reads or writes.
	DocumentVersion = 1
	// MaxLibrarySize bounds the number of stored scripts.
	MaxLibrarySize = 200
	// FileName is the document name inside the data directory.
	FileName = "trigger-scripts.json"
)

// Document is the persisted schema.
type Document struct {
	Version      int                   `json:"version"`
	Scripts      []model.TriggerScript `json:"scripts"`
	LastModified time.Time             `json:"lastModified"`
}

// Library is the durable trigger-script collection, a single versioned JSON
// document replaced atomically on every mutation.
type Library struct {
	mu      sync.Mutex
	path    string
	scripts []model.TriggerScript
	now     func() time.Time
}

// NewLibrary creates a library backed by <dataDir>/trigger-scripts.json.
// Call Load before first use.
func NewLibrary(dataDir string) *Library {
	return &Library{
		path: filepath.Join(dataDir, FileName),
		now:  time.Now,
	}
}

// Path returns the backing document path.
func (l *Library) Path() string { return l.path }

// Load reads the backing document. A missing file yields an empty library.
func (l *Library) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked()
}

func (l *Library) loadLocked() error {
	const op = "trigger.library.load"

	var doc Document
	err := docstore.Load(l.path, &doc)
	switch {
	case errors.Is(err, docstore.ErrNotExist):
		l.scripts = nil
		return nil
	case err != nil:
		var derr *docstore.DecodeError
		if errors.As(err, &derr) {
			return fault.Wrap(fault.KindPersistence, op+": invalid JSON", err)
		}
		return fault.Wrap(fault.KindPersistence, op, err)
	}

	if doc.Version != DocumentVersion {
		return fault.Newf(fault.KindPersistence, op, "unsupported document version %d", doc.Version)
	}
	for i, s := range doc.Scripts {
		if s.ID == "" {
			return fault.Newf(fault.KindPersistence, op, "invalid format: script %d missing id", i)
		}
		// A fresh error, not Wrap: validation carries KindPrecondition and
		// Wrap would let it win classification.
		if err := s.Validate(); err != nil {
			return fault.Newf(fault.KindPersistence, op, "invalid format: script %q: %v", s.ID, err)
		}
	}
	if len(doc.Scripts) > MaxLibrarySize {
		doc.Scripts = doc.Scripts[:MaxLibrarySize]
	}
	l.scripts = doc.Scripts
	return nil
}

// List returns a copy of all scripts.
func (l *Library) List() []model.TriggerScript {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.TriggerScript(nil), l.scripts...)
}

// Get returns the script with the given ID.
func (l *Library) Get(id string) (model.TriggerScript, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.scripts {
		if s.ID == id {
			return s, true
		}
	}
	return model.TriggerScript{}, false
}

// Add validates the script, assigns a server-side ID and timestamps, and
// persists.
func (l *Library) Add(script model.TriggerScript) (string, error) {
	const op = "trigger.library.add"
	if err := script.Validate(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.scripts) >= MaxLibrarySize {
		return "", fault.Newf(fault.KindPersistence, op, "library full (%d entries)", MaxLibrarySize)
	}

	script.ID = uuid.NewString()
	now := l.now().UTC()
	script.CreatedAt = now
	script.UpdatedAt = now

	next := append(append([]model.TriggerScript(nil), l.scripts...), script)
	if err := l.persistLocked(next); err != nil {
		return "", err
	}
	l.scripts = next
	return script.ID, nil
}

// Update replaces the script with script.ID and persists.
func (l *Library) Update(script model.TriggerScript) error {
	const op = "trigger.library.update"
	if err := script.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.scripts {
		if s.ID == script.ID {
			script.CreatedAt = s.CreatedAt
			script.UpdatedAt = l.now().UTC()
			next := append([]model.TriggerScript(nil), l.scripts...)
			next[i] = script
			if err := l.persistLocked(next); err != nil {
				return err
			}
			l.scripts = next
			return nil
		}
	}
	return fault.Newf(fault.KindNotFound, op, "unknown script %q", script.ID)
}

// Delete removes the script with the given ID and persists.
func (l *Library) Delete(id string) error {
	const op = "trigger.library.delete"

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.scripts {
		if s.ID == id {
			next := append([]model.TriggerScript(nil), l.scripts[:i]...)
			next = append(next, l.scripts[i+1:]...)
			if err := l.persistLocked(next); err != nil {
				return err
			}
			l.scripts = next
			return nil
		}
	}
	return fault.Newf(fault.KindNotFound, op, "unknown script %q", id)
}

// Reload re-reads the backing document.
func (l *Library) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked()
}

// Watch blocks, reloading on external document changes and invoking
// onReload after each successful reload.
func (l *Library) Watch(ctx context.Context, onReload func()) error {
	return docstore.Watch(ctx, l.path, func() {
		if err := l.Reload(); err != nil {
			metrics.LibrarySavesTotal.WithLabelValues("trigger-scripts", "reload_error").Inc()
			return
		}
		onReload()
	})
}

func (l *Library) persistLocked(list []model.TriggerScript) error {
	doc := Document{
		Version:      DocumentVersion,
		Scripts:      list,
		LastModified: l.now().UTC(),
	}
	if err := docstore.Save(l.path, doc); err != nil {
		metrics.LibrarySavesTotal.WithLabelValues("trigger-scripts", "error").Inc()
		return fault.Wrap(fault.KindPersistence, "trigger.library.persist", err)
	}
	metrics.LibrarySavesTotal.WithLabelValues("trigger-scripts", "ok").Inc()
	return nil
}
