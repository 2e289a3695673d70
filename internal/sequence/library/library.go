// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package library is the durable, named collection of sequence definitions.
// The backing document is a single versioned JSON file replaced atomically
// on every mutation.
package library

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
	"github.com/ManuGH/labctl/internal/sequence/model"
)

const (
	// DocumentVersion is the only schema version this build reads or writes.
	DocumentVersion = 1
	// MaxLibrarySize bounds the number of stored definitions. Oversized
	// documents are truncated on load and rejected on save.
	MaxLibrarySize = 200
	// FileName is the document name inside the data directory.
	FileName = "sequences.json"
)

// Document is the persisted schema.
type Document struct {
	Version      int                        `json:"version"`
	Sequences    []model.SequenceDefinition `json:"sequences"`
	LastModified time.Time                  `json:"lastModified"`
}

// Library is the in-memory view plus its backing document. All mutating
// operations are read-modify-write under the library lock and persist
// before returning.
type Library struct {
	mu   sync.Mutex
	path string
	seqs []model.SequenceDefinition
	now  func() time.Time
}

// New creates a library backed by <dataDir>/sequences.json. Call Load
// before first use.
func New(dataDir string) *Library {
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
	const op = "sequence.library.load"

	var doc Document
	err := docstore.Load(l.path, &doc)
	switch {
	case errors.Is(err, docstore.ErrNotExist):
		l.seqs = nil
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
	for i, s := range doc.Sequences {
		if s.ID == "" {
			return fault.Newf(fault.KindPersistence, op, "invalid format: sequence %d missing id", i)
		}
		// A fresh error, not Wrap: the validation failure carries
		// KindPrecondition and Wrap would let it win classification. A bad
		// stored document is a persistence fault.
		if err := s.Validate(); err != nil {
			return fault.Newf(fault.KindPersistence, op, "invalid format: sequence %q: %v", s.ID, err)
		}
	}
	if len(doc.Sequences) > MaxLibrarySize {
		doc.Sequences = doc.Sequences[:MaxLibrarySize]
	}
	l.seqs = doc.Sequences
	return nil
}

// List returns a copy of all definitions.
func (l *Library) List() []model.SequenceDefinition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.SequenceDefinition(nil), l.seqs...)
}

// Get returns the definition with the given ID.
func (l *Library) Get(id string) (model.SequenceDefinition, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.seqs {
		if s.ID == id {
			return s, true
		}
	}
	return model.SequenceDefinition{}, false
}

// Add validates def, assigns a server-side ID and timestamps, and persists.
func (l *Library) Add(def model.SequenceDefinition) (string, error) {
	const op = "sequence.library.add"
	if err := def.Validate(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.seqs) >= MaxLibrarySize {
		return "", fault.Newf(fault.KindPersistence, op, "library full (%d entries)", MaxLibrarySize)
	}

	def.ID = uuid.NewString()
	now := l.now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	next := append(append([]model.SequenceDefinition(nil), l.seqs...), def)
	if err := l.persistLocked(next); err != nil {
		return "", err
	}
	l.seqs = next
	return def.ID, nil
}

// Update replaces the definition with def.ID and persists.
func (l *Library) Update(def model.SequenceDefinition) error {
	const op = "sequence.library.update"
	if err := def.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.seqs {
		if s.ID == def.ID {
			def.CreatedAt = s.CreatedAt
			def.UpdatedAt = l.now().UTC()
			next := append([]model.SequenceDefinition(nil), l.seqs...)
			next[i] = def
			if err := l.persistLocked(next); err != nil {
				return err
			}
			l.seqs = next
			return nil
		}
	}
	return fault.Newf(fault.KindNotFound, op, "unknown sequence %q", def.ID)
}

// Delete removes the definition with the given ID and persists.
func (l *Library) Delete(id string) error {
	const op = "sequence.library.delete"

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.seqs {
		if s.ID == id {
			next := append([]model.SequenceDefinition(nil), l.seqs[:i]...)
			next = append(next, l.seqs[i+1:]...)
			if err := l.persistLocked(next); err != nil {
				return err
			}
			l.seqs = next
			return nil
		}
	}
	return fault.Newf(fault.KindNotFound, op, "unknown sequence %q", id)
}

// Save replaces the whole collection and persists.
func (l *Library) Save(list []model.SequenceDefinition) error {
	const op = "sequence.library.save"
	if len(list) > MaxLibrarySize {
		return fault.Newf(fault.KindPersistence, op, "library exceeds %d entries", MaxLibrarySize)
	}
	for _, s := range list {
		if err := s.Validate(); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	next := append([]model.SequenceDefinition(nil), list...)
	if err := l.persistLocked(next); err != nil {
		return err
	}
	l.seqs = next
	return nil
}

// Reload re-reads the backing document, returning true when the content
// replaced the in-memory view. Used by the change watcher.
func (l *Library) Reload() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// Watch blocks, reloading on external document changes and invoking
// onReload after each successful reload.
func (l *Library) Watch(ctx context.Context, onReload func()) error {
	return docstore.Watch(ctx, l.path, func() {
		if _, err := l.Reload(); err != nil {
			metrics.LibrarySavesTotal.WithLabelValues("sequences", "reload_error").Inc()
			return
		}
		onReload()
	})
}

func (l *Library) persistLocked(list []model.SequenceDefinition) error {
	doc := Document{
		Version:      DocumentVersion,
		Sequences:    list,
		LastModified: l.now().UTC(),
	}
	if err := docstore.Save(l.path, doc); err != nil {
		metrics.LibrarySavesTotal.WithLabelValues("sequences", "error").Inc()
		return fault.Wrap(fault.KindPersistence, "sequence.library.persist", err)
	}
	metrics.LibrarySavesTotal.WithLabelValues("sequences", "ok").Inc()
	return nil
}
