// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package docstore persists versioned JSON documents with atomic, durable
// writes (temp file + fsync + rename) and optional change watching.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// ErrNotExist is returned by Load when the document file is absent.
var ErrNotExist = errors.New("document does not exist")

// Load reads and decodes the JSON document at path into v.
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExist
		}
		return fmt.Errorf("read document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &DecodeError{Path: path, Err: err}
	}
	return nil
}

// DecodeError marks malformed JSON content.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Save encodes v and atomically replaces the document at path. The parent
// directory is created if needed. renameio fsyncs before renaming so a
// crash never leaves a torn document behind.
func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending document: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace document: %w", err)
	}
	return nil
}
