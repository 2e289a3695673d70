// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package library

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/sequence/model"
)

func testDefinition(name string) model.SequenceDefinition {
	return model.SequenceDefinition{
		Name: name,
		Unit: "V",
		Waveform: model.Waveform{
			Type: model.WaveRamp, Min: 0, Max: 5,
			PointsPerCycle: 4, IntervalMs: 100,
		},
	}
}

func TestAddGetRoundTrip(t *testing.T) {
	lib := New(t.TempDir())
	require.NoError(t, lib.Load())

	id, err := lib.Add(testDefinition("ramp-a"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, ok := lib.Get(id)
	require.True(t, ok)
	assert.Equal(t, "ramp-a", got.Name)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)

	// A fresh library over the same directory sees the persisted entry.
	reopened := New(filepath.Dir(lib.Path()))
	require.NoError(t, reopened.Load())
	got2, ok := reopened.Get(id)
	require.True(t, ok)
	assert.Equal(t, got.Name, got2.Name)
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	lib := New(t.TempDir())
	require.NoError(t, lib.Load())

	id, err := lib.Add(testDefinition("original"))
	require.NoError(t, err)
	before, _ := lib.Get(id)

	updated := testDefinition("renamed")
	updated.ID = id
	require.NoError(t, lib.Update(updated))

	after, ok := lib.Get(id)
	require.True(t, ok)
	assert.Equal(t, "renamed", after.Name)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestUpdateUnknownID(t *testing.T) {
	lib := New(t.TempDir())
	require.NoError(t, lib.Load())

	def := testDefinition("ghost")
	def.ID = "nope"
	err := lib.Update(def)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestDelete(t *testing.T) {
	lib := New(t.TempDir())
	require.NoError(t, lib.Load())

	id, err := lib.Add(testDefinition("doomed"))
	require.NoError(t, err)
	require.NoError(t, lib.Delete(id))

	_, ok := lib.Get(id)
	assert.False(t, ok)

	err = lib.Delete(id)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	lib := New(t.TempDir())
	require.NoError(t, lib.Load())
	assert.Empty(t, lib.List())
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	doc := Document{Version: 99, LastModified: time.Now()}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data, 0o644))

	lib := New(dir)
	err = lib.Load()
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindPersistence))
	assert.Contains(t, err.Error(), "unsupported document version")
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o644))

	lib := New(dir)
	err := lib.Load()
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindPersistence))
}

func TestLoadRejectsInvalidDefinition(t *testing.T) {
	dir := t.TempDir()
	bad := testDefinition("bad")
	bad.ID = "seq-1"
	bad.Waveform.IntervalMs = 10 // below the dwell floor
	doc := Document{Version: DocumentVersion, Sequences: []model.SequenceDefinition{bad}}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data, 0o644))

	lib := New(dir)
	err = lib.Load()
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindPersistence))
}

func TestLoadTruncatesOversizedDocument(t *testing.T) {
	dir := t.TempDir()
	seqs := make([]model.SequenceDefinition, MaxLibrarySize+10)
	for i := range seqs {
		seqs[i] = testDefinition(fmt.Sprintf("seq-%d", i))
		seqs[i].ID = fmt.Sprintf("id-%d", i)
	}
	doc := Document{Version: DocumentVersion, Sequences: seqs}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data, 0o644))

	lib := New(dir)
	require.NoError(t, lib.Load())
	assert.Len(t, lib.List(), MaxLibrarySize)
}

func TestAddRejectsWhenFull(t *testing.T) {
	lib := New(t.TempDir())
	require.NoError(t, lib.Load())
	for i := 0; i < MaxLibrarySize; i++ {
		_, err := lib.Add(testDefinition(fmt.Sprintf("seq-%d", i)))
		require.NoError(t, err)
	}

	_, err := lib.Add(testDefinition("overflow"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindPersistence))
}

func TestSaveRejectsOversizedList(t *testing.T) {
	lib := New(t.TempDir())
	require.NoError(t, lib.Load())

	list := make([]model.SequenceDefinition, MaxLibrarySize+1)
	for i := range list {
		list[i] = testDefinition(fmt.Sprintf("seq-%d", i))
		list[i].ID = fmt.Sprintf("id-%d", i)
	}
	err := lib.Save(list)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindPersistence))
}

func TestListReturnsCopy(t *testing.T) {
	lib := New(t.TempDir())
	require.NoError(t, lib.Load())
	id, err := lib.Add(testDefinition("stable"))
	require.NoError(t, err)

	list := lib.List()
	require.Len(t, list, 1)
	list[0].Name = "mutated"

	got, _ := lib.Get(id)
	assert.Equal(t, "stable", got.Name)
}
