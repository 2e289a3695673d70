// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/trigger/model"
)

func testScript(name string) model.TriggerScript {
	return model.TriggerScript{
		Name: name,
		Triggers: []model.Trigger{{
			ID:         "t1",
			Condition:  model.Condition{Type: model.CondTime, Seconds: 10},
			Action:     model.Action{Type: model.ActSetOutput, DeviceID: "psu-1", Enabled: false},
			RepeatMode: model.RepeatOnce,
		}},
	}
}

func TestScriptLibraryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lib := NewLibrary(dir)
	require.NoError(t, lib.Load())

	id, err := lib.Add(testScript("safety"))
	require.NoError(t, err)

	reopened := NewLibrary(dir)
	require.NoError(t, reopened.Load())
	got, ok := reopened.Get(id)
	require.True(t, ok)
	assert.Equal(t, "safety", got.Name)
	require.Len(t, got.Triggers, 1)
	assert.Equal(t, model.CondTime, got.Triggers[0].Condition.Type)
}

func TestScriptLibraryUpdateAndDelete(t *testing.T) {
	lib := NewLibrary(t.TempDir())
	require.NoError(t, lib.Load())

	id, err := lib.Add(testScript("v1"))
	require.NoError(t, err)

	updated := testScript("v2")
	updated.ID = id
	require.NoError(t, lib.Update(updated))
	got, _ := lib.Get(id)
	assert.Equal(t, "v2", got.Name)

	require.NoError(t, lib.Delete(id))
	assert.True(t, fault.IsKind(lib.Delete(id), fault.KindNotFound))
}

func TestScriptLibraryAddRejectsInvalid(t *testing.T) {
	lib := NewLibrary(t.TempDir())
	require.NoError(t, lib.Load())

	bad := testScript("bad")
	bad.Triggers[0].RepeatMode = "sometimes"
	_, err := lib.Add(bad)
	assert.True(t, fault.IsKind(err, fault.KindPrecondition))
}

func TestScriptLibraryLoadRejectsVersion(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal(Document{Version: 2, LastModified: time.Now()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data, 0o644))

	lib := NewLibrary(dir)
	err = lib.Load()
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindPersistence))
}

func TestScriptLibraryLoadRejectsInvalidScript(t *testing.T) {
	dir := t.TempDir()
	bad := testScript("bad")
	bad.ID = "s1"
	bad.Triggers[0].RepeatMode = "sometimes"
	data, err := json.Marshal(Document{
		Version:      DocumentVersion,
		Scripts:      []model.TriggerScript{bad},
		LastModified: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data, 0o644))

	lib := NewLibrary(dir)
	err = lib.Load()
	require.Error(t, err)
	// A stored script failing validation is a document fault, not a
	// precondition: classification must not leak from the inner error.
	assert.True(t, fault.IsKind(err, fault.KindPersistence))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestScriptLibraryLoadMissingFile(t *testing.T) {
	lib := NewLibrary(t.TempDir())
	require.NoError(t, lib.Load())
	assert.Empty(t, lib.List())
}
