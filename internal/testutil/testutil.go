// Package testutil provides shared test helpers for setting up vaults,
// state stores, and journals.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/laguz/internal/history"
	"github.com/starford/laguz/internal/state"
	"github.com/starford/laguz/internal/storage"
)

// TestJournal creates a temporary sync journal that is automatically
// cleaned up.
func TestJournal(t *testing.T) *history.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "laguz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := history.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// TestState creates a temporary sync state store.
func TestState(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
