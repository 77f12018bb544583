package testsupport

import (
	"testing"

	"refinebox/internal/config"
	"refinebox/internal/runstore"
)

// MustOpenLedger opens a runstore.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *runstore.Store {
	t.Helper()

	store, err := runstore.Open(cfg)
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
