package testsupport

import (
	"context"
	"testing"

	"stagewise/internal/chain"
	"stagewise/internal/config"
	"stagewise/internal/queue"
)

// ReportKind is the task kind defined by Chains.
const ReportKind = "report"

// ReportChain builds CREATED → (RUNNING, DATA_LOADED) → (REPORTS, FINISHED)
// routed to the "data" and "report" processors.
func ReportChain(t testing.TB) *chain.Chain {
	t.Helper()
	ch, err := chain.NewBuilder("CREATED").
		Add("RUNNING", "DATA_LOADED", "data").
		Add("REPORTS", "FINISHED", "report").
		Build()
	if err != nil {
		t.Fatalf("build report chain: %v", err)
	}
	return ch
}

// Chains returns definitions holding ReportChain under ReportKind.
func Chains(t testing.TB) chain.Definitions {
	t.Helper()
	return chain.Definitions{ReportKind: ReportChain(t)}
}

// MustOpenStore opens a queue.Store using Chains and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, Chains(t))
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewTask creates a task of ReportKind for tests using the provided store.
func NewTask(t testing.TB, store *queue.Store, payload string) *queue.Task {
	t.Helper()

	task, err := store.NewTask(context.Background(), ReportKind, payload)
	if err != nil {
		t.Fatalf("store.NewTask: %v", err)
	}
	return task
}
