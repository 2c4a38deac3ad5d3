package processors_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"stagewise/internal/config"
	"stagewise/internal/engine"
	"stagewise/internal/processors"
	"stagewise/internal/queue"
	"stagewise/internal/services"
	"stagewise/internal/testsupport"
)

func newEngine(t *testing.T, cfg *config.Config, store *queue.Store) *engine.Engine {
	t.Helper()
	reg := processors.NewDefaultRegistry(cfg, store, nil)
	eng, err := engine.New(engine.SyncExecutor{}, store, reg, engine.WithRunIDs(func() string { return "run-1" }))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return eng
}

func TestRegistryProvide(t *testing.T) {
	reg := processors.NewRegistry()
	noop := engine.ProcessorFunc(func(context.Context, int64, engine.Checkpoint) error { return nil })
	reg.Register("data", noop)
	reg.Register(" report ", noop)

	if _, err := reg.Provide("data"); err != nil {
		t.Fatalf("Provide(data): %v", err)
	}
	_, err := reg.Provide("encode")
	if !errors.Is(err, processors.ErrUnknownProcessor) || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected unknown processor, got %v", err)
	}
	if got := reg.IDs(); !slices.Equal(got, []string{"data", "report"}) {
		t.Fatalf("unexpected ids %v", got)
	}
}

func TestRegistryValidate(t *testing.T) {
	reg := processors.NewRegistry()
	reg.Register("data", engine.ProcessorFunc(func(context.Context, int64, engine.Checkpoint) error { return nil }))

	defs := testsupport.Chains(t)
	err := reg.Validate(defs)
	if !errors.Is(err, engine.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing report processor, got %v", err)
	}

	cfg := testsupport.NewConfig(t)
	if err := processors.NewDefaultRegistry(cfg, nil, nil).Validate(defs); err != nil {
		t.Fatalf("default registry should cover the report chain: %v", err)
	}
}

func TestRegistryHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	reg := processors.NewDefaultRegistry(cfg, nil, nil)
	health := reg.Health(context.Background())
	if len(health) != 2 || health[0].Name != "data" || health[1].Name != "report" {
		t.Fatalf("unexpected health %+v", health)
	}
	for _, h := range health {
		if !h.Ready {
			t.Fatalf("expected %s ready, got %+v", h.Name, h)
		}
	}

	if err := os.WriteFile(filepath.Join(testsupport.BaseDir(cfg), "file"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Paths.ReportDir = filepath.Join(testsupport.BaseDir(cfg), "file")
	health = processors.NewDefaultRegistry(cfg, nil, nil).Health(context.Background())
	if health[1].Ready {
		t.Fatal("expected report processor unhealthy when report_dir is a file")
	}
}

func TestParseWait(t *testing.T) {
	cases := map[string]time.Duration{"": 0, " 250ms ": 250 * time.Millisecond, "2s": 2 * time.Second}
	for input, want := range cases {
		got, err := processors.ParseWait(input)
		if err != nil || got != want {
			t.Fatalf("ParseWait(%q) = %v, %v", input, got, err)
		}
	}
	for _, bad := range []string{"soon", "-1s"} {
		if _, err := processors.ParseWait(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestReportChainWritesReport(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	eng := newEngine(t, cfg, store)
	task := testsupport.NewTask(t, store, "20ms")

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	stored, _ := store.GetByID(context.Background(), task.ID)
	if stored.Stage != "FINISHED" || stored.Status != queue.StatusNormal {
		t.Fatalf("unexpected task state %+v", stored)
	}

	report, err := processors.ReadReport(cfg.Paths.ReportDir, task.ID)
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	if report.TaskID != task.ID || report.Kind != testsupport.ReportKind || report.Payload != "20ms" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Stage != "REPORTS" || report.RunID != "run-1" || report.GeneratedAt.IsZero() {
		t.Fatalf("unexpected report context %+v", report)
	}
}

func TestInvalidPayloadFailsDataStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	eng := newEngine(t, cfg, store)
	task := testsupport.NewTask(t, store, "whenever")

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	stored, _ := store.GetByID(context.Background(), task.ID)
	if stored.Status != queue.StatusError || stored.Stage != "CREATED" || stored.ErrorMessage == "" {
		t.Fatalf("unexpected task state %+v", stored)
	}
	if _, err := os.Stat(processors.ReportPath(cfg.Paths.ReportDir, task.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("report must not be written for a failed task, stat err %v", err)
	}
}

func TestDataProcessorHonoursSuspension(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	reg := processors.NewRegistry()
	reg.Register("data", processors.NewDataProcessor(store, 5*time.Millisecond, nil))
	reg.Register("report", processors.NewReportProcessor(store, cfg.Paths.ReportDir, nil))
	eng, err := engine.New(engine.SyncExecutor{}, store, reg)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	task := testsupport.NewTask(t, store, "1m")

	go func() {
		for !slices.Contains(eng.Running(), task.ID) {
			time.Sleep(time.Millisecond)
		}
		_, _ = eng.Suspend(context.Background(), task.ID)
	}()

	start := time.Now()
	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("suspension was not honoured promptly: %v", elapsed)
	}
	stored, _ := store.GetByID(context.Background(), task.ID)
	if stored.Status != queue.StatusSuspended || stored.Stage != "CREATED" {
		t.Fatalf("unexpected task state %+v", stored)
	}
}

func TestLoadDefinitionsMergesFile(t *testing.T) {
	defs, err := processors.LoadDefinitions("")
	if err != nil {
		t.Fatalf("LoadDefinitions: %v", err)
	}
	if got := defs.Kinds(); !slices.Equal(got, []string{"report", "wait"}) {
		t.Fatalf("unexpected built-in kinds %v", got)
	}

	cfg := testsupport.NewConfig(t, testsupport.WithChainsFile("chains.yaml"))
	path := cfg.Paths.ChainsFile
	doc := `chains:
  report:
    start: NEW
    stages:
      - [WRITING, WRITTEN, report]
  audit:
    start: CREATED
    stages:
      - [AUDITING, AUDITED, data]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	defs, err = processors.LoadDefinitions(path)
	if err != nil {
		t.Fatalf("LoadDefinitions(file): %v", err)
	}
	if got := defs.Kinds(); !slices.Equal(got, []string{"audit", "report", "wait"}) {
		t.Fatalf("unexpected merged kinds %v", got)
	}
	report, _ := defs.Lookup("report")
	if report.Start().Completed() != "NEW" {
		t.Fatalf("file chain should replace the built-in one, got %s", report)
	}

	if _, err := processors.LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing chains file")
	}
}
