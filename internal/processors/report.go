package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stagewise/internal/engine"
	"stagewise/internal/fileutil"
	"stagewise/internal/logging"
	"stagewise/internal/services"
)

// Report is the document ReportProcessor writes for a task.
type Report struct {
	TaskID      int64     `json:"task_id"`
	Kind        string    `json:"kind"`
	Payload     string    `json:"payload,omitempty"`
	Stage       string    `json:"stage"`
	RunID       string    `json:"run_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ReportProcessor writes one JSON report per task into a directory. Its
// before hook creates the directory and its after hook logs the written
// file with its checksum.
type ReportProcessor struct {
	tasks  TaskLookup
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewReportProcessor builds a ReportProcessor writing into dir.
func NewReportProcessor(tasks TaskLookup, dir string, logger *slog.Logger) *ReportProcessor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ReportProcessor{tasks: tasks, dir: dir, logger: logger, now: time.Now}
}

// ReportPath returns where the report for taskID is written inside dir.
func ReportPath(dir string, taskID int64) string {
	return filepath.Join(dir, fmt.Sprintf("task-%d.json", taskID))
}

func (p *ReportProcessor) Process(ctx context.Context, taskID int64, cp engine.Checkpoint) error {
	stage, _ := services.StageFromContext(ctx)
	task, err := loadTask(ctx, p.tasks, stage, taskID)
	if err != nil {
		return err
	}
	if err := cp.Check(); err != nil {
		return err
	}
	runID, _ := services.RequestIDFromContext(ctx)
	report := Report{
		TaskID:      task.ID,
		Kind:        task.Kind,
		Payload:     task.Payload,
		Stage:       stage,
		RunID:       runID,
		CreatedAt:   task.CreatedAt,
		GeneratedAt: p.now().UTC(),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrValidation, stage, "encode report", "Report could not be encoded", err)
	}
	if err := fileutil.WriteFileAtomic(ReportPath(p.dir, taskID), append(data, '\n'), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, stage, "write report",
			"Report file could not be written; check report_dir permissions", err)
	}
	return nil
}

func (p *ReportProcessor) BeforeHooks() []engine.Hook {
	return []engine.Hook{engine.HookFunc(p.ensureDir)}
}

func (p *ReportProcessor) AfterHooks() []engine.Hook {
	return []engine.Hook{engine.HookFunc(p.logReport)}
}

func (p *ReportProcessor) ensureDir(context.Context, int64) error {
	if strings.TrimSpace(p.dir) == "" {
		return fmt.Errorf("%w: report directory not configured", services.ErrConfiguration)
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	return nil
}

func (p *ReportProcessor) logReport(ctx context.Context, taskID int64) error {
	path := ReportPath(p.dir, taskID)
	sum, size, err := fileutil.Checksum(path)
	if err != nil {
		return fmt.Errorf("inspect report %s: %w", path, err)
	}
	logging.WithContext(ctx, p.logger).Info("report written",
		logging.String("path", path),
		logging.String("sha256", sum),
		logging.Int64("bytes", size),
		logging.String(logging.FieldEventType, "report_written"),
	)
	return nil
}

// HealthCheck reports whether the report directory is usable.
func (p *ReportProcessor) HealthCheck(context.Context) Health {
	if strings.TrimSpace(p.dir) == "" {
		return Unhealthy("report", "report_dir not configured")
	}
	info, err := os.Stat(p.dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Health{Name: "report", Ready: true, Detail: "created on first report"}
	case err != nil:
		return Unhealthy("report", err.Error())
	case !info.IsDir():
		return Unhealthy("report", p.dir+" is not a directory")
	}
	return Healthy("report")
}

// ReadReport loads a report written by ReportProcessor.
func ReadReport(dir string, taskID int64) (Report, error) {
	var report Report
	data, err := os.ReadFile(ReportPath(dir, taskID))
	if err != nil {
		return report, err
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}
