// Package worker contains the background worker that runs periodic
// calibration batches and refreshes generation hints. It runs
// independently of HTTP request handling: selection never waits on it,
// and a failed run only means items keep their previous calibration
// until the next cycle.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"examprep/internal/config"
	"examprep/internal/observability"
	"examprep/internal/services"

	"go.opentelemetry.io/otel/attribute"
)

// Status represents the current state of the worker
type Status struct {
	IsRunning       bool      `json:"is_running"`
	IsPaused        bool      `json:"is_paused"`
	CurrentActivity string    `json:"current_activity,omitempty"`
	LastRunStart    time.Time `json:"last_run_start"`
	LastRunFinish   time.Time `json:"last_run_finish"`
	LastRunError    string    `json:"last_run_error,omitempty"`
	NextRun         time.Time `json:"next_run"`
}

// RunRecord tracks one completed worker cycle
type RunRecord struct {
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	Duration        time.Duration `json:"duration"`
	Status          string        `json:"status"` // Success, Failure
	Details         string        `json:"details"`
	ItemsCalibrated int           `json:"items_calibrated"`
	HintsRefreshed  int           `json:"hints_refreshed"`
	HintsPruned     int           `json:"hints_pruned"`
}

// Worker runs calibration and hint maintenance on a fixed interval
type Worker struct {
	calibration services.CalibrationServiceInterface
	hints       services.GenerationHintServiceInterface
	ledger      services.ResponseLedger
	instance    string
	cfg         *config.Config
	logger      *observability.Logger

	mu            sync.RWMutex
	status        Status
	history       []RunRecord
	manualTrigger chan bool

	timeNow func() time.Time
}

// NewWorker creates a new background worker instance
func NewWorker(
	calibration services.CalibrationServiceInterface,
	hints services.GenerationHintServiceInterface,
	ledger services.ResponseLedger,
	instance string,
	cfg *config.Config,
	logger *observability.Logger,
) *Worker {
	return &Worker{
		calibration:   calibration,
		hints:         hints,
		ledger:        ledger,
		instance:      instance,
		cfg:           cfg,
		logger:        logger,
		manualTrigger: make(chan bool, 1),
		timeNow:       time.Now,
	}
}

// Start runs the worker loop until the context is canceled
func (w *Worker) Start(ctx context.Context) {
	w.setRunning(true)
	defer w.setRunning(false)

	go w.heartbeatLoop(ctx)

	ticker := time.NewTicker(w.cfg.Engine.Worker.RunInterval)
	defer ticker.Stop()

	w.logger.Info(ctx, "Worker started", map[string]interface{}{
		"instance":     w.instance,
		"run_interval": w.cfg.Engine.Worker.RunInterval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "Worker shutting down", map[string]interface{}{
				"instance": w.instance,
			})
			return

		case <-ticker.C:
			w.run()

		case <-w.manualTrigger:
			w.logger.Info(ctx, "Worker triggered manually", map[string]interface{}{
				"instance": w.instance,
			})
			w.run()
		}
	}
}

// TriggerRun requests an immediate cycle. Returns false when a trigger is
// already pending.
func (w *Worker) TriggerRun() bool {
	select {
	case w.manualTrigger <- true:
		return true
	default:
		return false
	}
}

// Pause stops future cycles; the current cycle finishes normally
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.IsPaused = true
}

// Resume re-enables cycles
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.IsPaused = false
}

// GetStatus returns a snapshot of the worker status
func (w *Worker) GetStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// GetHistory returns the retained run records, most recent last
func (w *Worker) GetHistory() []RunRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]RunRecord, len(w.history))
	copy(out, w.history)
	return out
}

// run executes a single worker cycle
func (w *Worker) run() {
	ctx, span := observability.TraceWorkerFunction(context.Background(), "run",
		attribute.String("worker.instance", w.instance),
	)
	defer observability.FinishSpan(span, nil)

	if w.isPaused() {
		span.SetAttributes(attribute.String("pause_reason", "worker paused"))
		w.updateActivity("paused")
		return
	}

	start := w.timeNow()
	w.mu.Lock()
	w.status.LastRunStart = start
	w.status.CurrentActivity = "calibrating"
	w.mu.Unlock()

	record := RunRecord{StartTime: start, Status: "Success"}

	records, err := w.calibration.CalibrateBatch(ctx, nil)
	if err != nil {
		w.logger.Error(ctx, "Calibration batch failed", err, map[string]interface{}{
			"instance": w.instance,
		})
		record.Status = "Failure"
		record.Details = err.Error()
	} else {
		record.ItemsCalibrated = len(records)
	}

	w.updateActivity("refreshing hints")
	refreshed, hintErr := w.refreshHints(ctx)
	record.HintsRefreshed = refreshed
	if hintErr != nil && record.Status == "Success" {
		record.Status = "Failure"
		record.Details = hintErr.Error()
	}

	pruned, pruneErr := w.hints.PruneExpired(ctx)
	if pruneErr != nil {
		w.logger.Error(ctx, "Hint pruning failed", pruneErr, map[string]interface{}{
			"instance": w.instance,
		})
	}
	record.HintsPruned = pruned

	finish := w.timeNow()
	record.EndTime = finish
	record.Duration = finish.Sub(record.StartTime)

	w.mu.Lock()
	w.status.LastRunFinish = finish
	w.status.NextRun = finish.Add(w.cfg.Engine.Worker.RunInterval)
	w.status.CurrentActivity = ""
	if record.Status == "Failure" {
		w.status.LastRunError = record.Details
	} else {
		w.status.LastRunError = ""
	}
	w.history = append(w.history, record)
	if len(w.history) > w.cfg.Engine.Worker.MaxRunHistory {
		w.history = w.history[len(w.history)-w.cfg.Engine.Worker.MaxRunHistory:]
	}
	w.mu.Unlock()

	span.SetAttributes(
		attribute.Int("worker.items_calibrated", record.ItemsCalibrated),
		attribute.Int("worker.hints_refreshed", record.HintsRefreshed),
	)
	w.logger.Info(ctx, "Worker run finished", map[string]interface{}{
		"instance":         w.instance,
		"status":           record.Status,
		"items_calibrated": record.ItemsCalibrated,
		"hints_refreshed":  record.HintsRefreshed,
		"hints_pruned":     record.HintsPruned,
		"duration_ms":      record.Duration.Milliseconds(),
	})
}

// refreshHints recomputes hints for learners active since the previous
// cycle. Per-learner failures are logged and skipped.
func (w *Worker) refreshHints(ctx context.Context) (int, error) {
	since := w.timeNow().Add(-2 * w.cfg.Engine.Worker.RunInterval)
	learners, err := w.ledger.GetActiveLearners(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("listing active learners: %w", err)
	}

	refreshed := 0
	for _, learnerID := range learners {
		if _, err := w.hints.RefreshHints(ctx, learnerID); err != nil {
			w.logger.Error(ctx, "Failed to refresh hints, continuing", err, map[string]interface{}{
				"learner_id": learnerID,
			})
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Engine.Worker.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := w.GetStatus()
			w.logger.Debug(ctx, "Worker heartbeat", map[string]interface{}{
				"instance": w.instance,
				"paused":   status.IsPaused,
				"activity": status.CurrentActivity,
			})
		}
	}
}

func (w *Worker) isPaused() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status.IsPaused
}

func (w *Worker) setRunning(running bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.IsRunning = running
}

func (w *Worker) updateActivity(activity string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.CurrentActivity = activity
}
