package app

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandcmd/internal/pipeline"
	"github.com/michaelbrown/sandcmd/internal/storage"
)

// startRecord creates the history entry for req, assigning its ID. History
// failures are logged and never fail the run.
func (a *App) startRecord(ctx context.Context, req *pipeline.Request) *storage.Run {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if a.store == nil {
		return nil
	}

	image := req.Image
	if image == "" {
		image = a.image
	}
	rec := &storage.Run{
		ID:          req.ID,
		Status:      storage.StatusRunning,
		State:       string(pipeline.StateInit),
		Instruction: req.Instruction,
		Provider:    a.provider,
		Model:       a.model,
		Image:       image,
	}
	if err := a.store.CreateRun(context.WithoutCancel(ctx), rec); err != nil {
		a.logger.Warn("recording run failed", zap.String("run_id", req.ID), zap.Error(err))
		return nil
	}
	return rec
}

func (a *App) finishRecord(ctx context.Context, rec *storage.Run, res *pipeline.Result) {
	if rec == nil || res == nil {
		return
	}
	applyResult(rec, res)
	if err := a.store.UpdateRun(context.WithoutCancel(ctx), rec); err != nil {
		a.logger.Warn("updating run record failed", zap.String("run_id", rec.ID), zap.Error(err))
	}
}

// applyResult copies pipeline output into a history record.
func applyResult(rec *storage.Run, res *pipeline.Result) {
	rec.State = string(res.State)
	rec.Command = res.Command
	rec.Explanation = res.Explanation
	rec.Error = res.Error
	rec.Image = res.Image
	if res.Exec != nil {
		code := res.Exec.ExitCode
		rec.ExitCode = &code
		rec.Output = res.Exec.Output
	}
	if res.State == pipeline.StateDone {
		rec.Status = storage.StatusCompleted
	} else {
		rec.Status = storage.StatusFailed
	}
}
