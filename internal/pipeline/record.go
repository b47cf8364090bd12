package pipeline

import (
	"context"
	"log/slog"
	"time"

	"avatarreel/internal/artifact"
	"avatarreel/internal/history"
	"avatarreel/internal/logging"
	"avatarreel/internal/services"
)

func (o *Orchestrator) recordStart(ctx context.Context, logger *slog.Logger, state *run, started time.Time) {
	if o.recorder == nil {
		return
	}
	pc := state.pc
	entry := &history.Run{
		RunID:          state.id,
		Engine:         string(pc.Engine),
		Device:         string(pc.Device),
		Matting:        string(pc.Matting),
		AvatarPath:     pc.Avatar.Path,
		AudioPath:      pc.AudioPath,
		BackgroundPath: pc.Background.Path,
		Workdir:        state.workdir,
		StartedAt:      started,
	}
	if err := o.recorder.Start(ctx, entry); err != nil {
		logger.Warn("run history start not recorded", logging.Error(err))
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, logger *slog.Logger, state *run, result artifact.RunResult, runErr error) {
	if o.recorder == nil {
		return
	}
	entry := &history.Run{
		RunID:         state.id,
		Status:        history.StatusSucceeded,
		Engine:        string(result.Engine),
		Device:        string(result.Device),
		Matting:       string(result.Matting),
		AudioPath:     state.audio.Path,
		OutputPath:    result.OutputPath,
		Workdir:       state.workdir,
		Frames:        result.Frames,
		FPS:           result.FPS,
		MediaDuration: result.MediaDuration,
		SizeBytes:     result.SizeBytes,
		Stages:        result.Stages,
		StartedAt:     result.Started,
		FinishedAt:    result.Started.Add(result.Duration),
	}
	if entry.AudioPath == "" {
		entry.AudioPath = state.pc.AudioPath
	}
	if runErr != nil {
		details := services.Details(runErr)
		entry.Status = history.StatusFailed
		entry.FailedStage = details.Stage
		entry.ErrorKind = details.Kind
		entry.ErrorMessage = runErr.Error()
	}
	if err := o.recorder.Finish(ctx, entry); err != nil {
		logger.Warn("run history outcome not recorded", logging.Error(err))
	}
}
