package pipeline

import (
	"context"
	"log/slog"
	"time"

	"avatarreel/internal/device"
	"avatarreel/internal/logging"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

type releaser interface {
	Release() error
}

type leaseFunc func(ctx context.Context, dir string, kind device.Kind) (releaser, error)

func acquireLease(ctx context.Context, dir string, kind device.Kind) (releaser, error) {
	lease, ok, err := device.TryAcquire(dir, kind)
	if err != nil {
		return nil, err
	}
	if ok {
		return lease, nil
	}
	lease, err = device.Acquire(ctx, dir, kind)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// holdLease takes the exclusive device lease when configured. It is held
// through the Matte stage and released before compositing.
func (o *Orchestrator) holdLease(ctx context.Context, logger *slog.Logger, state *run) error {
	if !o.cfg.Device.ExclusiveLease || state.leaseHeld != nil {
		return nil
	}
	started := time.Now()
	logger.Info("acquiring device lease", logging.String("device", string(state.pc.Device)))
	lease, err := o.lease(ctx, o.cfg.LockDir(), state.pc.Device)
	if err != nil {
		return services.Wrap(services.ErrDeviceUnavailable, string(stage.Animate), "acquire device lease",
			"device "+string(state.pc.Device)+" is held by another run", err)
	}
	state.leaseHeld = lease
	logger.Info("device lease acquired",
		logging.String("device", string(state.pc.Device)),
		logging.Duration("waited", time.Since(started)),
	)
	return nil
}

func (r *run) releaseLease(logger *slog.Logger) {
	if r.leaseHeld == nil {
		return
	}
	if err := r.leaseHeld.Release(); err != nil {
		logger.Warn("device lease release failed", logging.Error(err))
	}
	r.leaseHeld = nil
}
