package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const leaseRetryDelay = 250 * time.Millisecond

// Lease is an exclusive claim on a device shared by runs on the same host.
type Lease struct {
	kind Kind
	path string
	lock *flock.Flock
}

// Acquire blocks until the device lock under dir is held or ctx ends.
func Acquire(ctx context.Context, dir string, kind Kind) (*Lease, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("device-%s.lock", kind))
	lock := flock.New(path)
	ok, err := lock.TryLockContext(ctx, leaseRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquire %s lease: %w", kind, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire %s lease: lock held", kind)
	}
	return &Lease{kind: kind, path: path, lock: lock}, nil
}

// TryAcquire takes the device lock without waiting. ok is false when another
// run holds it.
func TryAcquire(dir string, kind Kind) (*Lease, bool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create lock directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("device-%s.lock", kind))
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s lease: %w", kind, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{kind: kind, path: path, lock: lock}, true, nil
}

// Release drops the lease. It is safe on a nil lease.
func (l *Lease) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release %s lease %s: %w", l.kind, l.path, err)
	}
	return nil
}
