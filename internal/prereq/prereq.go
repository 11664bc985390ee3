// Package prereq holds the preparation a replica completes before it admits
// work, such as making sure its working directory exists and has room.
package prereq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	logpkg "github.com/rzbill/maestro/pkg/log"
	"github.com/shirou/gopsutil/v4/disk"
)

// DefaultRetryInterval is the pause between failed attempts in Run.
const DefaultRetryInterval = 2 * time.Second

// Check is one prerequisite. Check must be safe to call repeatedly.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c checkFunc) Name() string                    { return c.name }
func (c checkFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// Func adapts fn into a Check.
func Func(name string, fn func(ctx context.Context) error) Check {
	return checkFunc{name: name, fn: fn}
}

// Run executes checks in order, retrying each failing one every interval
// until it passes or ctx ends.
func Run(ctx context.Context, logger logpkg.Logger, interval time.Duration, checks ...Check) error {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	logger = logger.With(logpkg.Component("prereq"))
	for _, c := range checks {
		start := time.Now()
		for attempt := 1; ; attempt++ {
			err := c.Check(ctx)
			if err == nil {
				logger.Info("prerequisite ready", logpkg.Str("check", c.Name()), logpkg.Dur("elapsed", time.Since(start)))
				break
			}
			if ctx.Err() != nil {
				return fmt.Errorf("prerequisite %s: %w", c.Name(), ctx.Err())
			}
			logger.Warn("prerequisite not ready, retrying",
				logpkg.Str("check", c.Name()), logpkg.Int("attempt", attempt), logpkg.Err(err))
			t := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("prerequisite %s: %w", c.Name(), ctx.Err())
			case <-t.C:
			}
		}
	}
	return nil
}

// DirReady creates dir if needed and verifies it is writable.
func DirReady(dir string) Check {
	return Func("dir:"+dir, func(context.Context) error {
		if dir == "" {
			return errors.New("empty directory path")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		f, err := os.CreateTemp(dir, ".maestro-probe-*")
		if err != nil {
			return fmt.Errorf("directory not writable: %w", err)
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(filepath.Clean(name))
	})
}

// ErrInsufficientDisk is returned by FreeDisk when free space is below the minimum.
var ErrInsufficientDisk = errors.New("insufficient free disk space")

// FreeDisk requires at least minFree (a humanized size such as "512MiB")
// free on the filesystem holding path. An empty or zero minFree always passes.
func FreeDisk(path, minFree string) (Check, error) {
	var need uint64
	if minFree != "" {
		n, err := humanize.ParseBytes(minFree)
		if err != nil {
			return nil, fmt.Errorf("parse minimum free disk %q: %w", minFree, err)
		}
		need = n
	}
	return Func("disk:"+path, func(ctx context.Context) error {
		if need == 0 {
			return nil
		}
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return err
		}
		if usage.Free < need {
			return fmt.Errorf("%w: %s free on %s, need %s", ErrInsufficientDisk,
				humanize.IBytes(usage.Free), path, humanize.IBytes(need))
		}
		return nil
	}), nil
}
