package serverrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	cfgpkg "github.com/rzbill/maestro/internal/config"
	"github.com/rzbill/maestro/internal/lifecycle"
	"github.com/rzbill/maestro/internal/prereq"
	"github.com/rzbill/maestro/internal/runtime"
	grpcserver "github.com/rzbill/maestro/internal/server/grpc"
	httpserver "github.com/rzbill/maestro/internal/server/http"
	"github.com/rzbill/maestro/internal/statestore"
	"github.com/rzbill/maestro/internal/workitem"
	logpkg "github.com/rzbill/maestro/pkg/log"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Config cfgpkg.Config
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Register adds application processors before consumption starts.
	Register func(*workitem.Registry) error
	// Store overrides the configured state store backend.
	Store statestore.Store
	// HTTPListener and GRPCListener override the configured addresses.
	HTTPListener net.Listener
	GRPCListener net.Listener
}

// Run starts one replica and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives. Shutdown drains in-flight work, waiting up to
// Config.ShutdownTimeout for the replica to reach Stopped, before the
// consumers and servers are stopped.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(&cfg.Log)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		logger = l
		if bl, ok := l.(*logpkg.BaseLogger); ok {
			slog.SetDefault(bl.Slog())
		}
		// pebble logs through the standard logger; SetDefault above also
		// rewires it, so this must come after
		logpkg.RedirectStdLog(logger)
	}

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: logger, Store: opts.Store})
	if err != nil {
		return err
	}
	defer rt.Close()

	if opts.Register != nil {
		if err := opts.Register(rt.Registry()); err != nil {
			return fmt.Errorf("register processors: %w", err)
		}
	}
	checks, err := buildChecks(cfg)
	if err != nil {
		return err
	}

	logger.Info("starting maestro",
		logpkg.Str("replica", cfg.Replica),
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("grpc", cfg.GRPCAddr),
		logpkg.Str("state", rt.Manager().State().String()),
		logpkg.Str("types", fmt.Sprint(rt.Registry().Types())))

	// consumers and servers outlive the signal so a drain can finish
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	g, gctx := errgroup.WithContext(workCtx)

	hsrv := httpserver.New(rt, logger)
	gsrv := grpcserver.New(rt, []grpcserver.Option{grpcserver.WithLogger(logger)})
	pool := rt.NewPool()

	g.Go(func() error { return rt.Publisher().Run(gctx) })
	g.Go(func() error { return rt.Recorder().Run(gctx) })
	g.Go(func() error {
		if opts.HTTPListener != nil {
			return hsrv.Serve(gctx, opts.HTTPListener)
		}
		return hsrv.ListenAndServe(gctx, cfg.HTTPAddr)
	})
	g.Go(func() error {
		if opts.GRPCListener != nil {
			return gsrv.Serve(gctx, opts.GRPCListener)
		}
		return gsrv.ListenAndServe(gctx, cfg.GRPCAddr)
	})
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return initialize(gctx, rt, logger, checks) })

	select {
	case <-sctx.Done():
	case <-gctx.Done():
	}
	shutdown(rt, logger)
	cancelWork()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("maestro stopped", logpkg.Str("replica", cfg.Replica))
	return nil
}

func buildChecks(cfg cfgpkg.Config) ([]prereq.Check, error) {
	checks := []prereq.Check{prereq.DirReady(cfg.DataDir)}
	if cfg.Prereq.MinFreeDisk != "" {
		c, err := prereq.FreeDisk(cfg.DataDir, cfg.Prereq.MinFreeDisk)
		if err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	if cfg.Prereq.MirrorDir != "" {
		checks = append(checks, prereq.DirReady(cfg.Prereq.MirrorDir))
	}
	return checks, nil
}

// initialize runs the prerequisites and then opens the gate. A replica
// configured to start stopped skips the transition and waits for an
// operator start.
func initialize(ctx context.Context, rt *runtime.Runtime, logger logpkg.Logger, checks []prereq.Check) error {
	if err := prereq.Run(ctx, logger, rt.Config().Prereq.RetryInterval, checks...); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	m := rt.Manager()
	if m.State() != lifecycle.Initializing {
		logger.Info("prerequisites ready, replica not initializing", logpkg.Str("state", m.State().String()))
		return nil
	}
	if err := m.InitializationFinished(); err != nil {
		return err
	}
	logger.Info("replica initialized")
	return nil
}

// shutdown requests a drain and waits for Stopped.
func shutdown(rt *runtime.Runtime, logger logpkg.Logger) {
	m := rt.Manager()
	m.RequestDrain()
	snap := m.Snapshot()
	if snap.State != lifecycle.Stopping {
		logger.Info("shutdown requested", logpkg.Str("state", snap.State.String()))
		return
	}
	timeout := rt.Config().ShutdownTimeout
	logger.Info("draining", logpkg.Int("in_flight", snap.InFlight), logpkg.Dur("timeout", timeout))
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := m.WaitForState(ctx, lifecycle.Stopped); err != nil {
		logger.Warn("drain did not complete before timeout",
			logpkg.Int("in_flight", m.InFlight()), logpkg.Err(err))
		return
	}
	logger.Info("drained")
}
