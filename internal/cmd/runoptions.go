// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/logger"
	"github.com/mia-platform/tallysync/internal/server"
)

const (
	runLoggerName          = "tallysync:run"
	defaultShutdownTimeout = 30 * time.Second
)

// serverGetter builds the HTTP server serving deps.
type serverGetter func(ctx context.Context, deps server.Dependencies) (server.Server, error)

// runFlags holds the flags for the "run" command.
type runFlags struct{}

// toOptions converts the run flags to runOptions.
func (f *runFlags) toOptions() *runOptions {
	return &runOptions{
		querier:         tallyQuerier,
		server:          server.NewServer,
		shutdownTimeout: defaultShutdownTimeout,
	}
}

// runOptions holds the options set for the current run function.
type runOptions struct {
	querier         querierGetter
	server          serverGetter
	shutdownTimeout time.Duration

	lock sync.Mutex
}

// execute serves the API and runs the scheduler until ctx is done or a termination signal arrives.
func (o *runOptions) execute(ctx context.Context) error {
	if !o.lock.TryLock() {
		return nil
	}
	defer o.lock.Unlock()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.FromContext(ctx).WithName(runLoggerName)

	cfg, err := config.LoadSync()
	if err != nil {
		return err
	}
	if len(cfg.Tenants) == 0 {
		log.Warn("no tenant configured, only manual syncs naming a tenant will run")
	}

	app, err := newApplication(ctx, cfg, wiring{querier: o.querier})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.close(); err != nil {
			log.Warn("closing database", "error", err)
		}
	}()

	srv, err := o.server(ctx, app.dependencies())
	if err != nil {
		return err
	}

	app.orchestrator.Start(ctx)
	srv.StartAsync(ctx)
	log.Info("service started", "tenants", cfg.Tenants)

	<-ctx.Done()
	log.Info("shutting down, waiting for the sync in flight")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.shutdownTimeout)
	defer cancel()
	return errors.Join(srv.Stop(), app.orchestrator.Shutdown(shutdownCtx))
}
