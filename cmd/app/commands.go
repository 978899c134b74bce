package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"raffle-ledger-backend/internal/common/logger"
	"raffle-ledger-backend/internal/common/middleware"
	"raffle-ledger-backend/internal/workers"
)

const shutdownTimeout = 30 * time.Second

func serve(c *cli.Context) error {
	s, err := newSrv(c)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := s.scheduler()
	sched.Start(ctx)
	defer sched.Stop()

	if w := s.streamWorker(); w != nil {
		w.HandleAll(workers.InvalidateCache(s.cache, middleware.ResponseCacheKeyPrefix))
		go w.Start(ctx)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", s.cfg.Server.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	logger.Info().Msg("Server exited")
	return nil
}

func work(c *cli.Context) error {
	s, err := newSrv(c)
	if err != nil {
		return err
	}
	defer s.close()

	w := s.streamWorker()
	if w == nil {
		return errors.New("worker needs the redis storage driver")
	}
	w.HandleAll(workers.InvalidateCache(s.cache, middleware.ResponseCacheKeyPrefix))

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := s.scheduler()
	sched.Start(ctx)
	defer sched.Stop()

	w.Start(ctx)
	return nil
}

func sweep(c *cli.Context) error {
	s, err := newSrv(c)
	if err != nil {
		return err
	}
	defer s.close()

	return s.scheduler().RunOnce(c.Context)
}
