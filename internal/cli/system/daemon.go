package system

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julianstephens/habitgarden/internal/cli"
	"github.com/julianstephens/habitgarden/internal/lockfile"
	"github.com/julianstephens/habitgarden/internal/logger"
	"github.com/julianstephens/habitgarden/internal/metrics"
	"github.com/julianstephens/habitgarden/internal/syncservice"
)

// DaemonCmd keeps the cache in sync in the background until interrupted
type DaemonCmd struct {
	Metrics    string `help:"Serve Prometheus metrics on this address (overrides metrics.addr)."`
	Foreground bool   `help:"Log to stderr instead of the log file."`
}

func (c *DaemonCmd) Run(ctx *cli.Context) error {
	cfg, err := ctx.Config()
	if err != nil {
		return err
	}
	if c.Foreground {
		logger.InitWriter(os.Stderr, logger.LevelFor(ctx.Debug))
	} else if err := logger.Init(logger.Config{Debug: ctx.Debug, ConfigDir: cfg.Dir, File: logger.DaemonFile}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open daemon log: %v\n", err)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := ctx.Open(sigCtx)
	if err != nil {
		return err
	}
	defer sess.Close()

	addr := c.Metrics
	if addr == "" {
		addr = sess.Config.Metrics.Addr
	}
	lock, err := lockfile.Acquire(lockfile.Path(sess.Config.Dir), addr)
	if err != nil {
		return err
	}
	defer lock.Release()

	if addr != "" {
		server := metrics.SetupMetricsEndpoint(addr)
		logger.Info("Serving metrics", "addr", addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics endpoint shutdown failed", "error", err)
			}
		}()
	}

	if err := sess.Service.Start(sigCtx); err != nil {
		return err
	}
	logger.Info("Daemon started", "user", sess.Config.UserID)
	fmt.Println("habitgarden daemon running, press Ctrl+C to stop")

	events := sess.Service.Subscribe(sigCtx)
	for {
		select {
		case <-sigCtx.Done():
			logger.Info("Daemon stopping")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == syncservice.EventSynced {
				st := sess.Service.Status()
				logger.Debug("Sync pass finished", "pending", st.Pending, "failed", len(st.Failed))
			}
		}
	}
}
