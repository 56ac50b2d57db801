package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/frameforge/internal/auth"
	"github.com/zulandar/frameforge/internal/eventlog"
	"github.com/zulandar/frameforge/internal/logger"
	"github.com/zulandar/frameforge/internal/maintenance"
	"github.com/zulandar/frameforge/internal/panel"
	"github.com/zulandar/frameforge/internal/supervisor"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor and panel API",
		Long: `Migrates the database, resumes every automaton marked to run and serves
the panel API until interrupted. On shutdown all workers are stopped but
keep their desired state, so the next start resumes them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Frameforge config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Log

	if _, err := prepare(gormDB); err != nil {
		return err
	}
	reg, err := registry()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, gormDB)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var feed eventlog.Feed
	if cfg.Redis.Addr != "" {
		rf, err := eventlog.NewRedisFeed(ctx, cfg.Redis, log.Named("redis"))
		if err != nil {
			return err
		}
		defer rf.Close()
		feed = rf
		fmt.Fprintf(out, "Live log feed on redis %s (%s)\n", cfg.Redis.Addr, cfg.Redis.Channel)
	}
	events := eventlog.New(eventlog.Opts{DB: gormDB, Logger: log.Named("events"), Feed: feed})

	sup, err := supervisor.New(supervisor.Opts{
		Store:               st,
		Events:              events,
		Registry:            reg,
		ConfigSource:        st,
		ShutdownTimeout:     cfg.Supervisor.ShutdownTimeout(),
		GearShutdownTimeout: cfg.Supervisor.GearShutdownTimeout(),
		BaselineCommand:     cfg.Supervisor.BaselineCommand,
		Logger:              log.Named("supervisor"),
		BaseContext:         ctx,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Supervisor.ShutdownTimeout()+time.Second)
		defer done()
		sup.Shutdown(shutdownCtx)
		fmt.Fprintln(out, "All automatons stopped")
	}()

	report := sup.Resume(ctx)
	fmt.Fprintf(out, "Resumed %d automatons\n", len(report.Started))
	failed := make([]string, 0, len(report.Failed))
	for id := range report.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		fmt.Fprintf(out, "  failed %s: %s\n", id, report.Failed[id])
	}

	sessions := auth.NewSessions(gormDB, cfg.Security.SessionTTL())
	maint, err := maintenance.New(maintenance.Opts{
		DB:        gormDB,
		Sessions:  sessions,
		Schedule:  cfg.Maintenance.Cron,
		Retention: cfg.Maintenance.LogRetention(),
		Logger:    log.Named("maintenance"),
	})
	if err != nil {
		return err
	}
	go maint.Run(ctx)

	log.Info("frameforge starting",
		zap.String("version", Version),
		zap.Int("gears", len(reg.Manifests())),
		zap.Int("resumed", len(report.Started)))

	return panel.Start(ctx, panel.Opts{
		Store:      st,
		Supervisor: sup,
		Sessions:   sessions,
		Events:     events,
		Server:     cfg.Server,
		Logger:     log.Named("panel"),
		Out:        out,
	})
}
