package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pratik-mahalle/wsaudit/internal/api/handlers"
	"github.com/pratik-mahalle/wsaudit/internal/api/router"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
	"github.com/pratik-mahalle/wsaudit/internal/repository/sqlstore"
	"github.com/pratik-mahalle/wsaudit/internal/worker"
)

func newServeCmd() *cobra.Command {
	var (
		addr     string
		interval time.Duration
		schedule string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the audit scheduler",
		Long: `Serve the admin HTTP API (health probes, metrics, run history, and
on-demand runs). When an interval or cron schedule is configured, audits run
in the background against the newest snapshot in the spool directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{store: true, notify: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("interval") {
				a.cfg.Audit.Interval = interval
			}
			if cmd.Flags().Changed("schedule") {
				a.cfg.Audit.Schedule = schedule
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			listen := a.cfg.Server.Addr()
			if addr != "" {
				listen = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, a, listen)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides SERVER_HOST/SERVER_PORT)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "audit interval, e.g. 15m")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule, e.g. \"0 * * * *\"")

	return cmd
}

func serve(ctx context.Context, a *app, listen string) error {
	collector := snapshot.NewFileCollector(a.cfg.Audit.SpoolDir)

	h := &router.Handlers{
		Health: handlers.NewHealthHandler(a.db, a.log),
		Report: handlers.NewReportHandler(sqlstore.NewReportRepository(a.db), a.log),
		Alert:  handlers.NewAlertHandler(sqlstore.NewAlertRepository(a.db), a.log),
		Run:    handlers.NewRunHandler(a.service, collector, a.log),
	}

	srv := &http.Server{
		Addr:         listen,
		Handler:      router.New(a.cfg, a.log, h, ctx.Done()),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.WithFields(map[string]interface{}{
			"addr":     listen,
			"channels": len(a.dispatcher.Channels()),
			"rules":    len(a.rules.EnabledRules()),
		}).Info("Admin API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutting down admin API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.cfg.Audit.Interval > 0 || a.cfg.Audit.Schedule != "" {
		scheduler := worker.NewAuditScheduler(a.service, collector, a.cfg.Audit.Interval, a.cfg.Audit.Schedule, a.log)
		g.Go(func() error {
			return scheduler.Start(gctx)
		})
	}

	return g.Wait()
}
