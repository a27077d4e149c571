package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/config"
	"github.com/pasthortown/message-sender/internal/handler"
	"github.com/pasthortown/message-sender/internal/service"
)

const shutdownTimeout = 10 * time.Second

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the ingest and reap loop",
		Long: `Wait for the broker, then repeat forever: drain the queue into the
activity store, delete inactive identities, sleep MONITOR_CYCLE_INTERVAL.

The ops HTTP server (/health, /status, /activities) listens on
SERVICE_HEALTH_CHECK_PORT unless it is set to 0.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, rootOpts)
		},
	}
}

func runMonitor(cmd *cobra.Command, rootOpts *RootOptions) error {
	env, err := loadAppEnv(rootOpts)
	if err != nil {
		return err
	}
	defer env.sync()

	cfg, log := env.cfg, env.log
	log.Info("Starting activity monitor",
		zap.String("environment", cfg.Service.Environment),
		zap.String("broker", cfg.Broker.Driver),
		zap.String("activity_store", cfg.Monitor.ActivityStore))

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close(context.Background())

	broker, err := newBroker(ctx, cfg, log)
	if err != nil {
		return err
	}

	pipeline := newPipeline(cfg, broker, st, log)
	sched := newScheduler(cfg, broker, pipeline, newReaper(cfg, st, false, log), log)

	if cfg.Service.HealthCheckPort != "0" {
		srv := newOpsServer(cfg, service.NewActivityService(broker, log), sched,
			map[string]handler.HealthChecker{"store": st.records, "broker": broker}, log)
		go serveOps(ctx, srv, log)
	}

	if err := sched.Run(ctx); err != nil {
		log.Error("Scheduler error", zap.Error(err))
		return err
	}

	log.Info("Shutting down activity monitor gracefully")
	return nil
}

func newOpsServer(cfg *config.Config, activities service.ActivityServicer, status handler.StatusProvider, checks map[string]handler.HealthChecker, log *zap.Logger) *http.Server {
	if cfg.Service.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	return &http.Server{
		Addr:              ":" + cfg.Service.HealthCheckPort,
		Handler:           handler.NewHandler(activities, status, checks, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serveOps runs srv until ctx is cancelled, then shuts it down.
func serveOps(ctx context.Context, srv *http.Server, log *zap.Logger) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Ops server shutdown error", zap.Error(err))
		}
	}()

	log.Info("Ops server starting", zap.String("address", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Ops server error", zap.Error(err))
	}
}
