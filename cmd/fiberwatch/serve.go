package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/fiberwatch/internal/observability/prometheus"
	"github.com/steveyegge/fiberwatch/internal/sched"
	"github.com/steveyegge/fiberwatch/internal/types"
	"github.com/steveyegge/fiberwatch/internal/watchdog"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the watchdog with metrics and health endpoints",
	Long: `Run the watchdog service and expose its operational surface over HTTP:

  /metrics  Prometheus collectors (monitored fibers, anomalies, reaps, lag)
  /live     process liveness
  /ready    readiness, gated on reaper freshness

The process shuts down cleanly on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadWatchdogConfig()
		if err != nil {
			return err
		}
		st, err := openRegistryStore()
		if err != nil {
			return err
		}
		defer st.Close()

		exporter, err := prometheus.NewExporter("fiberwatch", nil)
		if err != nil {
			return err
		}

		runtime := sched.NewRuntime()
		svc, err := watchdog.New(&watchdog.Deps{
			Scheduler:  runtime,
			Store:      st,
			ServiceID:  serviceID,
			Generation: types.Generation(generation),
			Config:     cfg,
			Metrics:    exporter,
		})
		if err != nil {
			return err
		}
		svc.OnEvent(alertPrinter())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.Start(ctx); err != nil {
			return err
		}

		var current atomic.Pointer[watchdog.Service]
		current.Store(svc)
		spawnDemoFibers(ctx, runtime, &current)

		health := healthcheck.NewHandler()
		health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
		health.AddReadinessCheck("reaper", reaperFreshness(svc, cfg))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/live", health.LiveEndpoint)
		mux.HandleFunc("/ready", health.ReadyEndpoint)

		server := &http.Server{Addr: serveAddr, Handler: mux}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			// Periodic evaluation feeds the metrics and performs the reaper
			// handshake for clean dead entries.
			ticker := time.NewTicker(cfg.Period)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					svc.PS(gctx)
				}
			}
		})
		g.Go(func() error {
			fmt.Printf("fiberwatch: serving on %s\n", serveAddr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := server.Shutdown(shutdownCtx)
			svc.Stop()
			runtime.Wait()
			return err
		})
		return g.Wait()
	},
}

// reaperFreshness fails readiness when the reaper has not completed a pass
// within three periods. A startup window of one period is allowed before the
// first pass is required.
func reaperFreshness(svc *watchdog.Service, cfg *watchdog.Config) healthcheck.Check {
	started := time.Now()
	return func() error {
		last := svc.LastReap()
		if last.IsZero() {
			if time.Since(started) < cfg.Period {
				return nil
			}
			return fmt.Errorf("reaper has not completed a pass")
		}
		if age := time.Since(last); age > 3*cfg.Period {
			return fmt.Errorf("last reaper pass was %v ago", age)
		}
		return nil
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":9464", "HTTP listen address")
	rootCmd.AddCommand(serveCmd)
}
