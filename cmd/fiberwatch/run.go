package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/fiberwatch/internal/sched"
	"github.com/steveyegge/fiberwatch/internal/types"
	"github.com/steveyegge/fiberwatch/internal/watchdog"
)

var (
	runDuration    time.Duration
	runReloadAfter time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a demo fiber host with the watchdog attached",
	Long: `Run a simulated fiber host with a handful of demo fibers: a healthy
worker that beats, a sleeper that goes comatose, a short batch job that
completes and gets reaped, and an unmonitored rogue. The process table is
printed every few seconds.

With --reload-after the host simulates a hot reload: the service is torn
down and rebuilt at the next generation over the same registry store, which
demotes the previous generation's permanent entries to temporary ones with
a grace period.`,
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

		runtime := sched.NewRuntime()
		var current atomic.Pointer[watchdog.Service]

		newService := func(gen types.Generation) (*watchdog.Service, error) {
			svc, err := watchdog.New(&watchdog.Deps{
				Scheduler:  runtime,
				Store:      st,
				ServiceID:  serviceID,
				Generation: gen,
				Config:     cfg,
			})
			if err != nil {
				return nil, err
			}
			svc.OnEvent(alertPrinter())
			return svc, nil
		}

		svc, err := newService(types.Generation(generation))
		if err != nil {
			return err
		}
		current.Store(svc)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if err := svc.Start(ctx); err != nil {
			return err
		}
		spawnDemoFibers(ctx, runtime, &current)

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		deadline := time.After(runDuration)

		var reload <-chan time.Time
		if runReloadAfter > 0 {
			timer := time.NewTimer(runReloadAfter)
			defer timer.Stop()
			reload = timer.C
		}

		for {
			select {
			case <-ticker.C:
				active := current.Load()
				// The machine-mode pass marks clean dead entries for the
				// reaper; the table pass is read-only.
				active.PS(ctx)
				fmt.Printf("\n%s\n", cyan(fmt.Sprintf("=== fibers (generation %d) ===", active.Generation())))
				for _, line := range active.PSTable(ctx) {
					fmt.Println(line)
				}

			case <-reload:
				old := current.Load()
				fmt.Printf("\n%s\n", cyan("=== simulating hot reload ==="))
				old.Stop()
				next, err := newService(old.Generation() + 1)
				if err != nil {
					return err
				}
				current.Store(next)
				if err := next.Start(ctx); err != nil {
					return err
				}

			case <-ctx.Done():
				current.Load().Stop()
				runtime.Wait()
				return nil

			case <-deadline:
				cancel()
				current.Load().Stop()
				runtime.Wait()
				return nil
			}
		}
	},
}

// spawnDemoFibers populates the runtime with fibers exercising the anomaly
// classes. The fibers read the current service through the pointer so they
// keep working across a simulated reload.
func spawnDemoFibers(ctx context.Context, runtime *sched.Runtime, current *atomic.Pointer[watchdog.Service]) {
	// A healthy permanent worker. It re-registers whenever a reload replaced
	// the service, the way surviving fibers do after a real hot reload.
	runtime.Go(ctx, "demo/worker", func(fctx context.Context) {
		opts := &watchdog.MonitorOptions{TTL: -1, Heartrate: 5 * time.Second}
		svc := current.Load()
		registered := svc.Generation()
		if _, err := svc.Monitor(fctx, opts); err != nil {
			fmt.Fprintf(os.Stderr, "demo/worker: monitor failed: %v\n", err)
			return
		}
		for {
			if err := runtime.Sleep(fctx, 500*time.Millisecond); err != nil {
				// fctx is canceled at this point; persist the completion on a
				// detached context so the store write goes through.
				_ = current.Load().Done(context.WithoutCancel(fctx), 0)
				return
			}
			svc = current.Load()
			if gen := svc.Generation(); gen != registered {
				if _, err := svc.Monitor(fctx, opts); err == nil {
					registered = gen
				}
			}
			_ = svc.Beat(fctx, 0)
		}
	})

	// A permanent fiber with heartbeat monitoring that never beats. After the
	// heartrate elapses the evaluator classifies it comatose.
	runtime.Go(ctx, "demo/sleeper", func(fctx context.Context) {
		if _, err := current.Load().Monitor(fctx, &watchdog.MonitorOptions{TTL: -1, Heartrate: 3 * time.Second}); err != nil {
			fmt.Fprintf(os.Stderr, "demo/sleeper: monitor failed: %v\n", err)
			return
		}
		<-fctx.Done()
	})

	// A short batch job that completes cleanly and is reclaimed by the reaper.
	runtime.Go(ctx, "demo/batch", func(fctx context.Context) {
		if _, err := current.Load().Monitor(fctx, &watchdog.MonitorOptions{TTL: 10 * time.Second, Heartrate: 5 * time.Second}); err != nil {
			fmt.Fprintf(os.Stderr, "demo/batch: monitor failed: %v\n", err)
			return
		}
		for i := 0; i < 4; i++ {
			if err := runtime.Sleep(fctx, 300*time.Millisecond); err != nil {
				return
			}
			_ = current.Load().Beat(fctx, 0)
		}
		_ = current.Load().Done(fctx, 0)
	})

	// An unmonitored fiber. With bastards_allowed: false and no matching mask
	// this shows up as a bastard in the table.
	runtime.Go(ctx, "demo/rogue", func(fctx context.Context) {
		for {
			if err := runtime.Sleep(fctx, time.Second); err != nil {
				return
			}
			runtime.Yield(fctx)
		}
	})
}

func init() {
	runCmd.Flags().DurationVar(&runDuration, "duration", 30*time.Second, "how long to run the demo host")
	runCmd.Flags().DurationVar(&runReloadAfter, "reload-after", 0, "simulate a hot reload after this long (0 disables)")
	rootCmd.AddCommand(runCmd)
}
