package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log" // Use standard log only for fatal errors before the logger is set up
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"tradegate/config"
	"tradegate/internal/adapters/logger"
	"tradegate/internal/adapters/paperbroker"
	"tradegate/internal/adapters/sqlite"
	"tradegate/internal/coordinator"
	"tradegate/internal/domain"
	"tradegate/internal/gateway"
	"tradegate/internal/journal"
	"tradegate/internal/ledger"
	"tradegate/internal/observability"
	"tradegate/internal/ports"
	"tradegate/internal/reconcile"
	"tradegate/internal/unwind"
)

func main() {
	root := &cobra.Command{
		Use:           "tradegate",
		Short:         "Trade risk gateway and position lifecycle coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newStatusCmd(), newHistoryCmd(), newExportCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// core holds the shared wiring every command needs: config, logger, the
// SQLite repository and the journal sharing its database handle.
type core struct {
	cfg     *config.Config
	logger  *logger.ZerologLogger
	repo    *sqlite.Repository
	journal ports.Journal
}

func openCore(component string) (*core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	appLogger := logger.New(component, cfg.LogLevel)

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize repository: %w", err)
	}

	jrnl, err := journal.NewSQLite(repo.DB(), appLogger)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("initialize journal: %w", err)
	}

	return &core{cfg: cfg, logger: appLogger, repo: repo, journal: jrnl}, nil
}

func (c *core) close() {
	if err := c.repo.Close(); err != nil {
		c.logger.Error(context.Background(), err, "Error closing database repository")
	}
}

func newRunCmd() *cobra.Command {
	var equity float64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading core: reconciliation, unwind sweep and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(equity)
		},
	}
	cmd.Flags().Float64Var(&equity, "equity", 100_000, "starting equity for the paper brokerage")
	return cmd
}

func runService(equity float64) error {
	// 1. Load configuration and shared infrastructure.
	c, err := openCore("tradegate")
	if err != nil {
		log.Printf("FATAL: %v", err)
		return err
	}
	defer c.close()
	ctx := context.Background()
	c.logger.Info(ctx, "Logger initialized", map[string]interface{}{"level": c.cfg.LogLevel})

	// 2. Metrics.
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// 3. Brokerage adapter.
	broker := paperbroker.New(equity)
	c.logger.Info(ctx, "Paper brokerage initialized", map[string]interface{}{"equity": equity})

	// 4. Ledger. It starts stale: nothing is approved until the first
	// successful reconciliation.
	led := ledger.New(c.cfg.LedgerMaxStaleness)

	// 5. Risk gateway.
	gw, err := gateway.New(c.cfg, metrics)
	if err != nil {
		c.logger.Error(ctx, err, "FATAL: Failed to initialize risk gateway")
		return err
	}

	// 6. Unwind manager.
	unwinder, err := unwind.New(unwind.Config{
		GracePeriod:       c.cfg.PartialFillGracePeriod,
		StaleOrderTimeout: c.cfg.StaleOrderTimeout,
	}, broker, c.repo, c.journal, led, c.logger.WithComponent("unwind"), metrics)
	if err != nil {
		c.logger.Error(ctx, err, "FATAL: Failed to initialize unwind manager")
		return err
	}

	// 7. Execution coordinator.
	coord, err := coordinator.New(gw, broker, led, c.repo, c.journal, unwinder,
		c.logger.WithComponent("coordinator"), metrics, c.cfg.FillDeadline)
	if err != nil {
		c.logger.Error(ctx, err, "FATAL: Failed to initialize coordinator")
		return err
	}

	// 8. Reconciliation engine.
	engine, err := reconcile.New(broker, led, c.repo, c.logger.WithComponent("reconcile"), metrics)
	if err != nil {
		c.logger.Error(ctx, err, "FATAL: Failed to initialize reconciliation engine")
		return err
	}

	// 9. Start the background loops and the metrics listener.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go engine.Run(runCtx, c.cfg.SyncInterval)
	go unwinder.Run(runCtx, c.cfg.SweepInterval)
	go acceptRequests(runCtx, coord, c.logger)

	var metricsSrv *http.Server
	if c.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		metricsSrv = &http.Server{Addr: c.cfg.MetricsAddr, Handler: mux}
		go func() {
			c.logger.Info(runCtx, "Metrics listener started", map[string]interface{}{"addr": c.cfg.MetricsAddr})
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				c.logger.Error(runCtx, err, "Metrics listener failed")
			}
		}()
	}

	c.logger.Info(runCtx, "Trading core started", map[string]interface{}{
		"syncInterval":  c.cfg.SyncInterval.String(),
		"sweepInterval": c.cfg.SweepInterval.String(),
	})

	// 10. Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	c.logger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})

	cancel()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			c.logger.Error(ctx, err, "Metrics listener shutdown failed")
		}
	}
	c.logger.Info(ctx, "Trading core stopped")
	return nil
}

// acceptRequests reads JSON trade requests from stdin, one per line, and runs
// each through the gateway and coordinator. This is the intake surface for an
// agent driving the core as a subprocess.
func acceptRequests(ctx context.Context, coord *coordinator.Coordinator, logger ports.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req domain.TradeRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			logger.Error(ctx, err, "Rejected unparseable trade request")
			continue
		}

		res, err := coord.Execute(ctx, &req)
		switch {
		case err != nil:
			logger.Error(ctx, err, "Trade request did not complete", map[string]interface{}{
				"underlying": req.Underlying, "kind": req.Kind,
			})
		case !res.Decision.Approved:
			logger.Warn(ctx, "Trade request rejected", map[string]interface{}{
				"underlying": req.Underlying, "kind": req.Kind,
				"reason": res.Decision.Reason, "detail": res.Decision.Detail,
			})
		default:
			logger.Info(ctx, "Trade request executed", map[string]interface{}{
				"structureID": res.Structure.ID, "state": res.Structure.State,
				"credit": res.Structure.CreditReceived,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error(ctx, err, "Request intake stopped")
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every structure not yet in a terminal state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore("status")
			if err != nil {
				return err
			}
			defer c.close()

			structures, err := c.repo.FindOpen(cmd.Context())
			if err != nil {
				return fmt.Errorf("load open structures: %w", err)
			}
			if len(structures) == 0 {
				fmt.Println("No open structures.")
				return nil
			}
			fmt.Printf("%-36s  %-15s  %-6s  %-16s  %-5s  %10s\n",
				"ID", "KIND", "UNDER", "STATE", "LEGS", "WORST CASE")
			for _, st := range structures {
				legs := fmt.Sprintf("%d/%d", len(st.FilledLegs()), st.RequiredLegs)
				fmt.Printf("%-36s  %-15s  %-6s  %-16s  %-5s  %10.2f\n",
					st.ID, st.Kind, st.Underlying, st.State, legs, st.WorstCaseLoss)
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [structureID]",
		Short: "Print the structure transition journal, optionally for one structure",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore("history")
			if err != nil {
				return err
			}
			defer c.close()

			var events []*domain.StructureEvent
			if len(args) == 1 {
				events, err = c.journal.HistoryFor(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("load history for %s: %w", args[0], err)
				}
			} else {
				events, err = c.journal.History(cmd.Context())
				if err != nil {
					return fmt.Errorf("load history: %w", err)
				}
			}

			if len(events) == 0 {
				fmt.Println("No journal events.")
				return nil
			}
			for _, ev := range events {
				fmt.Printf("%s  %-36s  %-6s  %-16s -> %-16s  %s\n",
					ev.At.Format(time.RFC3339), ev.StructureID, ev.Underlying,
					orDash(string(ev.From)), string(ev.To), ev.Reason)
			}
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the transition journal to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore("export")
			if err != nil {
				return err
			}
			defer c.close()

			events, err := c.journal.History(cmd.Context())
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			if err := journal.WriteEventsToCSV(events, out); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Printf("Wrote %d events to %s\n", len(events), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "events.csv", "output CSV path")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
