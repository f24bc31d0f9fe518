// Command server runs the crypto recommendation orchestration service:
// market data gateway, cooldown gate, strategy trigger controller,
// recommendation tracker, event broadcaster, and the HTTP/websocket
// adapter, wired together and run until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/synapsestrike/tradeops/api"
	"github.com/synapsestrike/tradeops/broadcaster"
	"github.com/synapsestrike/tradeops/clock"
	"github.com/synapsestrike/tradeops/config"
	"github.com/synapsestrike/tradeops/cooldown"
	"github.com/synapsestrike/tradeops/gateway"
	"github.com/synapsestrike/tradeops/logging"
	"github.com/synapsestrike/tradeops/metrics"
	"github.com/synapsestrike/tradeops/strategy"
	"github.com/synapsestrike/tradeops/strategy/talibengine"
	"github.com/synapsestrike/tradeops/tracker"
)

var (
	addr     string
	dbPath   string
	logLevel string
	pretty   bool
	symbols  []string
)

var rootCmd = &cobra.Command{
	Use:   "tradeops",
	Short: "Crypto recommendation orchestration service",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration service",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("tradeops v0.1.0")
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the sqlite schema and exit",
	RunE:  runMigrate,
}

func init() {
	_ = godotenv.Load()

	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&dbPath, "db", "./tradeops.db", "sqlite database path")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug/info/warn/error)")
	serveCmd.Flags().BoolVar(&pretty, "pretty-log", false, "use a human-readable console log writer")
	serveCmd.Flags().StringSliceVar(&symbols, "symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, "symbol universe to scan")

	migrateCmd.Flags().StringVar(&dbPath, "db", "./tradeops.db", "sqlite database path")

	rootCmd.AddCommand(serveCmd, versionCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	store, err := tracker.OpenStore(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	fmt.Println("schema ready at", dbPath)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	base := logging.New(logLevel, pretty, os.Stdout)
	log := logging.Component(base, "main")
	metrics.Init()

	cfg := config.Default()
	clk := clock.System
	root := clock.NewRootScope()

	store, err := tracker.OpenStore(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	binance := gateway.NewBinanceClient(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"), 12*time.Second)
	sentiment := gateway.NewFearGreedProvider("", 12*time.Second)
	gw := gateway.New(gateway.DefaultConfig(), binance, sentiment, clk, base)

	gate := cooldown.New(cfg.CooldownConfig(), clk, nil)

	hub := broadcaster.NewHub(broadcasterConfig(cfg), clk, base)
	defer hub.Close()

	tr, err := tracker.New(store, gate, gw, hub, cfg, clk, base)
	if err != nil {
		return fmt.Errorf("construct tracker: %w", err)
	}
	gate.SetLookup(tr.ActiveLookup)

	engine := talibengine.New(talibengine.DefaultConfig(), gw)

	state := api.NewStrategyState()
	progress := api.FanOutProgress(hub, state)

	ctrl := strategy.New(strategy.Config{Period: cfg.ScanPeriod(), Symbols: symbols, ScheduleCron: cfg.Strategy.ScheduleCron}, engine, tr, gate, gatewayMarketSource{gw}, progress, clk, base)
	ctrl.SetOnResult(func(r *strategy.Result) {
		hub.StrategyUpdate(r)
		state.OnResult(r)
	})

	server := api.New(gw, tr, ctrl, gate, hub, state, cfg, base)

	strategyScope := root.Child()
	evalScope := root.Child()
	pruneScope := root.Child()
	httpScope := root.Child()

	go ctrl.Run(strategyScope)
	go runEvaluationLoop(evalScope, tr, clk, cfg.EvaluationPeriod())
	go runPruneLoop(pruneScope, tr, clk, cfg.PruneAfter())

	log.Info().Str("addr", addr).Strs("symbols", symbols).Msg("starting server")
	if err := server.Run(httpScope, addr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// gatewayMarketSource adapts gateway.Gateway to strategy.MarketSource,
// unwrapping Sentiment down to its Value so strategy doesn't need to
// import the gateway package just for one field.
type gatewayMarketSource struct {
	gw *gateway.Gateway
}

func (m gatewayMarketSource) GetSentimentIndex(ctx context.Context) (float64, error) {
	s, err := m.gw.GetSentimentIndex(ctx)
	if err != nil {
		return 0, err
	}
	return s.Value, nil
}

func (m gatewayMarketSource) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	return m.gw.GetFundingRate(ctx, symbol)
}

func broadcasterConfig(cfg config.Config) broadcaster.Config {
	rt := cfg.RealtimeHub()
	return broadcaster.Config{
		DedupeEnabled:   rt.DedupeEnabled,
		DedupeWindow:    rt.DedupeWindow,
		JitterEnabled:   rt.JitterEnabled,
		JitterMax:       rt.JitterMax,
		SnapshotEnabled: rt.SnapshotEnabled,
		SnapshotDir:     rt.SnapshotDir,
	}
}

func runEvaluationLoop(scope *clock.Scope, tr *tracker.Tracker, clk clock.Clock, period time.Duration) {
	ticker := clk.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-scope.Done():
			return
		case <-ticker.C():
			tr.EvaluateOnce(scope.Context())
		}
	}
}

func runPruneLoop(scope *clock.Scope, tr *tracker.Tracker, clk clock.Clock, maxAge time.Duration) {
	ticker := clk.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-scope.Done():
			return
		case <-ticker.C():
			if _, err := tr.PruneClosed(scope.Context(), maxAge); err != nil {
				// best-effort housekeeping; next tick retries
				continue
			}
		}
	}
}
