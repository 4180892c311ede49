package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"order-scheduler/internal/config"
	"order-scheduler/internal/engine"
	"order-scheduler/internal/feed"
	"order-scheduler/internal/handlers"
	"order-scheduler/internal/ledger"
	"order-scheduler/internal/sim"
	"order-scheduler/internal/store"
	"order-scheduler/pkg/utils"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		envPath    = flag.String("env", "", ".env file (default: ./.env if present)")
		mode       = flag.String("mode", "serve", "serve: HTTP API with optional rate feed; run: execute scenario files")
		save       = flag.Bool("save", false, "run mode: store results in the run store")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if err := utils.Configure(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}

	switch *mode {
	case "serve":
		err = serve(cfg)
	case "run":
		err = runScenarios(cfg, flag.Args(), *save)
	default:
		err = errors.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		utils.LogError(err)
		os.Exit(1)
	}
}

func serve(cfg config.Config) error {
	acct := ledger.New(cfg.Account.Reference)
	for cur, amount := range cfg.Account.Balances {
		if amount == 0 {
			continue
		}
		if err := acct.Deposit(cur, amount); err != nil {
			return errors.Wrapf(err, "seed balance %s", cur)
		}
	}

	var runs *store.Store
	if cfg.Store.Path != "" {
		var err error
		runs, err = store.Open(store.OpenOptions{Path: cfg.Store.Path})
		if err != nil {
			return err
		}
		defer runs.Close()
	}

	h := handlers.NewHandler(acct, runs, engine.WithRateTolerance(cfg.Engine.RateTolerance))
	r := mux.NewRouter()
	h.SetupRoutes(r)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Feed.URL != "" {
		go pollFeed(ctx, h, feed.NewClient(cfg.Feed.URL, cfg.Feed.Timeout), cfg.Feed.Interval)
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Logger.WithField("addr", cfg.HTTP.Addr).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	utils.Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// pollFeed ticks the served account once per interval until the feed is exhausted
func pollFeed(ctx context.Context, h *handlers.Handler, src feed.Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		update, err := src.Next(ctx)
		if errors.Is(err, feed.ErrExhausted) {
			utils.Logger.Info("Rate feed exhausted, tick loop stopped")
			return
		}
		if err != nil {
			// an unreachable feed still advances the clock so expiries keep running
			utils.LogError(err)
			update = nil
		}

		clock, _, err := h.Tick(update)
		if err != nil {
			utils.LogError(errors.Wrapf(err, "tick %d", clock+1))
			continue
		}
		utils.Logger.WithFields(logrus.Fields{"clock": clock, "pairs": len(update)}).Debug("tick")
	}
}

func runScenarios(cfg config.Config, paths []string, save bool) error {
	if len(paths) == 0 {
		return errors.New("run mode needs at least one scenario file")
	}
	scenarios := make([]sim.Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := sim.LoadScenario(p)
		if err != nil {
			return err
		}
		scenarios = append(scenarios, sc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := sim.NewRunner(cfg.Engine.RateTolerance).Run(ctx, scenarios)

	if save {
		runs, err := store.Open(store.OpenOptions{Path: cfg.Store.Path})
		if err != nil {
			return err
		}
		defer runs.Close()
		for _, res := range results {
			if err := runs.Save(res); err != nil {
				return err
			}
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return errors.Wrap(err, "write results")
	}

	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d scenarios failed", failed, len(results))
	}
	return nil
}
