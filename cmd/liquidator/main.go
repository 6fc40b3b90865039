package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"sollend/pkg/app"
	"sollend/pkg/config"
	"sollend/pkg/health"
	"sollend/pkg/lending"
	"sollend/pkg/liquidator"
	"sollend/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}

	cliApp := &cli.App{
		Name:    "liquidator",
		Usage:   "Liquidate unhealthy obligations of a Solana lending program",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Commands: []*cli.Command{
			runCommand(),
			epochCommand(),
			healthCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*app.App, *liquidator.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger.Initialize(cfg.LogLevel)

	a, err := app.New(c.Context, cfg)
	if err != nil {
		return nil, nil, err
	}
	engine := liquidator.NewEngine(liquidator.Config{
		Markets:    a.Loader,
		Prices:     a.Prices,
		Builder:    a.Builder,
		Submitter:  a.Submitter,
		Wallet:     a.RPC,
		Liquidator: a.Payer.PublicKey(),
		Symbols:    a.Registry,
		DualMints:  a.Registry,
		Metrics:    liquidator.NewMetrics(nil),
		MarketList: cfg.Markets,
		EpochDelay: cfg.EpochDelay,
		MaxRounds:  cfg.MaxLiquidationRounds,
	})
	return a, engine, nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Scan every market each epoch until interrupted",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			c.Context = ctx

			a, engine, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()
			log := logger.GetForComponent("main")

			metricsServer := &http.Server{
				Addr:    a.Config.MetricsAddr,
				Handler: promhttp.Handler(),
			}
			go func() {
				log.Info().Str("addr", a.Config.MetricsAddr).Msg("starting metrics server")
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("metrics server error")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := metricsServer.Shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("failed to shutdown metrics server")
				}
			}()

			err = engine.Run(ctx)
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("liquidator stopped")
				return nil
			}
			return err
		},
	}
}

func epochCommand() *cli.Command {
	return &cli.Command{
		Name:  "epoch",
		Usage: "Scan every market once and exit",
		Action: func(c *cli.Context) error {
			a, engine, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := engine.RunEpoch(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("markets=%d scanned=%d unhealthy=%d liquidations=%d failures=%d\n",
				stats.Markets, stats.Scanned, stats.Unhealthy, stats.Liquidations, stats.Failures)
			return nil
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Evaluate one obligation against current prices",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "obligation",
				Usage:    "Obligation address",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			address, err := solana.PublicKeyFromBase58(c.String("obligation"))
			if err != nil {
				return fmt.Errorf("invalid obligation address: %w", err)
			}
			a, _, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()

			o, err := a.Loader.LoadObligation(c.Context, address)
			if err != nil {
				return err
			}
			pool, err := a.Loader.LoadPool(c.Context, o.LendingMarket)
			if err != nil {
				return err
			}
			prices, unresolved, err := a.Prices.Prices(c.Context, pool.Reserves)
			if err != nil {
				return err
			}
			for _, u := range unresolved {
				fmt.Fprintf(os.Stderr, "warning: %v\n", u)
			}
			reserves := make(map[solana.PublicKey]*lending.Reserve, len(pool.Reserves))
			for _, r := range pool.Reserves {
				reserves[r.Address] = r
			}
			h, err := health.Evaluate(o, reserves, health.OracleData(pool.Reserves, prices, a.Registry))
			if err != nil {
				return err
			}
			printHealth(h)
			return nil
		},
	}
}

func printHealth(h *health.Health) {
	fmt.Printf("Obligation:             %s\n", h.Obligation)
	fmt.Printf("Deposited value:        %s\n", h.DepositedValue)
	fmt.Printf("Borrowed value:         %s\n", h.BorrowedValue)
	fmt.Printf("Allowed borrow value:   %s\n", h.AllowedBorrowValue)
	fmt.Printf("Unhealthy borrow value: %s\n", h.UnhealthyBorrowValue)
	fmt.Printf("Liquidatable:           %v\n", h.Unhealthy())
	for _, d := range h.Deposits {
		fmt.Printf("  deposit %-10s %s value %s\n", d.Symbol, d.Reserve, d.MarketValue)
	}
	for _, b := range h.Borrows {
		fmt.Printf("  borrow  %-10s %s value %s\n", b.Symbol, b.Reserve, b.MarketValue)
	}
}
