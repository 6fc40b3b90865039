package app

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"sollend/pkg/action"
	"sollend/pkg/config"
	"sollend/pkg/logger"
	"sollend/pkg/market"
	"sollend/pkg/oracle"
	"sollend/pkg/sol"
)

// App is the set of long-lived components shared by the commands
type App struct {
	Config    *config.Config
	RPC       *sol.RPCPool
	Watcher   *sol.SignatureWatcher
	Transport *sol.Transport
	Registry  *market.Registry
	Loader    *market.Loader
	Prices    *oracle.Resolver
	Oracles   *oracle.Orchestrator
	Builder   *action.Builder
	Submitter *action.Submitter
	Payer     solana.PrivateKey

	log zerolog.Logger
}

// Option customizes components New cannot build from configuration alone
type Option func(*options)

type options struct {
	pull oracle.PullFeedUpdater
}

// WithPullUpdater sets the encoder for Switchboard pull feed updates. Without one, stale
// pull feeds are logged and left to the lending program to reject.
func WithPullUpdater(pull oracle.PullFeedUpdater) Option {
	return func(o *options) { o.pull = pull }
}

// New wires every component from cfg. A websocket endpoint is optional; without one
// confirmations poll RPC.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	log := logger.GetForComponent("app")
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	payer, err := cfg.LoadKeypair()
	if err != nil {
		return nil, err
	}

	rpcPool, err := sol.NewRPCPool(cfg.RPCEndpoints, cfg.JitoURL, cfg.RPCRateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc pool: %w", err)
	}

	var watcher *sol.SignatureWatcher
	if cfg.WSEndpoint != "" {
		watcher, err = sol.NewSignatureWatcher(ctx, cfg.WSEndpoint)
		if err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.WSEndpoint).Msg("websocket unavailable, confirming by polling")
			watcher = nil
		}
	}
	tip := uint64(0)
	if cfg.JitoURL != "" {
		tip = cfg.JitoTipLamports
	}
	transport := sol.NewTransport(rpcPool.Primary(), watcher, tip, cfg.ConfirmTimeout)

	programID := cfg.ProgramID()
	registry := market.NewRegistry(cfg.TokenSymbols, cfg.DualMints)
	loader := market.NewLoader(rpcPool, programID, registry)

	decoders := oracle.DefaultDecoders()
	push := oracle.NewPythPushBuilder(transport, rpcPool, cfg.PythShardID)
	orchestrator := oracle.NewOrchestrator(rpcPool, decoders, o.pull, push, oracle.NewHermesClient(cfg.HermesURL), oracle.Options{
		ComputeUnitPrice: cfg.PriorityFeeMicroLamports,
		ComputeUnitLimit: cfg.ComputeUnitLimit,
	})

	a := &App{
		Config:    cfg,
		RPC:       rpcPool,
		Watcher:   watcher,
		Transport: transport,
		Registry:  registry,
		Loader:    loader,
		Prices:    oracle.NewResolver(rpcPool, decoders),
		Oracles:   orchestrator,
		Builder:   action.NewBuilder(rpcPool, cfg.Environment, orchestrator, registry),
		Submitter: action.NewSubmitter(transport, rpcPool, payer),
		Payer:     payer,
		log:       log,
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("program", programID.String()).
		Str("wallet", payer.PublicKey().String()).
		Int("rpc_endpoints", rpcPool.Size()).
		Bool("websocket", watcher != nil).
		Bool("bundles", tip > 0).
		Bool("pull_updates", o.pull != nil).
		Msg("components initialized")
	return a, nil
}

// Close releases network resources
func (a *App) Close() {
	if a.Watcher != nil {
		if err := a.Watcher.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close websocket")
		}
	}
}
