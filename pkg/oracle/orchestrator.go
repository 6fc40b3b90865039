package oracle

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"sollend/pkg/lending"
	"sollend/pkg/logger"
	"sollend/pkg/sol"
)

// PullFeedUpdater builds on-demand update instructions for pull-oracle feeds
type PullFeedUpdater interface {
	// MinSampleSize returns the feed's configured minimum oracle sample size
	MinSampleSize(feedData []byte) (uint32, error)
	// UpdateInstruction returns one instruction updating all feeds, plus the lookup tables it needs
	UpdateInstruction(ctx context.Context, feeds []solana.PublicKey, numSignatures uint32, payer solana.PublicKey) (solana.Instruction, []solana.PublicKey, error)
}

// PushUpdateBuilder turns price update payloads into transactions posting them on chain
type PushUpdateBuilder interface {
	BuildPostUpdates(ctx context.Context, updates [][]byte, payer solana.PublicKey) ([]sol.PreparedTransaction, error)
}

type Options struct {
	ComputeUnitPrice   uint64
	ComputeUnitLimit   uint32
	StalenessThreshold time.Duration
}

// Orchestrator decides which feeds of a reserve set need updating and builds the updates.
// It is built once per process and shared by every action.
type Orchestrator struct {
	reader   sol.AccountReader
	decoders Decoders
	pull     PullFeedUpdater
	push     PushUpdateBuilder
	source   UpdateDataSource
	opts     Options
	now      func() time.Time
	shuffle  func([]string)
	log      zerolog.Logger
}

// NewOrchestrator creates an orchestrator. pull, push and source may be nil, in which case
// the corresponding updates are skipped with a warning.
func NewOrchestrator(reader sol.AccountReader, decoders Decoders, pull PullFeedUpdater, push PushUpdateBuilder, source UpdateDataSource, opts Options) *Orchestrator {
	if opts.StalenessThreshold == 0 {
		opts.StalenessThreshold = lending.OracleStalenessThreshold
	}
	if opts.ComputeUnitLimit == 0 {
		opts.ComputeUnitLimit = 1_400_000
	}
	return &Orchestrator{
		reader:   reader,
		decoders: decoders,
		pull:     pull,
		push:     push,
		source:   source,
		opts:     opts,
		now:      time.Now,
		shuffle: func(ids []string) {
			rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		},
		log: logger.GetForComponent("oracle"),
	}
}

// Refresh is the outcome of one orchestration
type Refresh struct {
	// Instructions go to the plan's pre bucket in order
	Instructions []solana.Instruction
	LookupTables []solana.PublicKey
	// Companions must land before the action transaction
	Companions []sol.PreparedTransaction
}

// Refresh inspects the oracles of reserves and builds the required updates.
func (o *Orchestrator) Refresh(ctx context.Context, reserves []*lending.Reserve, payer solana.PublicKey) (*Refresh, error) {
	out := &Refresh{}

	var keys []solana.PublicKey
	seen := make(map[solana.PublicKey]struct{})
	for _, r := range reserves {
		for _, k := range r.Oracles() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	if len(reserves) == 0 {
		return out, nil
	}

	var accounts []*rpc.Account
	if len(keys) > 0 {
		var err error
		if accounts, err = o.reader.GetAccounts(ctx, keys); err != nil {
			return nil, fmt.Errorf("failed to fetch oracle accounts: %w", err)
		}
	}
	byKey := make(map[solana.PublicKey]int, len(keys))
	for i, k := range keys {
		byKey[k] = i
	}

	for _, r := range reserves {
		found := false
		for _, k := range r.Oracles() {
			if accounts[byKey[k]] != nil {
				found = true
				break
			}
		}
		if !found {
			return nil, &lending.OracleResolutionError{Reserve: r.Address, Err: lending.ErrAccountNotFound}
		}
	}

	var (
		pullFeeds []solana.PublicKey
		pullData  [][]byte
		stale     []string
	)
	queued := make(map[string]struct{})
	now := o.now()
	for i, k := range keys {
		acc := accounts[i]
		if acc == nil {
			continue
		}
		switch {
		case acc.Owner.Equals(SwitchboardOnDemandProgramID):
			pullFeeds = append(pullFeeds, k)
			pullData = append(pullData, sol.AccountData(acc))
		case acc.Owner.Equals(PythReceiverProgramID):
			price, err := o.decoders.Decode(acc.Owner, sol.AccountData(acc))
			if err != nil {
				o.log.Warn().Err(err).Str("oracle", k.String()).Msg("failed to decode push oracle")
				continue
			}
			if !price.Stale(now, o.opts.StalenessThreshold) {
				continue
			}
			id := hex.EncodeToString(price.FeedID[:])
			if _, ok := queued[id]; ok {
				continue
			}
			queued[id] = struct{}{}
			stale = append(stale, id)
		}
	}

	if err := o.addPullUpdate(ctx, out, pullFeeds, pullData, payer); err != nil {
		return nil, err
	}
	if err := o.addPushUpdates(ctx, out, stale, payer); err != nil {
		return nil, err
	}
	return out, nil
}

// RequiredSignatures returns the oracle signature count a pull update must carry:
// the largest minSampleSize + minSampleSize/3 across feeds, at least one.
func RequiredSignatures(minSampleSizes []uint32) uint32 {
	required := uint32(1)
	for _, m := range minSampleSizes {
		if n := m + m/3; n > required {
			required = n
		}
	}
	return required
}

func (o *Orchestrator) addPullUpdate(ctx context.Context, out *Refresh, feeds []solana.PublicKey, data [][]byte, payer solana.PublicKey) error {
	if len(feeds) == 0 {
		return nil
	}
	if o.pull == nil {
		o.log.Warn().Int("feeds", len(feeds)).Msg("no pull feed updater configured, skipping pull oracle update")
		return nil
	}

	sizes := make([]uint32, 0, len(feeds))
	for i, d := range data {
		size, err := o.pull.MinSampleSize(d)
		if err != nil {
			return fmt.Errorf("failed to read sample size of feed %s: %w", feeds[i], err)
		}
		sizes = append(sizes, size)
	}

	ix, tables, err := o.pull.UpdateInstruction(ctx, feeds, RequiredSignatures(sizes), payer)
	if err != nil {
		return fmt.Errorf("failed to build pull oracle update: %w", err)
	}

	out.Instructions = append(out.Instructions,
		computebudget.NewSetComputeUnitPriceInstruction(o.opts.ComputeUnitPrice).Build(),
		computebudget.NewSetComputeUnitLimitInstruction(o.opts.ComputeUnitLimit).Build(),
		ix,
	)
	out.LookupTables = append(out.LookupTables, tables...)
	return nil
}

func (o *Orchestrator) addPushUpdates(ctx context.Context, out *Refresh, feedIDs []string, payer solana.PublicKey) error {
	if len(feedIDs) == 0 {
		return nil
	}
	if o.source == nil || o.push == nil {
		o.log.Warn().Strs("feeds", feedIDs).Msg("stale push feeds but no update source configured")
		return nil
	}

	o.shuffle(feedIDs)
	updates, err := o.source.LatestUpdates(ctx, feedIDs)
	if err != nil {
		return fmt.Errorf("failed to request price updates: %w", err)
	}
	txs, err := o.push.BuildPostUpdates(ctx, updates, payer)
	if err != nil {
		return fmt.Errorf("failed to build price update transactions: %w", err)
	}
	o.log.Debug().Int("feeds", len(feedIDs)).Int("transactions", len(txs)).Msg("queued push oracle updates")
	out.Companions = append(out.Companions, txs...)
	return nil
}
