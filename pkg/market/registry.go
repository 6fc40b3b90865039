package market

import (
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"sollend/pkg/lending"
)

// ReserveMetadata is the static part of a reserve: addresses, mints and decimals.
// It never carries balances, rates or prices.
type ReserveMetadata struct {
	Address        solana.PublicKey
	Market         solana.PublicKey
	Mint           solana.PublicKey
	CollateralMint solana.PublicKey
	Decimals       uint8
	Symbol         string
	Oracles        []solana.PublicKey
	DualMint       *lending.DualMint
}

// Registry caches static reserve metadata across scans
type Registry struct {
	reserves  map[solana.PublicKey]*ReserveMetadata
	symbols   map[solana.PublicKey]string
	dualMints map[solana.PublicKey]lending.DualMint
	mu        sync.RWMutex
}

// NewRegistry creates a registry. symbols maps mints to display symbols,
// dualMints maps reserve addresses to their wrapper configuration.
func NewRegistry(symbols map[solana.PublicKey]string, dualMints map[solana.PublicKey]lending.DualMint) *Registry {
	if symbols == nil {
		symbols = make(map[solana.PublicKey]string)
	}
	if dualMints == nil {
		dualMints = make(map[solana.PublicKey]lending.DualMint)
	}
	return &Registry{
		reserves:  make(map[solana.PublicKey]*ReserveMetadata),
		symbols:   symbols,
		dualMints: dualMints,
	}
}

// Register records the static fields of r
func (reg *Registry) Register(r *lending.Reserve) *ReserveMetadata {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if meta, ok := reg.reserves[r.Address]; ok {
		return meta
	}
	meta := &ReserveMetadata{
		Address:        r.Address,
		Market:         r.LendingMarket,
		Mint:           r.Liquidity.Mint,
		CollateralMint: r.Collateral.Mint,
		Decimals:       r.Liquidity.MintDecimals,
		Symbol:         reg.symbolLocked(r.Liquidity.Mint),
		Oracles:        r.Oracles(),
	}
	if dm, ok := reg.dualMints[r.Address]; ok && dm.Configured() {
		meta.DualMint = &dm
	}
	reg.reserves[r.Address] = meta
	return meta
}

func (reg *Registry) Get(reserve solana.PublicKey) (*ReserveMetadata, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	meta, ok := reg.reserves[reserve]
	return meta, ok
}

// DualMint returns the wrapper configured for reserve, if any
func (reg *Registry) DualMint(reserve solana.PublicKey) *lending.DualMint {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if dm, ok := reg.dualMints[reserve]; ok && dm.Configured() {
		return &dm
	}
	return nil
}

// Symbol returns the configured symbol of mint, or a shortened address
func (reg *Registry) Symbol(mint solana.PublicKey) string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.symbolLocked(mint)
}

func (reg *Registry) symbolLocked(mint solana.PublicKey) string {
	if s, ok := reg.symbols[mint]; ok {
		return s
	}
	if mint.Equals(lending.NativeMint) {
		return "SOL"
	}
	s := mint.String()
	return s[:4] + ".." + s[len(s)-4:]
}

// ByMarket returns the registered reserves of market ordered by address
func (reg *Registry) ByMarket(market solana.PublicKey) []*ReserveMetadata {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var out []*ReserveMetadata
	for _, meta := range reg.reserves {
		if meta.Market.Equals(market) {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out
}

func (reg *Registry) Size() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.reserves)
}
