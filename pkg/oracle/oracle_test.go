package oracle

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"sollend/pkg/lending"
	"sollend/pkg/lending/lendingtest"
	"sollend/pkg/sol"
)

type fakePull struct {
	sizes         map[byte]uint32
	feeds         []solana.PublicKey
	numSignatures uint32
	tables        []solana.PublicKey
}

func (f *fakePull) MinSampleSize(data []byte) (uint32, error) {
	return f.sizes[data[0]], nil
}

func (f *fakePull) UpdateInstruction(ctx context.Context, feeds []solana.PublicKey, numSignatures uint32, payer solana.PublicKey) (solana.Instruction, []solana.PublicKey, error) {
	f.feeds = feeds
	f.numSignatures = numSignatures
	return solana.NewInstruction(SwitchboardOnDemandProgramID, nil, []byte{9}), f.tables, nil
}

type fakeSource struct {
	requested []string
}

func (f *fakeSource) LatestUpdates(ctx context.Context, feedIDs []string) ([][]byte, error) {
	f.requested = append([]string{}, feedIDs...)
	return [][]byte{[]byte("vaa")}, nil
}

type fakePush struct {
	updates [][]byte
}

func (f *fakePush) BuildPostUpdates(ctx context.Context, updates [][]byte, payer solana.PublicKey) ([]sol.PreparedTransaction, error) {
	f.updates = updates
	return []sol.PreparedTransaction{{Signers: []solana.PrivateKey{solana.NewWallet().PrivateKey}}}, nil
}

func feedID(b byte) [32]byte {
	var id [32]byte
	id[0] = b
	return id
}

func TestDecoders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := DefaultDecoders()

	p, err := d.Decode(PythReceiverProgramID, lendingtest.EncodePriceUpdate(feedID(3), 15_000_000_000, -8, now))
	require.NoError(t, err)
	assert.Equal(t, "150.000000000000000000", p.Value.String())
	assert.Equal(t, now, p.PublishTime)
	assert.Equal(t, feedID(3), p.FeedID)

	p, err = d.Decode(PythLegacyProgramID, lendingtest.EncodePythLegacy(99_990_000, -8, now))
	require.NoError(t, err)
	assert.Equal(t, "0.999900000000000000", p.Value.String())

	// 1.5 with 18 decimals
	p, err = d.Decode(SwitchboardOnDemandProgramID, lendingtest.EncodeSwitchboardPullFeed(feedID(5), uint128.From64(1_500_000_000_000_000_000), now))
	require.NoError(t, err)
	assert.Equal(t, "1.500000000000000000", p.Value.String())
	assert.Equal(t, int32(-18), p.Exponent)
	assert.Equal(t, now, p.PublishTime)
	assert.Equal(t, feedID(5), p.FeedID)

	negative := uint128.Max
	_, err = d.Decode(SwitchboardOnDemandProgramID, lendingtest.EncodeSwitchboardPullFeed(feedID(5), negative, now))
	require.ErrorIs(t, err, ErrNonPositivePrice)
	_, err = d.Decode(SwitchboardOnDemandProgramID, make([]byte, 100))
	require.Error(t, err)

	_, err = d.Decode(lendingtest.NewKey(), nil)
	require.ErrorIs(t, err, ErrUnsupportedOracle)

	_, err = d.Decode(PythReceiverProgramID, lendingtest.EncodePriceUpdate(feedID(3), 0, -8, now))
	require.ErrorIs(t, err, ErrNonPositivePrice)
}

func TestRequiredSignatures(t *testing.T) {
	assert.Equal(t, uint32(1), RequiredSignatures(nil))
	assert.Equal(t, uint32(1), RequiredSignatures([]uint32{0}))
	assert.Equal(t, uint32(4), RequiredSignatures([]uint32{3, 1}))
	assert.Equal(t, uint32(6), RequiredSignatures([]uint32{5, 2}))
}

func TestOrchestratorRefresh(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	chain := lendingtest.NewChain()
	market := lendingtest.NewKey()
	payer := lendingtest.NewKey()

	fresh := lendingtest.NewReserve(market, lendingtest.NewKey(), 6)
	chain.Set(fresh.Liquidity.PythOracle, PythReceiverProgramID, lendingtest.EncodePriceUpdate(feedID(1), 100, -2, now.Add(-5*time.Second)))

	stale := lendingtest.NewReserve(market, lendingtest.NewKey(), 6)
	chain.Set(stale.Liquidity.PythOracle, PythReceiverProgramID, lendingtest.EncodePriceUpdate(feedID(2), 100, -2, now.Add(-31*time.Second)))

	staleToo := lendingtest.NewReserve(market, lendingtest.NewKey(), 6)
	chain.Set(staleToo.Liquidity.PythOracle, PythReceiverProgramID, lendingtest.EncodePriceUpdate(feedID(4), 100, -2, now.Add(-time.Minute)))

	pulled := lendingtest.NewReserve(market, lendingtest.NewKey(), 6)
	pulled.Liquidity.SwitchboardOracle = lendingtest.NewKey()
	chain.Set(pulled.Liquidity.PythOracle, PythLegacyProgramID, lendingtest.EncodePythLegacy(1, 0, now))
	chain.Set(pulled.Liquidity.SwitchboardOracle, SwitchboardOnDemandProgramID, []byte{7})

	table := lendingtest.NewKey()
	pull := &fakePull{sizes: map[byte]uint32{7: 3}, tables: []solana.PublicKey{table}}
	source := &fakeSource{}
	push := &fakePush{}

	o := NewOrchestrator(chain, DefaultDecoders(), pull, push, source, Options{ComputeUnitPrice: 5})
	o.now = func() time.Time { return now }
	var shuffled bool
	o.shuffle = func(ids []string) {
		shuffled = true
		ids[0], ids[len(ids)-1] = ids[len(ids)-1], ids[0]
	}

	refresh, err := o.Refresh(context.Background(), []*lending.Reserve{fresh, stale, staleToo, pulled}, payer)
	require.NoError(t, err)

	// compute budget price, compute budget limit, pull update
	require.Len(t, refresh.Instructions, 3)
	assert.Equal(t, solana.ComputeBudget, refresh.Instructions[0].ProgramID())
	assert.Equal(t, solana.ComputeBudget, refresh.Instructions[1].ProgramID())
	assert.Equal(t, SwitchboardOnDemandProgramID, refresh.Instructions[2].ProgramID())
	assert.Equal(t, []solana.PublicKey{pulled.Liquidity.SwitchboardOracle}, pull.feeds)
	assert.Equal(t, uint32(4), pull.numSignatures)
	assert.Equal(t, []solana.PublicKey{table}, refresh.LookupTables)

	assert.True(t, shuffled)
	id2, id4 := feedID(2), feedID(4)
	assert.ElementsMatch(t, []string{hex.EncodeToString(id2[:]), hex.EncodeToString(id4[:])}, source.requested)
	assert.Len(t, push.updates, 1)
	assert.Len(t, refresh.Companions, 1)
}

func TestOrchestratorMissingOracle(t *testing.T) {
	chain := lendingtest.NewChain()
	r := lendingtest.NewReserve(lendingtest.NewKey(), lendingtest.NewKey(), 6)

	o := NewOrchestrator(chain, DefaultDecoders(), nil, nil, nil, Options{})
	_, err := o.Refresh(context.Background(), []*lending.Reserve{r}, lendingtest.NewKey())

	var oracleErr *lending.OracleResolutionError
	require.True(t, errors.As(err, &oracleErr))
	assert.Equal(t, r.Address, oracleErr.Reserve)
}

func TestOracleReadsSkippedWithoutOracleKeys(t *testing.T) {
	chain := lendingtest.NewChain()
	r := lendingtest.NewReserve(lendingtest.NewKey(), lendingtest.NewKey(), 6)
	r.Liquidity.PythOracle = lending.NullOracle

	_, err := NewOrchestrator(chain, DefaultDecoders(), nil, nil, nil, Options{}).
		Refresh(context.Background(), []*lending.Reserve{r}, lendingtest.NewKey())
	var oracleErr *lending.OracleResolutionError
	require.True(t, errors.As(err, &oracleErr))
	assert.Equal(t, r.Address, oracleErr.Reserve)

	prices, unresolved, err := NewResolver(chain, DefaultDecoders()).Prices(context.Background(), []*lending.Reserve{r})
	require.NoError(t, err)
	assert.Empty(t, prices)
	require.Len(t, unresolved, 1)
	assert.True(t, errors.As(unresolved[0], &oracleErr))

	assert.Zero(t, chain.Reads)
}

func TestOrchestratorWithoutUpdatersSkips(t *testing.T) {
	now := time.Now()
	chain := lendingtest.NewChain()
	r := lendingtest.NewReserve(lendingtest.NewKey(), lendingtest.NewKey(), 6)
	chain.Set(r.Liquidity.PythOracle, PythReceiverProgramID, lendingtest.EncodePriceUpdate(feedID(1), 100, -2, now.Add(-time.Hour)))

	o := NewOrchestrator(chain, DefaultDecoders(), nil, nil, nil, Options{})
	refresh, err := o.Refresh(context.Background(), []*lending.Reserve{r}, lendingtest.NewKey())
	require.NoError(t, err)
	assert.Empty(t, refresh.Instructions)
	assert.Empty(t, refresh.Companions)
}

func TestResolverPrices(t *testing.T) {
	now := time.Now()
	chain := lendingtest.NewChain()
	market := lendingtest.NewKey()

	primary := lendingtest.NewReserve(market, lendingtest.NewKey(), 6)
	chain.Set(primary.Liquidity.PythOracle, PythReceiverProgramID, lendingtest.EncodePriceUpdate(feedID(1), 2_500, -2, now))

	fallback := lendingtest.NewReserve(market, lendingtest.NewKey(), 6)
	fallback.Config.ExtraOracle = lendingtest.NewKey()
	chain.Set(fallback.Liquidity.PythOracle, lendingtest.NewKey(), []byte{1, 2, 3})
	chain.Set(fallback.Config.ExtraOracle, PythLegacyProgramID, lendingtest.EncodePythLegacy(3, 0, now))

	pulled := lendingtest.NewReserve(market, lendingtest.NewKey(), 6)
	pulled.Liquidity.PythOracle = lending.NullOracle
	pulled.Liquidity.SwitchboardOracle = lendingtest.NewKey()
	chain.Set(pulled.Liquidity.SwitchboardOracle, SwitchboardOnDemandProgramID,
		lendingtest.EncodeSwitchboardPullFeed(feedID(6), uint128.From64(2_000_000_000_000_000_000), now))

	missing := lendingtest.NewReserve(market, lendingtest.NewKey(), 6)

	prices, unresolved, err := NewResolver(chain, DefaultDecoders()).Prices(context.Background(), []*lending.Reserve{primary, fallback, pulled, missing})
	require.NoError(t, err)
	assert.Equal(t, "25.000000000000000000", prices[primary.Address].Value.String())
	assert.Equal(t, "3.000000000000000000", prices[fallback.Address].Value.String())
	assert.Equal(t, "2.000000000000000000", prices[pulled.Address].Value.String())
	require.Len(t, unresolved, 1)

	var oracleErr *lending.OracleResolutionError
	require.True(t, errors.As(unresolved[0], &oracleErr))
	assert.Equal(t, missing.Address, oracleErr.Reserve)
}

func TestHermesClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/updates/price/latest", r.URL.Path)
		assert.Equal(t, []string{"aa", "bb"}, r.URL.Query()["ids[]"])
		assert.Equal(t, "base64", r.URL.Query().Get("encoding"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"binary":{"encoding":"base64","data":["aGVsbG8="]}}`))
	}))
	defer srv.Close()

	updates, err := NewHermesClient(srv.URL+"/").LatestUpdates(context.Background(), []string{"aa", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("hello")}, updates)
}

func TestHermesClientPermanentError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad feed id", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewHermesClient(srv.URL).LatestUpdates(context.Background(), []string{"zz"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
