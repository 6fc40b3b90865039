package oracle

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"sollend/pkg/sol"
)

// Programs involved in posting Pyth price updates
const (
	WORMHOLE_RECEIVER_PROGRAM_ID = "HDwcJBJXjL9FNJTXFxbo4eFE6VSn7pNFDnv7h9v4aTu"
	PYTH_PUSH_ORACLE_PROGRAM_ID  = "pythWSnswVUd12oZpeFP8e9CVaEqJg25g1Vtc2biRsT"
)

var (
	WormholeReceiverProgramID = solana.MustPublicKeyFromBase58(WORMHOLE_RECEIVER_PROGRAM_ID)
	PythPushOracleProgramID   = solana.MustPublicKeyFromBase58(PYTH_PUSH_ORACLE_PROGRAM_ID)
)

const (
	accumulatorMagic     = "PNAU"
	wormholeMerkleUpdate = 0
	priceFeedMessage     = 0

	// discriminator(8) + status(1) + write authority(32) + version(1) + vec length(4)
	encodedVAAHeaderSize = 46
	// VAA bytes written by the first transaction
	vaaFirstChunk = 721
)

var (
	ixInitEncodedVAA   = anchorDiscriminator("init_encoded_vaa")
	ixWriteEncodedVAA  = anchorDiscriminator("write_encoded_vaa")
	ixVerifyEncodedVAA = anchorDiscriminator("verify_encoded_vaa_v1")
	ixCloseEncodedVAA  = anchorDiscriminator("close_encoded_vaa")
	ixUpdatePriceFeed  = anchorDiscriminator("update_price_feed")
)

func anchorDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// MerklePriceUpdate is one feed message and its proof against the VAA's merkle root
type MerklePriceUpdate struct {
	Message []byte
	Proof   [][20]byte
}

// FeedID returns the feed id of a price feed message
func (u MerklePriceUpdate) FeedID() ([32]byte, error) {
	var id [32]byte
	if len(u.Message) < 33 || u.Message[0] != priceFeedMessage {
		return id, fmt.Errorf("not a price feed message")
	}
	copy(id[:], u.Message[1:33])
	return id, nil
}

// AccumulatorUpdate is a decoded price service payload: one VAA and the updates it proves
type AccumulatorUpdate struct {
	VAA     []byte
	Updates []MerklePriceUpdate
}

// GuardianSetIndex returns the guardian set that signed the VAA
func (a *AccumulatorUpdate) GuardianSetIndex() uint32 {
	return binary.BigEndian.Uint32(a.VAA[1:5])
}

// ParseAccumulatorUpdate decodes the binary payload returned by a price service
func ParseAccumulatorUpdate(data []byte) (*AccumulatorUpdate, error) {
	r := &reader{data: data}
	if magic := r.next(4); string(magic) != accumulatorMagic {
		return nil, fmt.Errorf("not an accumulator update")
	}
	r.next(2) // major, minor
	r.next(int(r.u8()))
	if kind := r.u8(); kind != wormholeMerkleUpdate {
		return nil, fmt.Errorf("unsupported accumulator update type %d", kind)
	}

	out := &AccumulatorUpdate{VAA: r.next(int(r.u16()))}
	count := int(r.u8())
	for i := 0; i < count && r.err == nil; i++ {
		u := MerklePriceUpdate{Message: r.next(int(r.u16()))}
		proofs := int(r.u8())
		for j := 0; j < proofs && r.err == nil; j++ {
			var node [20]byte
			copy(node[:], r.next(20))
			u.Proof = append(u.Proof, node)
		}
		out.Updates = append(out.Updates, u)
	}
	if r.err != nil {
		return nil, r.err
	}
	if len(out.VAA) < 6 {
		return nil, fmt.Errorf("vaa too short: %d bytes", len(out.VAA))
	}
	return out, nil
}

type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("accumulator update truncated at byte %d", r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.next(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.next(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

// BlockhashSource supplies the recent blockhash companion transactions are built with
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// PythPushBuilder posts price updates to the Pyth push oracle feed accounts. Each payload's
// VAA is written to a fresh encoded VAA account, verified, used for every feed update and
// closed again.
type PythPushBuilder struct {
	blockhash  BlockhashSource
	reader     sol.AccountReader
	shardID    uint16
	treasuryID uint8
	newSigner  func() solana.PrivateKey
}

func NewPythPushBuilder(blockhash BlockhashSource, reader sol.AccountReader, shardID uint16) *PythPushBuilder {
	return &PythPushBuilder{
		blockhash: blockhash,
		reader:    reader,
		shardID:   shardID,
		newSigner: func() solana.PrivateKey { return solana.NewWallet().PrivateKey },
	}
}

// PriceFeedAccount returns the push oracle account of feedID in shard
func PriceFeedAccount(shardID uint16, feedID [32]byte) (solana.PublicKey, error) {
	shard := make([]byte, 2)
	binary.LittleEndian.PutUint16(shard, shardID)
	key, _, err := solana.FindProgramAddress([][]byte{shard, feedID[:]}, PythPushOracleProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive price feed account: %w", err)
	}
	return key, nil
}

// BuildPostUpdates implements PushUpdateBuilder
func (b *PythPushBuilder) BuildPostUpdates(ctx context.Context, updates [][]byte, payer solana.PublicKey) ([]sol.PreparedTransaction, error) {
	blockhash, err := b.blockhash.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	var out []sol.PreparedTransaction
	for _, raw := range updates {
		update, err := ParseAccumulatorUpdate(raw)
		if err != nil {
			return nil, err
		}
		signer := b.newSigner()
		segments, err := b.segments(ctx, update, payer, signer.PublicKey())
		if err != nil {
			return nil, err
		}
		txs, err := sol.Pack(segments, payer, blockhash, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to pack price updates: %w", err)
		}
		for _, tx := range txs {
			out = append(out, sol.PreparedTransaction{Tx: tx, Signers: []solana.PrivateKey{signer}})
		}
	}
	return out, nil
}

func (b *PythPushBuilder) segments(ctx context.Context, update *AccumulatorUpdate, payer, encodedVAA solana.PublicKey) ([][]solana.Instruction, error) {
	size := uint64(encodedVAAHeaderSize + len(update.VAA))
	rent, err := b.reader.RentExemptBalance(ctx, size)
	if err != nil {
		return nil, err
	}
	guardianSet, err := guardianSetAccount(update.GuardianSetIndex())
	if err != nil {
		return nil, err
	}
	config, _, err := solana.FindProgramAddress([][]byte{[]byte("config")}, PythReceiverProgramID)
	if err != nil {
		return nil, err
	}
	treasury, _, err := solana.FindProgramAddress([][]byte{[]byte("treasury"), {b.treasuryID}}, PythReceiverProgramID)
	if err != nil {
		return nil, err
	}

	split := min(len(update.VAA), vaaFirstChunk)
	write := func(offset int, chunk []byte) (solana.Instruction, error) {
		data, err := encode(ixWriteEncodedVAA, func(enc *bin.Encoder) error {
			if err := enc.WriteUint32(uint32(offset), binary.LittleEndian); err != nil {
				return err
			}
			return writeVec(enc, chunk)
		})
		if err != nil {
			return nil, err
		}
		return solana.NewInstruction(WormholeReceiverProgramID, solana.AccountMetaSlice{
			solana.NewAccountMeta(payer, false, true),
			solana.NewAccountMeta(encodedVAA, true, false),
		}, data), nil
	}

	first, err := write(0, update.VAA[:split])
	if err != nil {
		return nil, err
	}
	segments := [][]solana.Instruction{{
		system.NewCreateAccountInstruction(rent, size, WormholeReceiverProgramID, payer, encodedVAA).Build(),
		solana.NewInstruction(WormholeReceiverProgramID, solana.AccountMetaSlice{
			solana.NewAccountMeta(payer, false, true),
			solana.NewAccountMeta(encodedVAA, true, false),
		}, ixInitEncodedVAA),
		first,
	}}

	var verify []solana.Instruction
	if split < len(update.VAA) {
		rest, err := write(split, update.VAA[split:])
		if err != nil {
			return nil, err
		}
		verify = append(verify, rest)
	}
	verify = append(verify, solana.NewInstruction(WormholeReceiverProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, false, true),
		solana.NewAccountMeta(encodedVAA, true, false),
		solana.NewAccountMeta(guardianSet, false, false),
	}, ixVerifyEncodedVAA))
	segments = append(segments, verify)

	for _, u := range update.Updates {
		feedID, err := u.FeedID()
		if err != nil {
			return nil, err
		}
		feed, err := PriceFeedAccount(b.shardID, feedID)
		if err != nil {
			return nil, err
		}
		data, err := encode(ixUpdatePriceFeed, func(enc *bin.Encoder) error {
			if err := writeVec(enc, u.Message); err != nil {
				return err
			}
			if err := enc.WriteUint32(uint32(len(u.Proof)), binary.LittleEndian); err != nil {
				return err
			}
			for _, node := range u.Proof {
				if err := enc.WriteBytes(node[:], false); err != nil {
					return err
				}
			}
			if err := enc.WriteUint8(b.treasuryID); err != nil {
				return err
			}
			if err := enc.WriteUint16(b.shardID, binary.LittleEndian); err != nil {
				return err
			}
			return enc.WriteBytes(feedID[:], false)
		})
		if err != nil {
			return nil, err
		}
		segments = append(segments, []solana.Instruction{solana.NewInstruction(PythPushOracleProgramID, solana.AccountMetaSlice{
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(PythReceiverProgramID, false, false),
			solana.NewAccountMeta(encodedVAA, false, false),
			solana.NewAccountMeta(config, false, false),
			solana.NewAccountMeta(treasury, true, false),
			solana.NewAccountMeta(feed, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		}, data)})
	}

	segments = append(segments, []solana.Instruction{solana.NewInstruction(WormholeReceiverProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(encodedVAA, true, false),
	}, ixCloseEncodedVAA)})
	return segments, nil
}

func guardianSetAccount(index uint32) (solana.PublicKey, error) {
	seed := make([]byte, 4)
	binary.BigEndian.PutUint32(seed, index)
	key, _, err := solana.FindProgramAddress([][]byte{[]byte("GuardianSet"), seed}, WormholeReceiverProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive guardian set: %w", err)
	}
	return key, nil
}

func encode(discriminator []byte, args func(enc *bin.Encoder) error) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(discriminator, false); err != nil {
		return nil, err
	}
	if err := args(enc); err != nil {
		return nil, fmt.Errorf("failed to encode instruction: %w", err)
	}
	return buf.Bytes(), nil
}

func writeVec(enc *bin.Encoder, b []byte) error {
	if err := enc.WriteUint32(uint32(len(b)), binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes(b, false)
}
