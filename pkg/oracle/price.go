package oracle

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

// Oracle program IDs
const (
	PYTH_RECEIVER_PROGRAM_ID = "rec5EKMGg6MxZYaMdyBfgwp4d5rB9T1VQH5pJv5LtFJ"
	PYTH_LEGACY_PROGRAM_ID   = "FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi9epH"
	SWITCHBOARD_ONDEMAND_ID  = "SBondMDrcV3K4kxZR1HNVT7osZxAHVHgYXL5Ze1oMUv"
)

var (
	PythReceiverProgramID        = solana.MustPublicKeyFromBase58(PYTH_RECEIVER_PROGRAM_ID)
	PythLegacyProgramID          = solana.MustPublicKeyFromBase58(PYTH_LEGACY_PROGRAM_ID)
	SwitchboardOnDemandProgramID = solana.MustPublicKeyFromBase58(SWITCHBOARD_ONDEMAND_ID)
)

var (
	ErrUnsupportedOracle = errors.New("unsupported oracle account")
	ErrNonPositivePrice  = errors.New("oracle price is not positive")
)

// Price is a decoded oracle price in quote units
type Price struct {
	Value       math.LegacyDec
	Exponent    int32
	PublishTime time.Time
	FeedID      [32]byte
}

// FeedIDHex returns the feed id in the hex form used by price services
func (p Price) FeedIDHex() string {
	return "0x" + hex.EncodeToString(p.FeedID[:])
}

// Stale reports whether the price was published more than maxAge before now
func (p Price) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(p.PublishTime) > maxAge
}

// PriceDecoder decodes one provider's price account schema
type PriceDecoder interface {
	Owner() solana.PublicKey
	Decode(data []byte) (Price, error)
}

// Decoders maps owning programs to price decoders
type Decoders map[solana.PublicKey]PriceDecoder

// DefaultDecoders returns decoders for the Pyth receiver, legacy Pyth and Switchboard
// on-demand schemas
func DefaultDecoders() Decoders {
	return NewDecoders(PythReceiverDecoder{}, PythLegacyDecoder{}, SwitchboardPullDecoder{})
}

func NewDecoders(decoders ...PriceDecoder) Decoders {
	out := make(Decoders, len(decoders))
	for _, d := range decoders {
		out[d.Owner()] = d
	}
	return out
}

// Decode picks the decoder by the account's owner
func (d Decoders) Decode(owner solana.PublicKey, data []byte) (Price, error) {
	dec, ok := d[owner]
	if !ok {
		return Price{}, fmt.Errorf("%w: owner %s", ErrUnsupportedOracle, owner)
	}
	return dec.Decode(data)
}

// scalePrice converts price × 10^expo to a decimal
func scalePrice(price int64, expo int32) (math.LegacyDec, error) {
	if price <= 0 {
		return math.LegacyDec{}, ErrNonPositivePrice
	}
	switch {
	case expo < 0 && expo >= -math.LegacyPrecision:
		return math.LegacyNewDecWithPrec(price, int64(-expo)), nil
	case expo >= 0 && expo <= 18:
		return math.LegacyNewDec(price).Mul(math.LegacyNewDec(10).Power(uint64(expo))), nil
	default:
		return math.LegacyDec{}, fmt.Errorf("unsupported price exponent %d", expo)
	}
}

// PythReceiverDecoder decodes PriceUpdateV2 accounts of the Pyth receiver program
type PythReceiverDecoder struct{}

func (PythReceiverDecoder) Owner() solana.PublicKey { return PythReceiverProgramID }

func (PythReceiverDecoder) Decode(data []byte) (Price, error) {
	// discriminator(8) + write authority(32)
	offset := 40
	if len(data) < offset+1 {
		return Price{}, fmt.Errorf("price update too short: %d bytes", len(data))
	}
	// verification level: Partial{num_signatures u8} | Full
	switch data[offset] {
	case 0:
		offset += 2
	case 1:
		offset++
	default:
		return Price{}, fmt.Errorf("unknown verification level %d", data[offset])
	}
	if len(data) < offset+32+8+8+4+8 {
		return Price{}, fmt.Errorf("price update too short: %d bytes", len(data))
	}

	var p Price
	copy(p.FeedID[:], data[offset:offset+32])
	offset += 32
	price := int64(binary.LittleEndian.Uint64(data[offset : offset+8]))
	offset += 16 // price, conf
	p.Exponent = int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	p.PublishTime = time.Unix(int64(binary.LittleEndian.Uint64(data[offset:offset+8])), 0)

	value, err := scalePrice(price, p.Exponent)
	if err != nil {
		return Price{}, err
	}
	p.Value = value
	return p, nil
}

// Legacy Pyth price account
const (
	pythMagic           = 0xa1b2c3d4
	pythExponentOffset  = 20
	pythTimestampOffset = 96
	pythAggPriceOffset  = 208
	pythAggStatusOffset = 224
	pythMinSize         = 240

	pythStatusTrading = 1
)

// PythLegacyDecoder decodes price accounts of the legacy Pyth oracle program
type PythLegacyDecoder struct{}

func (PythLegacyDecoder) Owner() solana.PublicKey { return PythLegacyProgramID }

func (PythLegacyDecoder) Decode(data []byte) (Price, error) {
	if len(data) < pythMinSize {
		return Price{}, fmt.Errorf("pyth price account too short: %d bytes", len(data))
	}
	if binary.LittleEndian.Uint32(data[0:4]) != pythMagic {
		return Price{}, fmt.Errorf("not a pyth price account")
	}
	if status := binary.LittleEndian.Uint32(data[pythAggStatusOffset : pythAggStatusOffset+4]); status != pythStatusTrading {
		return Price{}, fmt.Errorf("pyth aggregate status %d is not trading", status)
	}

	var p Price
	p.Exponent = int32(binary.LittleEndian.Uint32(data[pythExponentOffset : pythExponentOffset+4]))
	p.PublishTime = time.Unix(int64(binary.LittleEndian.Uint64(data[pythTimestampOffset:pythTimestampOffset+8])), 0)
	price := int64(binary.LittleEndian.Uint64(data[pythAggPriceOffset : pythAggPriceOffset+8]))

	value, err := scalePrice(price, p.Exponent)
	if err != nil {
		return Price{}, err
	}
	p.Value = value
	return p, nil
}

// Switchboard on-demand PullFeedAccountData
const (
	switchboardFeedHashOffset  = 2120
	switchboardTimestampOffset = 2216
	switchboardResultOffset    = 2264
	switchboardResultPrecision = 18
	switchboardMinPullFeedSize = switchboardResultOffset + 16
)

// SwitchboardPullDecoder decodes the current result of Switchboard on-demand pull feeds.
// Results are i128 values with 18 decimals.
type SwitchboardPullDecoder struct{}

func (SwitchboardPullDecoder) Owner() solana.PublicKey { return SwitchboardOnDemandProgramID }

func (SwitchboardPullDecoder) Decode(data []byte) (Price, error) {
	if len(data) < switchboardMinPullFeedSize {
		return Price{}, fmt.Errorf("switchboard pull feed too short: %d bytes", len(data))
	}
	raw := data[switchboardResultOffset : switchboardResultOffset+16]
	// sign bit of the little-endian i128
	if raw[15]&0x80 != 0 {
		return Price{}, ErrNonPositivePrice
	}
	value := uint128.FromBytes(raw)
	if value.IsZero() {
		return Price{}, ErrNonPositivePrice
	}

	var p Price
	copy(p.FeedID[:], data[switchboardFeedHashOffset:switchboardFeedHashOffset+32])
	p.Exponent = -switchboardResultPrecision
	p.PublishTime = time.Unix(int64(binary.LittleEndian.Uint64(data[switchboardTimestampOffset:switchboardTimestampOffset+8])), 0)
	p.Value = math.LegacyNewDecFromBigIntWithPrec(value.Big(), switchboardResultPrecision)
	return p, nil
}
