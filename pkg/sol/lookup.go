package sol

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// lookupTableMetaSize is the fixed header preceding the address list
const lookupTableMetaSize = 56

// DecodeLookupTable returns the addresses stored in an address lookup table account
func DecodeLookupTable(data []byte) (solana.PublicKeySlice, error) {
	if len(data) < lookupTableMetaSize {
		return nil, fmt.Errorf("lookup table data too short: %d bytes", len(data))
	}
	body := data[lookupTableMetaSize:]
	if len(body)%32 != 0 {
		return nil, fmt.Errorf("lookup table address section is %d bytes, not a multiple of 32", len(body))
	}
	out := make(solana.PublicKeySlice, len(body)/32)
	for i := range out {
		copy(out[i][:], body[i*32:(i+1)*32])
	}
	return out, nil
}

// LookupTables fetches and decodes the given address lookup tables
func LookupTables(ctx context.Context, reader AccountReader, keys []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	accounts, err := reader.GetAccounts(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lookup tables: %w", err)
	}
	out := make(map[solana.PublicKey]solana.PublicKeySlice, len(keys))
	for i, k := range keys {
		data := AccountData(accounts[i])
		if data == nil {
			return nil, fmt.Errorf("lookup table %s not found", k)
		}
		addrs, err := DecodeLookupTable(data)
		if err != nil {
			return nil, fmt.Errorf("lookup table %s: %w", k, err)
		}
		out[k] = addrs
	}
	return out, nil
}
