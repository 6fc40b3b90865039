package sol

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MaxTransactionSize is the serialized transaction limit of one packet
const MaxTransactionSize = 1232

// PreparedTransaction is a built transaction plus the extra keys that must sign it.
// The fee payer signs in addition to Signers.
type PreparedTransaction struct {
	Tx      *solana.Transaction
	Signers []solana.PrivateKey
}

// Sign signs the transaction with payer and the prepared signers
func (p PreparedTransaction) Sign(payer solana.PrivateKey) error {
	keys := make(map[solana.PublicKey]solana.PrivateKey, len(p.Signers)+1)
	keys[payer.PublicKey()] = payer
	for _, k := range p.Signers {
		keys[k.PublicKey()] = k
	}
	_, err := p.Tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if k, ok := keys[pub]; ok {
			return &k
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}

// TransactionSize returns the serialized size of tx once fully signed
func TransactionSize(tx *solana.Transaction) (int, error) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("failed to serialize message: %w", err)
	}
	sigs := int(tx.Message.Header.NumRequiredSignatures)
	return shortVecLen(sigs) + sigs*64 + len(msg), nil
}

func shortVecLen(n int) int {
	size := 1
	for n >= 0x80 {
		n >>= 7
		size++
	}
	return size
}

func newTransaction(ixs []solana.Instruction, payer solana.PublicKey, blockhash solana.Hash, tables map[solana.PublicKey]solana.PublicKeySlice) (*solana.Transaction, error) {
	opts := []solana.TransactionOption{solana.TransactionPayer(payer)}
	if len(tables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(tables))
	}
	return solana.NewTransaction(ixs, blockhash, opts...)
}

// Pack places ordered instruction segments into as few transactions as fit.
// Segments are never split and their relative order is preserved.
func Pack(segments [][]solana.Instruction, payer solana.PublicKey, blockhash solana.Hash, tables map[solana.PublicKey]solana.PublicKeySlice) ([]*solana.Transaction, error) {
	var (
		out     []*solana.Transaction
		current []solana.Instruction
	)

	fits := func(ixs []solana.Instruction) (*solana.Transaction, bool, error) {
		tx, err := newTransaction(ixs, payer, blockhash, tables)
		if err != nil {
			return nil, false, err
		}
		size, err := TransactionSize(tx)
		if err != nil {
			return nil, false, err
		}
		return tx, size <= MaxTransactionSize, nil
	}

	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		tx, ok, err := fits(current)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("instruction group of %d instructions exceeds %d bytes", len(current), MaxTransactionSize)
		}
		out = append(out, tx)
		current = nil
		return nil
	}

	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		candidate := append(append([]solana.Instruction{}, current...), seg...)
		_, ok, err := fits(candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to build transaction: %w", err)
		}
		if ok {
			current = candidate
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		current = append([]solana.Instruction{}, seg...)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}
