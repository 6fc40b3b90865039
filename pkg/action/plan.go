package action

import (
	"github.com/gagliardetto/solana-go"

	"sollend/pkg/sol"
)

// Bucket names one of the plan's ordered instruction groups
type Bucket int

const (
	Setup Bucket = iota
	Pre
	Lending
	Post
	Cleanup
)

func (b Bucket) String() string {
	switch b {
	case Setup:
		return "setup"
	case Pre:
		return "pre"
	case Lending:
		return "lending"
	case Post:
		return "post"
	case Cleanup:
		return "cleanup"
	}
	return "unknown"
}

// Plan is the instruction pipeline of one action. Buckets are append-only and are
// only concatenated, in bucket order, when the plan is submitted.
type Plan struct {
	Action     Type
	Obligation solana.PublicKey
	Owner      solana.PublicKey

	Setup   []solana.Instruction
	Pre     []solana.Instruction
	Lending []solana.Instruction
	Post    []solana.Instruction
	Cleanup []solana.Instruction

	// LookupTables are address lookup tables the transactions may reference
	LookupTables []solana.PublicKey
	// Companions are oracle update transactions that must land before the plan
	Companions []sol.PreparedTransaction
}

func (p *Plan) add(b Bucket, ixs ...solana.Instruction) {
	switch b {
	case Setup:
		p.Setup = append(p.Setup, ixs...)
	case Pre:
		p.Pre = append(p.Pre, ixs...)
	case Lending:
		p.Lending = append(p.Lending, ixs...)
	case Post:
		p.Post = append(p.Post, ixs...)
	case Cleanup:
		p.Cleanup = append(p.Cleanup, ixs...)
	}
}

func (p *Plan) addLookupTables(keys ...solana.PublicKey) {
	for _, k := range keys {
		if k.IsZero() {
			continue
		}
		dup := false
		for _, have := range p.LookupTables {
			if have.Equals(k) {
				dup = true
				break
			}
		}
		if !dup {
			p.LookupTables = append(p.LookupTables, k)
		}
	}
}

// Bucket returns the instructions of b
func (p *Plan) Bucket(b Bucket) []solana.Instruction {
	switch b {
	case Setup:
		return p.Setup
	case Pre:
		return p.Pre
	case Lending:
		return p.Lending
	case Post:
		return p.Post
	case Cleanup:
		return p.Cleanup
	}
	return nil
}

// Instructions concatenates every bucket in execution order
func (p *Plan) Instructions() []solana.Instruction {
	out := make([]solana.Instruction, 0, p.Len())
	for b := Setup; b <= Cleanup; b++ {
		out = append(out, p.Bucket(b)...)
	}
	return out
}

func (p *Plan) Len() int {
	return len(p.Setup) + len(p.Pre) + len(p.Lending) + len(p.Post) + len(p.Cleanup)
}

// Segments groups the buckets into the units that may not be split across transactions:
// setup, then pre+lending+post, then cleanup.
func (p *Plan) Segments() [][]solana.Instruction {
	core := make([]solana.Instruction, 0, len(p.Pre)+len(p.Lending)+len(p.Post))
	core = append(core, p.Pre...)
	core = append(core, p.Lending...)
	core = append(core, p.Post...)
	return [][]solana.Instruction{p.Setup, core, p.Cleanup}
}
