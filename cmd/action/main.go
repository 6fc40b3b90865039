package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"

	"sollend/pkg/action"
	"sollend/pkg/app"
	"sollend/pkg/config"
	"sollend/pkg/lending"
	"sollend/pkg/logger"
)

type PlanSummary struct {
	Action       string          `json:"action"`
	Obligation   string          `json:"obligation"`
	Owner        string          `json:"owner"`
	Buckets      []BucketSummary `json:"buckets"`
	LookupTables []string        `json:"lookupTables,omitempty"`
	Companions   int             `json:"companionTransactions"`
	Signature    string          `json:"signature,omitempty"`
}

type BucketSummary struct {
	Name         string               `json:"name"`
	Instructions []InstructionSummary `json:"instructions"`
}

type InstructionSummary struct {
	Program  string `json:"program"`
	Accounts int    `json:"accounts"`
	Data     string `json:"data"`
}

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}

	types := make([]string, len(action.Types))
	for i, t := range action.Types {
		types[i] = string(t)
	}

	cliApp := &cli.App{
		Name:      "action",
		Usage:     "Build a lending action plan and optionally submit it",
		ArgsUsage: "<" + strings.Join(types, "|") + ">",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "market", Usage: "Lending market address", Required: true},
			&cli.StringFlag{Name: "reserve", Usage: "Reserve address (the collateral side of a liquidation)", Required: true},
			&cli.StringFlag{Name: "amount", Usage: `Amount in base units, or "max"`, Required: true},
			&cli.StringFlag{Name: "repay-reserve", Usage: "Debt reserve of a liquidation"},
			&cli.StringFlag{Name: "obligation", Usage: "Obligation address (defaults to the wallet's own)"},
			&cli.StringFlag{Name: "host-ata", Usage: "Host fee receiver for borrows (defaults to HOST_FEE_RECEIVER)"},
			&cli.StringFlag{Name: "lookup-table", Usage: "Address lookup table for the action transaction"},
			&cli.BoolFlag{Name: "submit", Usage: "Sign and submit the plan instead of printing it"},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowAppHelp(c)
	}
	actionType, err := action.ParseType(c.Args().First())
	if err != nil {
		return err
	}
	amount, err := parseAmount(c.String("amount"))
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Initialize(cfg.LogLevel)

	a, err := app.New(c.Context, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	marketKey, err := parseKey(c, "market")
	if err != nil {
		return err
	}
	pool, err := a.Loader.LoadPool(c.Context, marketKey)
	if err != nil {
		return err
	}

	req := action.Request{
		Action: actionType,
		Pool:   pool,
		Amount: amount,
		Owner:  a.Payer.PublicKey(),
	}
	reserveKey, err := parseKey(c, "reserve")
	if err != nil {
		return err
	}
	var ok bool
	if req.Reserve, ok = pool.Reserve(reserveKey); !ok {
		return fmt.Errorf("reserve %s is not part of market %s", reserveKey, marketKey)
	}
	if c.IsSet("repay-reserve") {
		repayKey, err := parseKey(c, "repay-reserve")
		if err != nil {
			return err
		}
		if req.RepayReserve, ok = pool.Reserve(repayKey); !ok {
			return fmt.Errorf("reserve %s is not part of market %s", repayKey, marketKey)
		}
	}
	if req.Obligation, err = parseKey(c, "obligation"); err != nil {
		return err
	}
	if req.LookupTable, err = parseKey(c, "lookup-table"); err != nil {
		return err
	}
	req.HostATA = cfg.HostFeeReceiver
	if c.IsSet("host-ata") {
		if req.HostATA, err = parseKey(c, "host-ata"); err != nil {
			return err
		}
	}

	plan, err := a.Builder.Build(c.Context, req)
	if err != nil {
		return err
	}

	summary := summarize(plan)
	if c.Bool("submit") {
		sig, err := a.Submitter.Submit(c.Context, plan)
		if err != nil {
			return err
		}
		summary.Signature = sig.String()
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func parseAmount(raw string) (uint64, error) {
	if strings.EqualFold(raw, "max") {
		return lending.U64Max, nil
	}
	amount, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, nil
}

// parseKey returns the zero key for an unset flag
func parseKey(c *cli.Context, flag string) (solana.PublicKey, error) {
	raw := c.String(flag)
	if raw == "" {
		return solana.PublicKey{}, nil
	}
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid --%s address: %w", flag, err)
	}
	return key, nil
}

func summarize(plan *action.Plan) PlanSummary {
	s := PlanSummary{
		Action:     string(plan.Action),
		Obligation: plan.Obligation.String(),
		Owner:      plan.Owner.String(),
		Companions: len(plan.Companions),
	}
	for _, t := range plan.LookupTables {
		s.LookupTables = append(s.LookupTables, t.String())
	}
	for b := action.Setup; b <= action.Cleanup; b++ {
		bucket := BucketSummary{Name: b.String(), Instructions: []InstructionSummary{}}
		for _, ix := range plan.Bucket(b) {
			data, _ := ix.Data()
			bucket.Instructions = append(bucket.Instructions, InstructionSummary{
				Program:  ix.ProgramID().String(),
				Accounts: len(ix.Accounts()),
				Data:     fmt.Sprintf("%x", data),
			})
		}
		s.Buckets = append(s.Buckets, bucket)
	}
	return s
}
