package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tradeflow/internal/id"
	"tradeflow/internal/logger"
	"tradeflow/internal/types"
)

// decisionInput is one entry of a submit file.
type decisionInput struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Action   string          `json:"action"`
	Plan     json.RawMessage `json:"plan,omitempty"`
	TradeRef string          `json:"trade_ref,omitempty"`
	OrderRef string          `json:"order_ref,omitempty"`
	Approved *bool           `json:"approved,omitempty"`
}

func (in decisionInput) decision(now time.Time) (types.Decision, error) {
	action, err := types.DecodeAction(types.ActionKind(in.Action), string(in.Plan))
	if err != nil {
		return types.Decision{}, err
	}
	d := types.Decision{
		ID:        in.ID,
		Symbol:    types.NormalizeSymbol(in.Symbol),
		Timestamp: now,
		Action:    action,
		Approved:  in.Approved == nil || *in.Approved,
		TradeRef:  in.TradeRef,
		OrderRef:  in.OrderRef,
	}
	if d.ID == "" {
		d.ID = id.New()
	}
	if d.Symbol == "" {
		return types.Decision{}, fmt.Errorf("decision %s: symbol is required", d.ID)
	}
	return d, nil
}

func newSubmitCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "submit FILE",
		Short: "Queue decisions from a JSON file for the executor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var inputs []decisionInput
			if err := json.Unmarshal(b, &inputs); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			a, err := bootstrap(ctx, f.configPath, f.dbPath)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			now := time.Now().UTC()
			for _, in := range inputs {
				d, err := in.decision(now)
				if err != nil {
					return err
				}
				if err := a.ledger.InsertDecision(ctx, d); err != nil {
					return fmt.Errorf("insert decision %s: %w", d.ID, err)
				}
				logger.Info(ctx, "Decision queued", "decision_id", d.ID, "symbol", d.Symbol, "action", d.Action.Kind())
				fmt.Println(d.ID)
			}
			return nil
		},
	}
}
