package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/receipt-sentinel/internal/cli"
	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/worklist"
)

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <image>...",
		Short: "Verify one payment from its screenshots",
		Long: `Verify a single payment. Pass every screenshot belonging to the payment;
with more than one image the receipts are summed against the expected amount.

Examples:
  sentinel verify receipt.jpg --expected 150
  sentinel verify part1.png part2.png --expected 300 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: runVerify,
	}

	cmd.Flags().Float64P("expected", "e", 0, "Expected payment amount (required)")
	cmd.Flags().Bool("json", false, "Print the outcome as JSON")
	_ = cmd.MarkFlagRequired("expected")

	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	expected, _ := cmd.Flags().GetFloat64("expected")
	asJSON, _ := cmd.Flags().GetBool("json")

	if expected <= 0 {
		return common.NewUserError("--expected must be a positive amount", nil)
	}

	images := make([]model.Image, 0, len(args))
	for _, path := range args {
		img, err := worklist.ReadImage(path)
		if err != nil {
			return err
		}
		images = append(images, img)
	}

	holder, err := loadSettings()
	if err != nil {
		return err
	}

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	v, err := newVerifier(store)
	if err != nil {
		return err
	}
	defer v.Close()

	slog.Info("Verifying receipt", "images", len(images), "expected", expected)
	outcome, err := v.Verify(ctx, images, expected, holder.Snapshot())
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}
	_, err = fmt.Fprintln(out, cli.RenderOutcome(outcome))
	return err
}
