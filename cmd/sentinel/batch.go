package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/receipt-sentinel/internal/cli"
	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/engine"
	"github.com/Veraticus/receipt-sentinel/internal/tui"
	"github.com/Veraticus/receipt-sentinel/internal/tui/themes"
	"github.com/Veraticus/receipt-sentinel/internal/worklist"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <manifest.json>",
		Short: "Work through a manifest of pending payments",
		Long: `Verify every row of a worklist manifest, confirming or rejecting rows as the
outcome policy dictates and asking for a review when it does not.

Decisions are appended to a results file next to the manifest; running the same
command again resumes where the last run stopped.`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}

	cmd.Flags().String("results", "", "Decisions file (default: <manifest>.results.jsonl)")
	cmd.Flags().Bool("full-auto", false, "Never stop for review; advance pages automatically")
	cmd.Flags().Bool("skip-random", false, "Skip rows whose screenshot has no transaction id")
	cmd.Flags().Bool("skip-pdf", false, "Skip rows backed by a PDF instead of screenshots")
	cmd.Flags().Bool("reverse", false, "Process rows bottom-up")
	cmd.Flags().Bool("accept-partial", false, "Confirm multi-image payments that cover part of the amount")
	cmd.Flags().Int("concurrency", 0, "Rows verified at once (default from config)")
	cmd.Flags().Bool("plain", false, "Use line prompts instead of the review screen")
	cmd.Flags().String("theme", "default", "Review screen theme (default, catppuccin)")

	_ = viper.BindPFlag("batch.full_auto", cmd.Flags().Lookup("full-auto"))
	_ = viper.BindPFlag("batch.skip_random", cmd.Flags().Lookup("skip-random"))
	_ = viper.BindPFlag("batch.skip_pdf", cmd.Flags().Lookup("skip-pdf"))
	_ = viper.BindPFlag("batch.reverse_order", cmd.Flags().Lookup("reverse"))
	_ = viper.BindPFlag("batch.accept_partial", cmd.Flags().Lookup("accept-partial"))

	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	manifest := args[0]
	results, _ := cmd.Flags().GetString("results")
	plain, _ := cmd.Flags().GetBool("plain")
	themeName, _ := cmd.Flags().GetString("theme")
	out := cmd.OutOrStdout()

	if cmd.Flags().Changed("concurrency") {
		n, _ := cmd.Flags().GetInt("concurrency")
		viper.Set("batch.concurrency", n)
	}

	holder, err := loadSettings()
	if err != nil {
		return err
	}
	watchSettings(holder)

	wl, err := worklist.Open(manifest, results, worklist.WithLogger(slog.Default()))
	if err != nil {
		return common.NewUserError("Could not open the worklist", err)
	}

	// The interrupt handler owns signals for the batch so a first Ctrl+C can
	// stop it without tearing down the context.
	base, release := context.WithCancel(context.WithoutCancel(cmd.Context()))
	defer release()
	interrupts := cli.NewInterruptHandler(out)
	ctx := interrupts.HandleInterrupts(base, "sentinel batch "+strings.Join(args, " "))

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

	var reviewer engine.Reviewer
	if plain || !isTerminal(os.Stdin) {
		reviewer = cli.NewCLIPrompter(cmd.InOrStdin(), out)
	} else {
		reviewer = tui.New(tui.WithTheme(themes.ByName(themeName)))
	}
	progress := cli.NewProgressReporter(out, -1)

	orch, err := engine.New(engine.Config{
		Worklist: wl,
		Verifier: v,
		Settings: holder,
		Reviewer: reviewer,
		Observer: progress,
		Marks:    store,
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}
	interrupts.SetGracefulStop(orch.Stop)

	if _, err := fmt.Fprintln(out, cli.FormatTitle("Verifying "+manifest)); err != nil {
		return err
	}

	summary, runErr := orch.Run(ctx)

	if _, err := fmt.Fprintln(out, cli.FormatSummary(summary)); err != nil {
		slog.Warn("Failed to write summary", "error", err)
	}
	if errors.Is(runErr, context.Canceled) && interrupts.WasInterrupted() {
		return nil
	}
	return runErr
}

// isTerminal reports whether f is an interactive character device.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
