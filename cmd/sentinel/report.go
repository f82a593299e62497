package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/receipt-sentinel/internal/cli"
	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/config"
	"github.com/Veraticus/receipt-sentinel/internal/service"
	"github.com/Veraticus/receipt-sentinel/internal/sheets"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export a day's verification report to Google Sheets",
		Long: `Write the day's status counters and the transactions verified that day to a
tab of the configured spreadsheet. Re-running the report for the same day
replaces that tab.

Examples:
  sentinel report
  sentinel report --day 2025-03-14
  sentinel report --print`,
		RunE: runReport,
	}

	cmd.Flags().String("day", "", "Day to report, YYYY-MM-DD (default: today)")
	cmd.Flags().Bool("print", false, "Print the counters instead of exporting")

	cmd.AddCommand(reportAuthCmd())

	return cmd
}

func runReport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	dayFlag, _ := cmd.Flags().GetString("day")
	printOnly, _ := cmd.Flags().GetBool("print")

	tz := viper.GetString("sheets.timezone")
	if tz == "" {
		tz = sheets.DefaultConfig().TimeZone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("%w: timezone %q: %w", common.ErrInvalidConfig, tz, err)
	}

	day := time.Now().In(loc)
	if dayFlag != "" {
		day, err = time.ParseInLocation("2006-01-02", dayFlag, loc)
		if err != nil {
			return common.NewUserError("--day must look like 2025-03-14", err)
		}
	}

	var report sheets.Report
	err = withStore(cmd, func(ctx context.Context, store service.Storage) error {
		report, err = buildReport(ctx, store, day)
		return err
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if printOnly {
		var b strings.Builder
		for _, c := range report.Counts {
			fmt.Fprintf(&b, "  %s %d\n", cli.StatusStyle(c.Status).Render(fmt.Sprintf("%-18s", c.Status)), c.Count)
		}
		fmt.Fprintf(&b, "\n  Total %d, %d transactions", report.Total(), len(report.Transactions))
		_, err := fmt.Fprintln(out, cli.RenderBox("Report "+report.SheetTitle(), b.String()))
		return err
	}

	cfg, err := config.LoadSheetsConfig(viper.GetViper())
	if err != nil {
		return common.NewUserError("Google Sheets is not configured (see 'sentinel report auth')", err)
	}
	writer, err := sheets.NewWriter(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}

	slog.Info("Starting report export", "day", report.SheetTitle(), "transactions", len(report.Transactions))
	id, err := writer.Write(ctx, report)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if _, err := fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf(
		"Exported %s to https://docs.google.com/spreadsheets/d/%s", report.SheetTitle(), id))); err != nil {
		return err
	}
	if cfg.SpreadsheetID == "" {
		_, err = fmt.Fprintln(out, cli.FormatInfo("Set sheets.spreadsheet_id: "+id+" to keep writing to this spreadsheet"))
	}
	return err
}

// buildReport collects the day's counters and the transactions last updated that day.
func buildReport(ctx context.Context, store service.Storage, day time.Time) (sheets.Report, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	counts, err := store.DailyCounts(ctx, start)
	if err != nil {
		return sheets.Report{}, fmt.Errorf("failed to read counters: %w", err)
	}

	txns, err := store.ListTransactions(ctx, service.TransactionFilter{Since: &start})
	if err != nil {
		return sheets.Report{}, fmt.Errorf("failed to list transactions: %w", err)
	}
	report := sheets.Report{Day: start, Counts: counts}
	for _, t := range txns {
		if t.UpdatedAt.Before(end) {
			report.Transactions = append(report.Transactions, t)
		}
	}
	return report, nil
}

func reportAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize Google Sheets access through the browser",
		Long: `Run the OAuth2 consent flow once and store the token file. Requires
sheets.client_id and sheets.client_secret (or GOOGLE_SHEETS_CLIENT_ID and
GOOGLE_SHEETS_CLIENT_SECRET).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			listen, _ := cmd.Flags().GetString("listen")

			cfg := sheets.Config{
				ClientID:     viper.GetString("sheets.client_id"),
				ClientSecret: viper.GetString("sheets.client_secret"),
				TokenFile:    config.ExpandPath(viper.GetString("sheets.token_file")),
			}
			cfg.LoadFromEnv()
			if cfg.ClientID == "" || cfg.ClientSecret == "" {
				return common.NewUserError("sheets.client_id and sheets.client_secret are required", common.ErrMissingConfig)
			}

			if _, err := sheets.GetOrCreateToken(cmd.Context(), sheets.OAuth2Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				TokenFile:    cfg.TokenFile,
				ListenAddr:   listen,
			}); err != nil {
				return fmt.Errorf("authorization failed: %w", err)
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Token saved to "+cfg.TokenFile))
			return err
		},
	}
	cmd.Flags().String("listen", "", "Callback listen address (default 127.0.0.1:8080)")
	return cmd
}
