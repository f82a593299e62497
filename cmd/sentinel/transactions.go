package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Veraticus/receipt-sentinel/internal/cli"
	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/service"
)

// importer is implemented by stores that can bulk-load historical records.
type importer interface {
	ImportTransactions(ctx context.Context, txns []model.StoredTransaction) (int, error)
}

func transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"txn"},
		Short:   "Inspect and manage stored transactions",
	}

	cmd.AddCommand(transactionsGetCmd())
	cmd.AddCommand(transactionsListCmd())
	cmd.AddCommand(transactionsDeleteCmd())
	cmd.AddCommand(transactionsImportCmd())

	return cmd
}

func transactionsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store service.Storage) error {
				txn, err := store.GetTransaction(ctx, args[0])
				if errors.Is(err, common.ErrNotFound) {
					return common.NewUserError(fmt.Sprintf("Transaction %s has not been seen", args[0]), nil)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), txn)
			})
		},
	}
}

func transactionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored transactions, newest first",
		RunE:  runTransactionsList,
	}

	cmd.Flags().String("status", "", "Only transactions with this status")
	cmd.Flags().Duration("since", 0, "Only transactions updated within this window (e.g. 24h)")
	cmd.Flags().Int("limit", 50, "Maximum rows")
	cmd.Flags().Bool("json", false, "Print as JSON")

	return cmd
}

func runTransactionsList(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetString("status")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	filter := service.TransactionFilter{Status: model.Status(status), Limit: limit}
	if filter.Status != "" && !filter.Status.Valid() {
		return common.NewUserError(fmt.Sprintf("Unknown status %q", status), nil)
	}
	if since > 0 {
		t := time.Now().Add(-since)
		filter.Since = &t
	}

	return withStore(cmd, func(ctx context.Context, store service.Storage) error {
		txns, err := store.ListTransactions(ctx, filter)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			return printJSON(out, txns)
		}
		if len(txns) == 0 {
			_, err := fmt.Fprintln(out, cli.InfoStyle.Render("No transactions found."))
			return err
		}
		return printTransactionTable(out, txns)
	})
}

func printTransactionTable(out io.Writer, txns []model.StoredTransaction) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() {
		if flushErr := w.Flush(); flushErr != nil {
			slog.Error("failed to flush table writer", "error", flushErr)
		}
	}()

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		headerStyle.Render("ID"),
		headerStyle.Render("Status"),
		headerStyle.Render("Amount"),
		headerStyle.Render("Sender"),
		headerStyle.Render("Bank date"),
		headerStyle.Render("Repeats"),
	); err != nil {
		return err
	}

	for _, t := range txns {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			t.ID,
			cli.StatusStyle(t.Status).Render(string(t.Status)),
			model.FormatAmount(t.Amount),
			t.SenderName,
			t.BankDate,
			t.RepeatCount,
		); err != nil {
			return err
		}
	}
	return nil
}

func transactionsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Forget a transaction so its receipt can be verified again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return common.NewUserError("Deleting a transaction re-opens its receipt for reuse; pass --yes to confirm", nil)
			}
			return withStore(cmd, func(ctx context.Context, store service.Storage) error {
				if err := store.DeleteTransaction(ctx, args[0]); err != nil {
					if errors.Is(err, common.ErrNotFound) {
						return common.NewUserError(fmt.Sprintf("Transaction %s has not been seen", args[0]), nil)
					}
					return err
				}
				slog.Info("Deleted transaction", "transaction_id", args[0])
				_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted "+args[0]))
				return err
			})
		},
	}
	cmd.Flags().Bool("yes", false, "Confirm the deletion")
	return cmd
}

func transactionsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Load previously verified transactions from a JSON array",
		Long: `Import transactions verified elsewhere so their receipts are recognised as
repeats. Ids already in the store are left untouched, and imports do not move
the daily counters.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read import file: %w", err)
			}
			var txns []model.StoredTransaction
			if err := json.Unmarshal(data, &txns); err != nil {
				return common.NewUserError("Import file must be a JSON array of transactions", err)
			}

			return withStore(cmd, func(ctx context.Context, store service.Storage) error {
				imp, ok := store.(importer)
				if !ok {
					return common.NewUserError("The configured database backend does not support imports", nil)
				}
				n, err := imp.ImportTransactions(ctx, txns)
				if err != nil {
					return err
				}
				slog.Info("Imported transactions", "file", args[0], "inserted", n, "total", len(txns))
				_, err = fmt.Fprintln(cmd.OutOrStdout(),
					cli.FormatSuccess(fmt.Sprintf("Imported %d of %d transactions", n, len(txns))))
				return err
			})
		},
	}
}

func withStore(cmd *cobra.Command, fn func(context.Context, service.Storage) error) error {
	ctx := cmd.Context()
	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close storage", "error", closeErr)
		}
	}()
	return fn(ctx, store)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
