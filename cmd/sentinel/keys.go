package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/receipt-sentinel/internal/cli"
	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/config"
	"github.com/Veraticus/receipt-sentinel/internal/llm"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Show vision API key rotation",
		Long: `List the configured vision API keys (masked) and mark the one extraction
will start from. Keys come from vision.keys followed by SENTINEL_VISION_KEY_1..N.`,
		RunE: runKeys,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "use <n>",
		Short: "Start rotation at key n (1-based)",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeysUse,
	})

	return cmd
}

func runKeys(cmd *cobra.Command, _ []string) error {
	vc, err := config.VisionFromViper(viper.GetViper())
	if err != nil {
		return err
	}
	creds, err := credentialSet(vc)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Provider: %s\n", vc.Provider)
	if vc.Model != "" {
		fmt.Fprintf(&b, "Model: %s\n", vc.Model)
	}
	fmt.Fprintf(&b, "Spacing: %s between calls\n\n", vc.MinInterval)
	for i := range creds.Len() {
		marker := "  "
		line := fmt.Sprintf("%d. %s", i+1, llm.Mask(creds.Key(i)))
		if i == creds.Active() {
			marker = cli.SuccessStyle.Render("▸ ")
			line = cli.BoldStyle.Render(line)
		}
		b.WriteString(marker + line + "\n")
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox("Vision keys", strings.TrimRight(b.String(), "\n")))
	return err
}

func runKeysUse(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return common.NewUserError("Key number must be a positive integer", err)
	}

	vc, err := config.VisionFromViper(viper.GetViper())
	if err != nil {
		return err
	}
	if vc.StatePath == "" {
		return common.NewUserError("vision.state_path is not set; nothing to persist the choice to", common.ErrMissingConfig)
	}
	creds, err := credentialSet(vc)
	if err != nil {
		return err
	}
	if n > creds.Len() {
		return common.NewUserError(fmt.Sprintf("Only %d key(s) are configured", creds.Len()), nil)
	}

	if !creds.SetActive(n - 1) {
		if err := llm.SaveActiveIndex(vc.StatePath, n-1); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Rotation starts at key %d (%s)", n, llm.Mask(creds.Key(n-1)))))
	return err
}
