package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler-driven monitoring service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Execute a single monitoring pass over all tickers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context())
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check the first ticker with target discount forced to zero",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Test(cmd.Context())
	},
}

var testTelegramCmd = &cobra.Command{
	Use:   "test-telegram",
	Short: "Send a probe message through the Telegram channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TestTelegram(cmd.Context())
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display latest prices and discount metrics per ticker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context())
	},
}
