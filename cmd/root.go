package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/arbloop/flasharb/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "flasharb",
	Short: "A flash-borrow workflow-chain settlement engine",
	Long: `flasharb borrows uncollateralized liquidity through a pool-style flash
loan or a cross-asset flash swap, routes it through a chain of swap
workflows, and atomically verifies that the chain returns enough to repay
principal, premium, and the platform fee, paying out any surplus.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initRoot)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (json or yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initRoot() {
	utils.InitLogger(debug)
}
