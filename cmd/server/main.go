// ocobot - исполнение торговых сигналов с OCO защитой позиций
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ocobot",
		Short: "Trading signal executor with OCO-protected positions",
		Long: `ocobot accepts trading signals, opens positions with market orders and
protects each position with a linked stop-loss / take-profit pair.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "path to .env file (optional)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(hashPasswordCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ocobot version %s\n", version)
		},
	}
}
