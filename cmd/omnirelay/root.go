package omnirelay

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "omnirelay",
	Short: "OmniRelay - a multi-platform message normalization and event hub",
	Long:  "OmniRelay connects chat platform adapters to a single canonical message stream, fans events out over WebSocket, and routes outbound sends back to the right platform.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.omnirelay/omnirelay.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of OmniRelay",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("omnirelay v%s\n", version)
	},
}
