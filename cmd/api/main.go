package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "suggestbox-api",
	Short: "Anonymous suggestion box API",
	Long: `suggestbox-api serves the anonymous suggestion box: public submission,
lookup by tracking code and the staff review console.

Configuration comes from the environment (and .env in development).
Running without a subcommand is the same as "serve".`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
