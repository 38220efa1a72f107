package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"suggestbox/api/internal/app"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the root account and apply the seed file",
	Long: `seed creates the root super admin when no super admin exists, then
adds departments (only into an empty table) and any seed accounts whose
usernames are still free. Running it twice changes nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadForCommand()
		if err != nil {
			return err
		}
		if seedFile != "" {
			cfg.SeedFile = seedFile
		}
		data, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer data.Close()

		svc, err := app.New(cfg, data.store)
		if err != nil {
			return err
		}
		if err := svc.Bootstrap(cmd.Context()); err != nil {
			return err
		}
		if cfg.SeedFile == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "no seed file configured; pass --file or set SEED_FILE")
			return nil
		}
		seed, err := app.LoadSeed(cfg.SeedFile)
		if err != nil {
			return err
		}
		report, err := svc.Seed(cmd.Context(), seed)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d departments and %d staff accounts\n", report.Departments, report.Staff)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "Seed file (defaults to SEED_FILE)")
	rootCmd.AddCommand(seedCmd)
}
