package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openrating/waterfall/internal/config"
	"github.com/openrating/waterfall/internal/simulation"
)

// validateCmd checks a deal file without simulating it.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a deal file",
	Long: `Validate parses the deal, applies defaults and builds the simulation
plan: calendar, index and trigger paths, default curves and the
correlation factor. Any configuration error is reported and nothing
is simulated.`,
	RunE: runValidate,
}

var validateDealPath string

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateDealPath, "deal", "", "Path to the deal YAML file (required)")
	validateCmd.MarkFlagRequired("deal")
}

func runValidate(cmd *cobra.Command, args []string) error {
	deal, err := config.LoadDeal(validateDealPath)
	if err != nil {
		return err
	}
	plan, err := simulation.Prepare(deal)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "deal %q is valid\n", deal.Name)
	fmt.Fprintf(out, "  periods:         %d (%d per year)\n", plan.Periods(), plan.PeriodsPerYear)
	fmt.Fprintf(out, "  pool:            %s, balance %.2f\n", deal.Pool.Model, plan.InitialBalance)
	fmt.Fprintf(out, "  waterfall:       %s\n", deal.Waterfall)
	fmt.Fprintf(out, "  tranches:        %d\n", len(deal.Tranches))
	if deal.HasProRata() {
		fmt.Fprintf(out, "  trigger:         %.2f at period 1\n", plan.Triggers[1])
	}
	return nil
}
