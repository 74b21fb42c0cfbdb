package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openrating/waterfall/internal/config"
	"github.com/openrating/waterfall/internal/model"
	"github.com/openrating/waterfall/internal/simulation"
	"github.com/openrating/waterfall/internal/store"
)

// runCmd simulates a deal and prints the ensemble summary.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a Monte Carlo ensemble over a deal",
	Long: `Run draws independent default paths for the deal's collateral pool,
applies the waterfall to each and prints averaged results.

Examples:
  waterfall run --deal deal.yaml
  waterfall run --deal deal.yaml --trials 10000 --seed 7 --format table
  waterfall run --deal deal.yaml --sqlite runs.db`,
	RunE: runRun,
}

// Run command flags
var (
	runDealPath string
	runTrials   int
	runSeed     int64
	runWorkers  int
	runSQLite   string
	runFormat   string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runDealPath, "deal", "", "Path to the deal YAML file (required)")
	runCmd.Flags().IntVar(&runTrials, "trials", 1000, "Number of trials")
	runCmd.Flags().Int64Var(&runSeed, "seed", 1, "Base seed; trial i uses seed+i")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Parallel trials (0 = GOMAXPROCS)")
	runCmd.Flags().StringVar(&runSQLite, "sqlite", "", "Record the run in this SQLite database")
	runCmd.Flags().StringVar(&runFormat, "format", "json", "Output format (json|table)")
	runCmd.MarkFlagRequired("deal")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runTrials <= 0 {
		return fmt.Errorf("--trials must be positive, got %d", runTrials)
	}
	if runFormat != "json" && runFormat != "table" {
		return fmt.Errorf("unknown --format %q", runFormat)
	}

	deal, err := config.LoadDeal(runDealPath)
	if err != nil {
		return err
	}
	plan, err := simulation.Prepare(deal)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	now := time.Now().UTC()
	run := &model.Run{
		ID:        uuid.New().String(),
		DealName:  deal.Name,
		Trials:    runTrials,
		Seed:      runSeed,
		Status:    model.RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var rec *store.SQLiteStore
	if runSQLite != "" {
		if rec, err = store.NewSQLiteStore(runSQLite); err != nil {
			return err
		}
		defer rec.Close()
		if err := rec.CreateRun(ctx, run); err != nil {
			return err
		}
	}

	slog.Info("running ensemble",
		"deal", deal.Name,
		"trials", runTrials,
		"seed", runSeed,
		"periods", plan.Periods(),
		"waterfall", string(deal.Waterfall),
	)

	outcomes, err := simulation.Ensemble{Workers: runWorkers}.Run(ctx, plan, runTrials, runSeed)
	if err != nil {
		if rec != nil {
			rec.FailRun(context.Background(), run.ID, err.Error())
		}
		return err
	}

	run.Summary = simulation.Summarize(outcomes)
	run.Status = model.RunCompleted
	if run.Summary.Completed == 0 {
		run.Status = model.RunFailed
		run.Error = fmt.Sprintf("all %d trials failed: %v", runTrials, run.Summary.FailureReasons)
	}
	run.UpdatedAt = time.Now().UTC()

	if rec != nil {
		if run.Status == model.RunCompleted {
			err = rec.CompleteRun(ctx, run.ID, run.Summary)
		} else {
			err = rec.FailRun(ctx, run.ID, run.Error)
		}
		if err != nil {
			return err
		}
		slog.Info("run recorded", "id", run.ID, "path", runSQLite)
	}

	out := cmd.OutOrStdout()
	if runFormat == "table" {
		writeTable(out, run)
	} else {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}
	}

	if run.Status == model.RunFailed {
		return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
	}
	return nil
}

func writeTable(out io.Writer, run *model.Run) {
	s := run.Summary
	fmt.Fprintf(out, "Deal %s: %d trials (%d failed), seed %d\n", run.DealName, run.Trials, s.Failed, run.Seed)
	fmt.Fprintf(out, "Mean cumulative loss: %s\n", s.MeanCumulativeLoss.StringFixed(2))
	fmt.Fprintf(out, "Mean excess spread:   %s\n\n", s.MeanExcessSpread.StringFixed(2))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRANCHE\tPRICE\tFLAT\tWAL\tEXP LOSS\tP(LOSS)")
	for _, tr := range s.Tranches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			tr.Name,
			tr.MeanPrice.StringFixed(4),
			tr.MeanFlatPrice.StringFixed(4),
			tr.MeanWAL.StringFixed(2),
			tr.ExpectedLoss.StringFixed(6),
			tr.LossProbability.StringFixed(4),
		)
	}
	w.Flush()
}
