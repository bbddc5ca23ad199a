package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/arka/internal/config"
	"github.com/harun/arka/pkg/runstore"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List persisted runs or inspect one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	store, err := runstore.Open(runstore.Config{
		Path:   cfg.Store.Path,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()

	if len(args) == 1 {
		run, err := store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		steps, err := store.GetSteps(ctx, run.ID)
		if err != nil {
			return err
		}
		fmt.Printf("run %s (%s)\ntask: %s\nsteps: %d  tokens: %d in / %d out  duration: %s\n",
			run.ID, run.State, run.Task, run.StepsTaken,
			run.InputTokens, run.OutputTokens,
			time.Duration(run.DurationMs)*time.Millisecond)
		if run.Output != "" {
			fmt.Printf("output: %s\n", run.Output)
		}
		if run.Error != "" {
			fmt.Printf("error: %s\n", run.Error)
		}
		for _, step := range steps {
			fmt.Printf("\n--- step %d\n%s\n", step.StepNumber, step.Payload)
		}
		return nil
	}

	runs, err := store.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, run := range runs {
		fmt.Printf("%s  %-18s  %2d steps  %s  %s\n",
			run.CreatedAt.Format(time.RFC3339), run.State, run.StepsTaken,
			time.Duration(run.DurationMs)*time.Millisecond, run.Task)
	}
	return nil
}
