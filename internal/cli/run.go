package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/arka/internal/config"
	"github.com/harun/arka/internal/logger"
	"github.com/harun/arka/pkg/agent"
	"github.com/harun/arka/pkg/control"
	"github.com/harun/arka/pkg/events"
	"github.com/harun/arka/pkg/model"
	"github.com/harun/arka/pkg/planner"
	"github.com/harun/arka/pkg/runstore"
	"github.com/harun/arka/pkg/sandbox"
	"github.com/harun/arka/pkg/tools"
)

var (
	runMaxSteps    int
	runInteractive bool
	runShowSteps   bool
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run an agent task to completion",
	Long: `Run an agent task through the step loop and print the final answer.
With --interactive the agent may suspend mid-step to ask for input or
confirmation on the terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "maximum number of steps (0 uses config)")
	runCmd.Flags().BoolVar(&runInteractive, "interactive", false, "answer agent questions on the terminal")
	runCmd.Flags().BoolVar(&runShowSteps, "steps", false, "print each step as it completes")
	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if runMaxSteps > 0 {
		cfg.Agent.MaxSteps = runMaxSteps
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  true,
	})
	if err != nil {
		return err
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	runner, cleanup, err := buildRunner(cfg, zl)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := agent.RunParams{Task: args[0]}

	var result *agent.RunResult
	if runInteractive {
		result, err = runSuspendable(ctx, runner, params)
	} else {
		result, err = runBlocking(ctx, runner, params)
	}
	if err != nil {
		return err
	}

	return printResult(result)
}

func runBlocking(ctx context.Context, runner *agent.Runner, params agent.RunParams) (*agent.RunResult, error) {
	if !runShowSteps {
		return runner.Run(ctx, params)
	}

	stream, err := runner.RunStream(ctx, params)
	if err != nil {
		return nil, err
	}
	for {
		step, ok := stream.Next(ctx)
		if !ok {
			break
		}
		printStep(step)
	}
	return stream.Result(), nil
}

func runSuspendable(ctx context.Context, runner *agent.Runner, params agent.RunParams) (*agent.RunResult, error) {
	handle, err := runner.RunSuspendable(ctx, params)
	if err != nil {
		return nil, err
	}

	reader := bufio.NewReader(os.Stdin)
	steps := handle.Steps()
	requests := handle.Requests()

	for steps != nil || requests != nil {
		select {
		case step, ok := <-steps:
			if !ok {
				steps = nil
				continue
			}
			if runShowSteps {
				printStep(step)
			}
		case req, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}
			resp, err := promptUser(reader, req)
			if err != nil {
				handle.Cancel()
				return handle.Result(), nil
			}
			if err := handle.Respond(resp); err != nil {
				return nil, err
			}
		case <-ctx.Done():
			handle.Cancel()
			return handle.Result(), nil
		}
	}
	return handle.Result(), nil
}

func promptUser(reader *bufio.Reader, req control.Request) (control.Response, error) {
	switch req.Kind {
	case control.KindConfirmation:
		fmt.Printf("\n%s [y/N]: ", req.Prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			return control.Response{}, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return control.Response{Approved: answer == "y" || answer == "yes"}, nil
	default:
		fmt.Printf("\n%s: ", req.Prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			return control.Response{}, err
		}
		return control.Response{Approved: true, Value: strings.TrimSpace(line)}, nil
	}
}

func printStep(step *agent.ActionStep) {
	fmt.Printf("--- step %d (%s)\n", step.StepNumber, step.Duration.Round(time.Millisecond))
	if step.Error != "" {
		fmt.Printf("error: %s\n", step.Error)
	}
	if step.Observation != "" {
		fmt.Println(step.Observation)
	}
}

func printResult(result *agent.RunResult) error {
	switch result.State {
	case agent.StateSuccess:
		fmt.Printf("\n%v\n", result.Output)
		return nil
	case agent.StateMaxSteps:
		return fmt.Errorf("run stopped after %d steps without a final answer", result.StepsTaken)
	default:
		return fmt.Errorf("run failed: %s", result.Error)
	}
}

// buildRunner assembles the agent and its collaborators from config.
// cleanup releases everything buildRunner opened.
func buildRunner(cfg *config.Config, zl zerolog.Logger) (*agent.Runner, func(), error) {
	provider, err := model.NewProvider(cfg.Provider.Name, cfg.Provider.APIKey)
	if err != nil {
		return nil, nil, err
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	ctrl := control.New()
	registry := tools.NewRegistry()
	for _, def := range []tools.Definition{tools.UserInput(ctrl), tools.Confirm(ctrl)} {
		if err := registry.Register(def); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	var plan *planner.Planner
	if cfg.Planning.Interval > 0 {
		plan, err = planner.New(planner.Config{
			Provider:    provider,
			Model:       cfg.Provider.Model,
			TemplateDir: cfg.Planning.TemplateDir,
			Logger:      zl,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { plan.Close() })
	}

	var exec sandbox.Executor
	if cfg.Sandbox.Enabled {
		host, err := sandbox.NewHostExecutor(sandbox.Config{
			DefaultTimeout: time.Duration(cfg.Sandbox.TimeoutSec) * time.Second,
			WorkingDir:     cfg.Sandbox.WorkingDir,
		}, zl)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		exec = host
	}

	var store *runstore.Store
	if cfg.Store.Enabled {
		store, err = runstore.Open(runstore.Config{
			Path:      cfg.Store.Path,
			Retention: time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour,
			Logger:    zl,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { store.Close() })
	}

	var sink events.Sink = events.NopSink{}
	if cfg.Events.WebSocketURL != "" {
		ws, err := events.NewWebSocketSink(cfg.Events.WebSocketURL, zl)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { ws.Close() })
		sink = ws
	}

	runner, err := agent.New(agent.Config{
		Provider:           provider,
		Model:              cfg.Provider.Model,
		Registry:           registry,
		MaxSteps:           cfg.Agent.MaxSteps,
		PlanningInterval:   cfg.Planning.Interval,
		Planner:            plan,
		Instructions:       cfg.Agent.Instructions,
		Control:            ctrl,
		Events:             sink,
		Store:              store,
		Sandbox:            exec,
		MaxToolConcurrency: cfg.Agent.MaxToolConcurrency,
		Temperature:        cfg.Agent.Temperature,
		MaxTokens:          cfg.Agent.MaxTokens,
		Logger:             zl,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() { runner.Close() })

	return runner, cleanup, nil
}
