package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/demo"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/observability"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the guard graph until its shift ends",
	Long: `Runs the sample guard graph at the configured tick interval and prints every
state change. The run ends when the guard goes off duty or on interrupt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		rounds, _ := cmd.Flags().GetInt("rounds")

		g, err := demo.Guard()
		if err != nil {
			return fmt.Errorf("failed to build graph: %w", err)
		}

		out := cmd.OutOrStdout()
		journal := observability.NewJournal(0)
		queue := arbor.NewMainQueue()

		opts, err := cfg.Options()
		if err != nil {
			return err
		}
		opts = append(opts,
			arbor.WithLogger(logger),
			arbor.WithDispatcher(queue),
			arbor.WithLifecycleHooks(journal.Hooks()),
			arbor.WithLifecycleHooks(domain.LifecycleHooks{
				OnStateChanged: func(_ context.Context, e *domain.StateChangedEvent) {
					fmt.Fprintf(out, "%s -> %s\n", e.FromName, e.ToName)
				},
			}),
		)
		inst, err := arbor.New(g, opts...)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shift := &demo.Shift{Rounds: rounds}
		if err := initialize(ctx, inst, shift, cfg.AsyncInitialize, queue); err != nil {
			return err
		}
		if err := inst.Start(ctx); err != nil {
			return err
		}
		for _, s := range inst.ActiveStates() {
			fmt.Fprintf(out, "start %s\n", s.Path)
		}

		runner := arbor.NewRunner()
		runner.Interval = cfg.TickInterval
		runner.Queue = queue
		runner.Logger = logger
		runner.StopOnEndState = true
		if err := runner.Run(ctx, inst); err != nil {
			return err
		}

		fmt.Fprintf(out, "%d state changes over %d patrols\n", len(journal.Events()), shift.Patrols)
		return inst.Shutdown(context.WithoutCancel(ctx))
	},
}

// initialize runs the node initialization either inline or on the worker pool,
// finishing on this goroutine through queue.
func initialize(ctx context.Context, inst *arbor.Instance, host any, async bool, queue *arbor.MainQueue) error {
	if !async {
		return inst.Initialize(ctx, host)
	}
	if err := inst.InitializeAsync(ctx, host, nil); err != nil {
		return err
	}
	if err := inst.WaitForAsyncInitializationTask(); err != nil {
		return err
	}
	queue.Drain()
	if !inst.IsInitialized() {
		return domain.ErrInitCanceled
	}
	return nil
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().IntP("rounds", "r", 2, "Patrols that end in combat before the guard goes off duty (0 runs forever)")
}
