// Command rvos boots the kernel on the hosted board and runs a set of demo
// programs.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"rvos/apps"
	"rvos/machine"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "rvos",
		Short:        "Boot the teaching kernel on a hosted RV64 board",
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd(), newAppsCmd())
	return root
}

type runOptions struct {
	configPath       string
	apps             []string
	tracePath        string
	logLevel         string
	kernelInterrupts bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the selected programs and run them until the board powers off",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBoard(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "board manifest (YAML)")
	flags.StringSliceVarP(&opts.apps, "app", "a", nil, "program to load; repeat to load several (overrides the manifest)")
	flags.StringVar(&opts.tracePath, "trace", "", "write a span per trap to this file ('-' for stderr)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "board log level (trace, debug, info, warn, error)")
	flags.BoolVar(&opts.kernelInterrupts, "kernel-interrupts", false, "let the timer interrupt the kernel")

	return cmd
}

func newAppsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List the programs that can be loaded",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range apps.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func runBoard(cmd *cobra.Command, opts *runOptions) error {
	cfg := machine.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = machine.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}
	if len(opts.apps) != 0 {
		cfg.Apps = opts.apps
	}
	if cmd.Flags().Changed("kernel-interrupts") {
		cfg.KernelInterrupts = opts.kernelInterrupts
	}

	programs, err := apps.Resolve(cfg.Apps)
	if err != nil {
		return err
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "rvos",
		Level:  hclog.LevelFromString(opts.logLevel),
		Output: cmd.ErrOrStderr(),
	})

	boardOpts := []machine.Option{
		machine.WithConsole(cmd.OutOrStdout()),
		machine.WithLogger(logger),
	}

	if opts.tracePath != "" {
		var w io.Writer = cmd.ErrOrStderr()
		if opts.tracePath != "-" {
			f, err := os.Create(opts.tracePath)
			if err != nil {
				return fmt.Errorf("create trace file: %w", err)
			}
			defer f.Close()
			w = f
		}

		tracer, shutdown, err := machine.InitTracing(w)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("flush traces", "error", err)
			}
		}()
		boardOpts = append(boardOpts, machine.WithTracer(tracer))
	}

	b, err := machine.New(cfg, programs, boardOpts...)
	if err != nil {
		return err
	}

	report, err := b.Run(cmd.Context())
	if err != nil {
		return err
	}

	for _, info := range report.Tasks {
		logger.Info("task", "id", info.ID, "app", cfg.Apps[info.ID], "status", info.Status.String(), "kernel_ms", info.KernelTime, "user_ms", info.UserTime)
	}
	logger.Info("run complete",
		"elapsed_ms", report.ElapsedMS-report.BootMS,
		"switch_total_us", report.SwitchTotalUS,
		"kernel_interrupt", report.KernelInterrupt,
	)

	switch {
	case report.Halted:
		return fmt.Errorf("kernel halted")
	case report.Failure:
		return fmt.Errorf("board powered off with failure status")
	}
	return nil
}
