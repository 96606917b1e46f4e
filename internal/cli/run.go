package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/tracepipe/internal/domain"
	"github.com/shaiso/tracepipe/internal/orchestrator"
)

// NewRunCmd создаёт команду запуска pipeline.
func NewRunCmd(appFn func() *App, outputFn func() *Output) *cobra.Command {
	var stageTimeout time.Duration
	var verboseTracer bool
	var traceAllCallees bool

	cmd := &cobra.Command{
		Use:   "run DIR WORKLOAD",
		Short: "Build, instrument and run a workload",
		Long: `Run the six-stage pipeline in DIR for WORKLOAD:
label extraction, compile, instrument, link runtime, lower, link and execute.

Requires TRACER_HOME and LLVM_HOME. DIR must contain WORKLOAD.c.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFn()
			out := outputFn()

			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("stage-timeout") {
				if stageTimeout < 0 {
					return fmt.Errorf("--stage-timeout must not be negative")
				}
				cfg.StageTimeout = stageTimeout
			}

			opts := orchestrator.OptionsFromConfig(cfg)
			opts.VerboseTracer = verboseTracer
			opts.TraceAllCallees = traceAllCallees

			// В JSON-режиме stdout занят документом run.
			if out.JSONMode() {
				app.Stdout = app.Stderr
			}

			ctx := cmd.Context()
			svc := app.Connect(ctx)
			defer svc.Close()

			o := app.NewOrchestrator(cfg, opts, svc)
			run, runErr := o.Run(ctx, args[0], args[1])
			if run != nil {
				svc.PushMetrics(ctx, run.WorkloadID, app.logger())
				printRun(out, run)
			}
			return runErr
		},
	}

	cmd.Flags().DurationVar(&stageTimeout, "stage-timeout", 0, "Per-stage timeout, 0 disables (default from config: 10m)")
	cmd.Flags().BoolVar(&verboseTracer, "verbose-tracer", false, "Pass -verbose-tracer to the tracing pass")
	cmd.Flags().BoolVar(&traceAllCallees, "trace-all-callees", false, "Trace every function called from the workload functions")

	return cmd
}

// printRun выводит итог run: таблицу стадий или run целиком в JSON.
func printRun(out *Output, run *domain.Run) {
	headers := []string{"STAGE", "NAME", "STATUS", "EXIT", "DURATION"}
	rows := make([][]string, len(run.Stages))
	for i, rec := range run.Stages {
		rows[i] = []string{
			formatStage(rec.Stage),
			rec.Name,
			string(rec.Status),
			strconv.Itoa(rec.ExitCode),
			rec.Duration().Round(time.Millisecond).String(),
		}
	}

	out.Print(headers, rows, run)
	if !out.JSONMode() {
		out.Info(fmt.Sprintf("Run %s: %s (%s)", run.ID, run.Status, run.State))
	}
}
