package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/tracepipe/internal/orchestrator"
)

// NewPlanCmd создаёт команду dry-run: печатает вызовы без запуска.
func NewPlanCmd(appFn func() *App, outputFn func() *Output) *cobra.Command {
	var verboseTracer bool
	var traceAllCallees bool

	cmd := &cobra.Command{
		Use:   "plan DIR WORKLOAD",
		Short: "Show the invocations a run would execute",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFn()
			out := outputFn()

			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}

			opts := orchestrator.OptionsFromConfig(cfg)
			opts.VerboseTracer = verboseTracer
			opts.TraceAllCallees = traceAllCallees

			invs, err := app.NewOrchestrator(cfg, opts, nil).Plan(args[0], args[1])
			if err != nil {
				return err
			}

			headers := []string{"STAGE", "NAME", "ENV", "COMMAND"}
			var rows [][]string
			for _, inv := range invs {
				env := strings.Join(inv.EnvList(), " ")
				for _, c := range inv.Commands {
					rows = append(rows, []string{formatStage(inv.Stage), inv.Name(), env, c.String()})
				}
			}

			out.Print(headers, rows, invs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&verboseTracer, "verbose-tracer", false, "Pass -verbose-tracer to the tracing pass")
	cmd.Flags().BoolVar(&traceAllCallees, "trace-all-callees", false, "Trace every function called from the workload functions")

	return cmd
}

// NewWorkloadsCmd создаёт команду вывода таблицы workloads.
func NewWorkloadsCmd(appFn func() *App, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "workloads",
		Short: "List known workloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appFn().LoadConfig()
			if err != nil {
				return err
			}

			type workload struct {
				ID       string `json:"id"`
				Workload string `json:"workload"`
			}

			ids := cfg.Workloads.IDs()
			list := make([]workload, len(ids))
			rows := make([][]string, len(ids))
			for i, id := range ids {
				list[i] = workload{ID: id, Workload: cfg.Workloads[id]}
				rows[i] = []string{id, cfg.Workloads[id]}
			}

			outputFn().Print([]string{"ID", "WORKLOAD"}, rows, list)
			return nil
		},
	}
}
