package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/tracepipe/internal/domain"
	"github.com/shaiso/tracepipe/internal/orchestrator"
	"github.com/shaiso/tracepipe/internal/repo"
)

// NewHistoryCmd создаёт группу команд для истории runs.
func NewHistoryCmd(appFn func() *App, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect run history (requires DB_URL)",
	}

	cmd.AddCommand(
		newHistoryListCmd(appFn, outputFn),
		newHistoryShowCmd(appFn, outputFn),
	)

	return cmd
}

func newHistoryListCmd(appFn func() *App, outputFn func() *Output) *cobra.Command {
	var workloadID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFn()
			out := outputFn()

			runRepo, closeFn, err := app.openRunRepo(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := runRepo.List(cmd.Context(), repo.RunFilter{
				WorkloadID: workloadID,
				Status:     domain.RunStatus(status),
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "WORKLOAD", "STATUS", "STATE", "FAILED_STAGE", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				failed := "-"
				if r.FailedStage != 0 {
					failed = r.FailedStage.String()
				}
				rows[i] = []string{
					r.ID.String(),
					r.WorkloadID,
					string(r.Status),
					r.State.String(),
					failed,
					r.CreatedAt.Format(time.RFC3339),
				}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&workloadID, "workload", "", "Filter by workload ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newHistoryShowCmd(appFn func() *App, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a run with its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}

			runRepo, closeFn, err := appFn().openRunRepo(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			run, err := runRepo.GetByID(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("run %s: %w", id, err)
			}

			printRun(outputFn(), run)
			return nil
		},
	}
}

// openRunRepo подключается к БД истории. DB_URL обязателен.
func (a *App) openRunRepo(cmd *cobra.Command) (*repo.RunRepo, func(), error) {
	dsn := a.env(EnvDBURL)
	if dsn == "" {
		return nil, nil, &orchestrator.ConfigurationError{Variable: EnvDBURL}
	}

	pool, err := openHistory(cmd.Context(), dsn)
	if err != nil {
		return nil, nil, err
	}
	return repo.NewRunRepo(pool), pool.Close, nil
}

// formatStage возвращает номер стадии для таблиц.
func formatStage(s domain.Stage) string {
	return strconv.Itoa(int(s))
}
