// tracepipe — сборка и запуск инструментированного бинарника LLVM-Tracer.
//
// Использование:
//
//	tracepipe [--config FILE] [--json] <command> [flags]
//
// Команды:
//
//	run DIR WORKLOAD    Выполнить pipeline
//	plan DIR WORKLOAD   Показать вызовы без запуска
//	workloads           Таблица workloads
//	history             История runs (DB_URL)
//
// Код завершения: 0 — успех, 2 — конфигурация, 3 — неизвестный workload,
// 4..9 — упала стадия 1..6, 1 — прочие ошибки.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/tracepipe/internal/cli"
	"github.com/shaiso/tracepipe/internal/orchestrator"
	"github.com/shaiso/tracepipe/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var jsonOutput bool

	logger := telemetry.SetupLogger()

	rootCmd := &cobra.Command{
		Use:           "tracepipe",
		Short:         "tracepipe — LLVM-Tracer instrumentation pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default: $TRACEPIPE_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	appFn := func() *cli.App { return cli.NewApp(configPath, logger) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewRunCmd(appFn, outputFn),
		cli.NewPlanCmd(appFn, outputFn),
		cli.NewWorkloadsCmd(appFn, outputFn),
		cli.NewHistoryCmd(appFn, outputFn),
	)

	// Отмена проверяется между стадиями: работающий инструмент доживает до конца.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return orchestrator.ExitCode(err)
	}
	return orchestrator.ExitOK
}
