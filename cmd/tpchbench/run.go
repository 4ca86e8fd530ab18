package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/logger"
	"github.com/sivukhin/tpch-benchmark/internal/queries"
	"github.com/sivukhin/tpch-benchmark/internal/queries/dataframe"
	"github.com/sivukhin/tpch-benchmark/internal/queries/duckdb"
	"github.com/sivukhin/tpch-benchmark/internal/runner"
	"github.com/sivukhin/tpch-benchmark/internal/tpch"
)

const (
	engineDuckDB = "duckdb"
	engineFrame  = "frame"
	engineAll    = "all"
)

var runInfo = "time the TPC-H queries on the selected engines"
var runCmd = &cobra.Command{
	Use:   "run",
	Short: runInfo,
	Long:  runInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd.Flags(), runSettings)
		if err != nil {
			return err
		}
		engine := viper.GetString("run.engine")
		if !slices.Contains([]string{engineDuckDB, engineFrame, engineAll}, engine) {
			return fmt.Errorf("unknown engine %q, use %v, %v or %v", engine, engineDuckDB, engineFrame, engineAll)
		}
		numbers, err := cmd.Flags().GetIntSlice("query")
		if err != nil {
			return err
		}
		if len(numbers) == 0 {
			numbers = queries.Numbers()
		}
		if err := queries.Validate(numbers...); err != nil {
			return err
		}
		compare := viper.GetBool("run.compare")
		if compare && engine != engineAll {
			return errors.New("--compare needs --engine all")
		}
		return run(cmd.Context(), settings, engine, numbers, compare)
	},
}

func run(ctx context.Context, settings config.Settings, engine string, numbers []int, compare bool) error {
	strategy, err := runner.ParseStrategy(settings.Run)
	if err != nil {
		return err
	}
	var opts []runner.Option
	if settings.Storage.DBName != "" {
		meta := runner.HostStat().Meta()
		meta["scale_factor"] = config.FormatScaleFactor(settings.ScaleFactor)
		meta["io_type"] = settings.Run.IOType
		measurements, err := runner.OpenMeasurements(ctx, settings.Storage, meta)
		if err != nil {
			return err
		}
		defer measurements.Close()
		opts = append(opts, runner.WithMeasurements(measurements))
	}
	r := runner.New(settings, opts...)
	engines := make(map[string]func(ctx context.Context, n int) (*frame.DataFrame, error))

	if engine == engineDuckDB || engine == engineAll {
		executor, err := duckdb.Open(ctx, settings)
		switch {
		case errors.Is(err, tpch.ErrUnsupportedIOType) && engine == engineAll:
			logger.Logger.Warnf("skip duckdb: %v", err)
		case err != nil:
			return err
		default:
			defer executor.Close()
			executor.Run(ctx, r, numbers...)
			engines[executor.Library().Name] = executor.Execute
		}
	}
	if engine == engineFrame || engine == engineAll {
		src, err := tpch.NewScanner(ctx, settings)
		if err != nil {
			return err
		}
		backend, err := runner.NewBackend(ctx, strategy, settings.Run, runner.Options{Compute: &runner.LocalCompute{}})
		if err != nil {
			return err
		}
		executor := dataframe.NewExecutor(src, backend, settings.ScaleFactor, settings.Run.FrameShowPlan)
		executor.Run(ctx, r, numbers...)
		engines[executor.Library().Name] = executor.Execute
	}

	if compare {
		for _, n := range numbers {
			funcs := make(map[string]runner.QueryFunc, len(engines))
			for name, execute := range engines {
				funcs[name] = func(ctx context.Context) (*frame.DataFrame, error) { return execute(ctx, n) }
			}
			if err := runner.Compare(ctx, n, funcs, frame.DefaultTolerance); err != nil {
				r.Fail(n, runner.Library{Name: "compare"}, err)
				continue
			}
			logger.Logger.Infof("q%v results are the same on %v engines", n, len(funcs))
		}
	}

	if err := r.Err(); err != nil {
		return fmt.Errorf("%v failed queries: %w", len(r.Failures()), err)
	}
	return nil
}

var runSettings = map[string]string{
	"scale-factor":  "scale_factor",
	"io-type":       "run.io_type",
	"iterations":    "run.iterations",
	"log-timings":   "run.log_timings",
	"show-results":  "run.show_results",
	"check-results": "run.check_results",
}

func initRunCmd() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().String("engine", engineAll, "engine to run: duckdb, frame or all")
	runCmd.Flags().IntSlice("query", nil, "query numbers to run, all by default")
	runCmd.Flags().Bool("compare", false, "check that the engines return the same results")
	runCmd.Flags().Float64("scale-factor", 1.0, "scale factor of the dataset")
	runCmd.Flags().String("io-type", string(config.IOParquet), "skip, parquet, feather or csv")
	runCmd.Flags().Int("iterations", 1, "timed executions per query")
	runCmd.Flags().Bool("log-timings", false, "append timings to the timings log")
	runCmd.Flags().Bool("show-results", false, "print query results")
	runCmd.Flags().Bool("check-results", false, "compare results with the reference answers")

	viper.BindPFlag("run.engine", runCmd.Flags().Lookup("engine"))
	viper.BindPFlag("run.compare", runCmd.Flags().Lookup("compare"))
}
