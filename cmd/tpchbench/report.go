package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sivukhin/tpch-benchmark/internal/report"
)

var reportInfo = "render the timings log as a per-query table"
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: reportInfo,
	Long:  reportInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd.Flags(), reportSettings)
		if err != nil {
			return err
		}
		_, err = report.Write(settings, os.Stdout)
		return err
	},
}

var reportSettings = map[string]string{
	"scale-factor": "scale_factor",
	"show":         "plot.show",
	"n-queries":    "plot.n_queries",
	"y-limit":      "plot.y_limit",
}

func initReportCmd() {
	RootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Float64("scale-factor", 1.0, "scale factor of the reported timings")
	reportCmd.Flags().Bool("show", false, "print the report")
	reportCmd.Flags().Int("n-queries", 7, "number of queries to report")
	reportCmd.Flags().Float64("y-limit", 0, "duration in seconds a full bar stands for")
}
