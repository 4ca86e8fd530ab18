package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sivukhin/tpch-benchmark/internal/config"
)

func init() {
	initPrepareCmd()
	initRunCmd()
	initReportCmd()
}

var info = "TPC-H benchmark harness"
var RootCmd = &cobra.Command{
	Use:          "tpchbench",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use tpchbench --help or -h")
	},
}

// loadSettings applies the settings flags given on the command line over the
// environment and the .env file.
func loadSettings(flags *pflag.FlagSet, keys map[string]string) (config.Settings, error) {
	overrides := make(map[string]any)
	for name, key := range keys {
		if flag := flags.Lookup(name); flag != nil && flag.Changed {
			overrides[key] = flag.Value.String()
		}
	}
	return config.Load(config.WithOverrides(overrides))
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
