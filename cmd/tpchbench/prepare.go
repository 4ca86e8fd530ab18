package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sivukhin/tpch-benchmark/internal/dataset"
	"github.com/sivukhin/tpch-benchmark/internal/logger"
)

var prepareInfo = "convert dbgen output to parquet, optionally generating it in batches"
var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: prepareInfo,
	Long:  prepareInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd.Flags(), prepareSettings)
		if err != nil {
			return err
		}
		folder := viper.GetString("prepare.tpchGenFolder")
		rowsPerFile := viper.GetInt("prepare.rowsPerFile")
		if settings.NumBatches == nil {
			// the generator output is already in place
			logger.Logger.Infof("converting generated tables in %v", folder)
			converter := dataset.Converter{Dir: folder, RowsPerFile: rowsPerFile}
			return converter.Convert(cmd.Context())
		}
		location := viper.GetString("prepare.awsS3SyncLocation")
		pipeline := dataset.Pipeline{
			ScratchDir:   folder,
			ScaleFactor:  settings.ScaleFactor,
			NumBatches:   *settings.NumBatches,
			Parallelism:  viper.GetInt("prepare.parallelism"),
			RowsPerFile:  rowsPerFile,
			SyncLocation: location,
			Generator:    dataset.Dbgen{Dir: viper.GetString("prepare.dbgenFolder")},
			GeneratorDir: viper.GetString("prepare.dbgenFolder"),
		}
		if location != "" {
			pipeline.Syncer = dataset.AwsCLI{}
		}
		logger.Logger.Infof("generating scale factor %v in %v batches into %v", settings.ScaleFactor, pipeline.NumBatches, pipeline.BaseDir())
		return pipeline.Run(cmd.Context())
	},
}

var prepareSettings = map[string]string{
	"scale-factor": "scale_factor",
	"num-batches":  "num_batches",
}

func initPrepareCmd() {
	RootCmd.AddCommand(prepareCmd)
	prepareCmd.Flags().String("tpch_gen_folder", "data/tables", "path to generated data folder")
	prepareCmd.Flags().Float64("scale-factor", 1.0, "scale factor to run on")
	prepareCmd.Flags().Int("rows-per-file", 5_000_000, "number of rows per parquet file")
	prepareCmd.Flags().Int("num-batches", 0, "number of batches used to generate the data")
	prepareCmd.Flags().String("aws-s3-sync-location", "", "where (and if) to sync files to in AWS S3")
	prepareCmd.Flags().Int("parallelism", 8, "how many processes to use to generate the data")
	prepareCmd.Flags().String("dbgen-folder", "tpch-dbgen", "folder holding the dbgen binary")

	viper.BindPFlag("prepare.tpchGenFolder", prepareCmd.Flags().Lookup("tpch_gen_folder"))
	viper.BindPFlag("prepare.rowsPerFile", prepareCmd.Flags().Lookup("rows-per-file"))
	viper.BindPFlag("prepare.awsS3SyncLocation", prepareCmd.Flags().Lookup("aws-s3-sync-location"))
	viper.BindPFlag("prepare.parallelism", prepareCmd.Flags().Lookup("parallelism"))
	viper.BindPFlag("prepare.dbgenFolder", prepareCmd.Flags().Lookup("dbgen-folder"))
}
