package cmd

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xsurvey/xsurvey/internal/export"
	"github.com/xsurvey/xsurvey/internal/logger"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded answers for analysis",
	Run: func(cmd *cobra.Command, _ []string) {
		runExport(cmd)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("csv", "", "write the flat answers table to this file")
	exportCmd.Flags().String("jsonl", "", "write per-user merged conversations to this file")
}

func runExport(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	csvPath := cmd.Flag("csv").Value.String()
	jsonlPath := cmd.Flag("jsonl").Value.String()
	if csvPath == "" && jsonlPath == "" {
		logger.Fatal("nothing to do", zap.String("hint", "pass --csv and/or --jsonl"))
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	st, err := openStore(ctx, config)
	if err != nil {
		logger.Fatal("opening the store", zap.Error(err))
	}
	defer st.Close()

	records, err := export.CollectRecords(ctx, st)
	if err != nil {
		logger.Fatal("collecting answers", zap.Error(err))
	}
	logger.Info("collected answers", zap.Int("count", len(records)))

	if csvPath != "" {
		if err := writeFile(csvPath, func(f *os.File) error {
			return export.WriteCSV(f, records)
		}); err != nil {
			logger.Fatal("writing csv", zap.Error(err))
		}
		logger.Info("csv written", zap.String("path", csvPath))
	}

	if jsonlPath != "" {
		if err := writeFile(jsonlPath, func(f *os.File) error {
			return export.WriteMergedJSONL(f, records)
		}); err != nil {
			logger.Fatal("writing jsonl", zap.Error(err))
		}
		logger.Info("jsonl written", zap.String("path", jsonlPath))
	}
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
