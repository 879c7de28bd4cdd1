package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xsurvey/xsurvey/internal/httpapi"
	"github.com/xsurvey/xsurvey/internal/logger"
	"github.com/xsurvey/xsurvey/internal/secrets"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interview HTTP API",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "listen address, overrides the config file")

	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
}

func serve(_ *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the "+app+" server", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	st, err := openStore(ctx, config)
	if err != nil {
		logger.Fatal("opening the store", zap.Error(err))
	}
	defer st.Close()

	eng, err := newEngine(ctx, config, st, logger)
	if err != nil {
		logger.Fatal("building the interview engine", zap.Error(err))
	}

	var apiKey string
	if config.APIKeyFile != "" {
		apiKey, err = secrets.Load(secrets.Source{
			Name: "api key",
			File: config.APIKeyFile,
		})
		if err != nil {
			logger.Fatal("loading the api key", zap.Error(err))
		}
	}

	srv := httpapi.New(eng, httpapi.Options{
		Addr:   config.Listen,
		APIKey: apiKey,
		Logger: logger,
	})

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Fatal("http server stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
