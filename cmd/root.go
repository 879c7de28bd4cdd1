package cmd

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xsurvey/xsurvey/internal/ai/gemini"
	"github.com/xsurvey/xsurvey/internal/engine"
	ilog "github.com/xsurvey/xsurvey/internal/logger"
	"github.com/xsurvey/xsurvey/internal/secrets"
	"github.com/xsurvey/xsurvey/internal/store"
	"github.com/xsurvey/xsurvey/internal/store/postgres"
	"github.com/xsurvey/xsurvey/internal/store/sqlite"
)

const (
	app = "xsurvey"
)

type Config struct {
	Listen     string           `mapstructure:"listen"`
	APIKeyFile string           `mapstructure:"api-key-file"`
	Database   *DatabaseConfig  `mapstructure:"database"`
	Interview  *InterviewConfig `mapstructure:"interview"`
	AI         *AIConfig        `mapstructure:"ai"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `mapstructure:"driver"`
	// Path is the sqlite database file.
	Path string `mapstructure:"path"`
	// DSNFile points to a file with the postgres connection string.
	DSNFile string `mapstructure:"dsn-file"`
}

type InterviewConfig struct {
	MaxDepth int           `mapstructure:"max-depth"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "xsurvey is an adaptive interview bot that probes vague answers with generated follow-up questions",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("database.dsn-file", "XSURVEY_DSN_FILE"); err != nil {
		log.Fatalf("binding XSURVEY_DSN_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is xsurvey.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	viper.SetDefault("listen", ":8080")
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", app+".sqlite")
	viper.SetDefault("interview.max-depth", 1)
	viper.SetDefault("interview.timeout", "60s")
	viper.SetDefault("ai.provider", "gemini")
}

func initConfig() {
	// The version command works without a config file.
	if versionCmd.CalledAs() != "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

// openStore opens the configured database backend.
func openStore(ctx context.Context, config *Config) (store.Store, error) {
	db := config.Database
	if db == nil {
		db = &DatabaseConfig{}
	}
	driver := strings.TrimSpace(strings.ToLower(db.Driver))

	switch driver {
	case "", "sqlite":
		path := db.Path
		if path == "" {
			path = app + ".sqlite"
		}
		return sqlite.Open(path)
	case "postgres":
		dsn, err := secrets.Load(secrets.Source{
			Name: "postgres dsn",
			File: db.DSNFile,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set database.dsn-file or XSURVEY_DSN_FILE)", err)
		}
		return postgres.Open(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", db.Driver)
	}
}

// newEngine assembles the interview engine with the configured AI provider.
func newEngine(ctx context.Context, config *Config, st store.Store, logger *zap.Logger) (*engine.Engine, error) {
	aiCfg := config.AI
	if aiCfg == nil || aiCfg.Gemini == nil {
		return nil, fmt.Errorf("gemini configuration is required under the ai section")
	}

	provider := strings.TrimSpace(strings.ToLower(aiCfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", aiCfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: aiCfg.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	genLogger := ilog.WithCommonFields(logger, "gemini", aiCfg.Gemini.Model).
		With(zap.Int("ai_retry_attempts", aiCfg.Gemini.MaxRetries))

	generator, err := gemini.NewGenerator(ctx, apiKey, aiCfg.Gemini.Model, aiCfg.Gemini.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	judge := gemini.NewJudge(generator, aiCfg.Gemini.MaxLogLength, genLogger)
	followUps := gemini.NewFollowUpWriter(generator, aiCfg.Gemini.MaxLogLength, genLogger)
	reactions := gemini.NewReactor(generator, aiCfg.Gemini.MaxLogLength, genLogger)

	opts := engine.Options{Logger: logger}
	if config.Interview != nil {
		opts.DefaultMaxDepth = config.Interview.MaxDepth
		opts.CapabilityTimeout = config.Interview.Timeout
	}

	return engine.New(st, judge, followUps, reactions, opts), nil
}
