package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xsurvey/xsurvey/internal/logger"
	"github.com/xsurvey/xsurvey/internal/store"
)

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Create the database schema and seed the question catalog",
	Run: func(cmd *cobra.Command, _ []string) {
		initdb(cmd)
	},
}

func init() {
	rootCmd.AddCommand(initdbCmd)

	initdbCmd.Flags().StringP("catalog", "c", "", "yaml file with questions and phase intros")
	initdbCmd.Flags().Bool("reset", false, "wipe all recorded answers before seeding")
}

// catalogFile mirrors the yaml layout of the question catalog.
type catalogFile struct {
	Questions []struct {
		ID        int64  `yaml:"id"`
		Text      string `yaml:"text"`
		Criterion string `yaml:"criterion"`
		Phase     int    `yaml:"phase"`
		MaxDepth  int    `yaml:"max-depth"`
	} `yaml:"questions"`
	Phases []struct {
		Phase int    `yaml:"phase"`
		Intro string `yaml:"intro"`
	} `yaml:"phases"`
}

func initdb(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
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

	if cmd.Flag("reset").Value.String() == "true" {
		if err := st.ResetAnswers(ctx); err != nil {
			logger.Fatal("resetting answers", zap.Error(err))
		}
		logger.Info("all recorded answers removed")
	}

	catalogPath := cmd.Flag("catalog").Value.String()
	if catalogPath == "" {
		logger.Info("no catalog file given, schema is ready")
		return
	}

	questions, intros, err := loadCatalog(catalogPath)
	if err != nil {
		logger.Fatal("loading the catalog", zap.Error(err))
	}

	if err := st.SeedCatalog(ctx, questions, intros); err != nil {
		logger.Fatal("seeding the catalog", zap.Error(err))
	}

	logger.Info("catalog seeded",
		zap.Int("questions", len(questions)),
		zap.Int("phase_intros", len(intros)),
	)
}

func loadCatalog(path string) ([]store.Question, []store.PhaseIntro, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(catalog.Questions) == 0 {
		return nil, nil, fmt.Errorf("catalog %s contains no questions", path)
	}

	now := time.Now().UTC()
	questions := make([]store.Question, 0, len(catalog.Questions))
	for _, q := range catalog.Questions {
		if q.ID == 0 || q.Text == "" {
			return nil, nil, fmt.Errorf("catalog %s: every question needs an id and text", path)
		}
		questions = append(questions, store.Question{
			ID:        q.ID,
			Text:      q.Text,
			Criterion: q.Criterion,
			Phase:     q.Phase,
			MaxDepth:  q.MaxDepth,
			CreatedAt: now,
		})
	}

	intros := make([]store.PhaseIntro, 0, len(catalog.Phases))
	for _, p := range catalog.Phases {
		intros = append(intros, store.PhaseIntro{
			ID:    uuid.NewString(),
			Phase: p.Phase,
			Text:  p.Intro,
		})
	}
	return questions, intros, nil
}
