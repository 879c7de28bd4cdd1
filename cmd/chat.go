package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xsurvey/xsurvey/internal/engine"
	"github.com/xsurvey/xsurvey/internal/logger"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run the interview interactively in the terminal",
	Run: func(cmd *cobra.Command, _ []string) {
		chat(cmd)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringP("user", "u", "", "user id to interview, a fresh one is generated when unset")
}

func chat(cmd *cobra.Command) {
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

	st, err := openStore(ctx, config)
	if err != nil {
		logger.Fatal("opening the store", zap.Error(err))
	}
	defer st.Close()

	eng, err := newEngine(ctx, config, st, logger)
	if err != nil {
		logger.Fatal("building the interview engine", zap.Error(err))
	}

	userID := cmd.Flag("user").Value.String()
	if userID == "" {
		userID = uuid.NewString()
		fmt.Printf("Interviewing as a new user: %s\n\n", userID)
	}

	if err := runInterview(ctx, eng, userID, logger); err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, context.Canceled) {
			fmt.Println("\nInterview paused, your answers are saved. Run chat again to resume.")
			return
		}
		logger.Fatal("interview failed", zap.Error(err))
	}
}

func runInterview(ctx context.Context, eng *engine.Engine, userID string, logger *zap.Logger) error {
	prompt, err := eng.CurrentPrompt(ctx, userID)
	if err != nil {
		return err
	}

	for prompt != nil {
		if prompt.Intro != "" {
			fmt.Printf("%s\n\n", prompt.Intro)
		}
		fmt.Println(prompt.Text)

		answer, err := readAnswer()
		if err != nil {
			return err
		}

		out, err := eng.SubmitAnswer(ctx, userID, prompt.QuestionID, prompt.Depth, answer)
		if err != nil {
			if errors.Is(err, engine.ErrJudgeUnavailable) || errors.Is(err, engine.ErrGenerationFailed) {
				fmt.Println("Something went wrong on my side, your answer was not saved. Let's try again.")
				logger.Warn("capability failure during chat", zap.Error(err))
				continue
			}
			return err
		}

		if out.Reaction != "" {
			fmt.Printf("\n%s\n\n", out.Reaction)
		}
		prompt = out.Next
	}

	fmt.Println("That was the last question. Thank you for your time!")
	return nil
}

func readAnswer() (string, error) {
	input := promptui.Prompt{
		Label: "You",
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("please write an answer")
			}
			return nil
		},
	}
	answer, err := input.Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}
