package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-offline-service/internal/config"
	"quiz-offline-service/internal/domain"
	pginfra "quiz-offline-service/internal/infra/postgres"
	"quiz-offline-service/internal/logging"
)

// NewQuestionsCmd manages the Postgres question bank.
func NewQuestionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Manage the Postgres question bank",
	}

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert questions from a JSON export of the question API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), *configPath, file)
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "JSON file: an array of questions or a {\"data\": [...]} envelope")
	_ = importCmd.MarkFlagRequired("file")
	cmd.AddCommand(importCmd)
	return cmd
}

func runImport(ctx context.Context, configPath, file string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	questions, err := decodeQuestions(f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", file, err)
	}

	cfg.Questions.Source = "postgres"
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := pginfra.NewQuestionLoader(b.pool).SaveQuestions(ctx, questions); err != nil {
		return err
	}
	logger.Info("questions imported", zap.Int("count", len(questions)), zap.String("file", file))
	return nil
}

// decodeQuestions accepts the bare array and the {"data": [...]} envelope the
// question API serves.
func decodeQuestions(r io.Reader) ([]domain.Question, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var envelope struct {
			Data []domain.Question `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, err
		}
		return envelope.Data, nil
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}
