package cli

import (
	"context"
	"fmt"
	"sort"

	"chat-quiz-service/internal/domain"
	"chat-quiz-service/internal/infra/memory"
	"chat-quiz-service/internal/infra/postgres"
	infraredis "chat-quiz-service/internal/infra/redis"
	"chat-quiz-service/internal/logger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewSeedCmd loads quiz definitions from a YAML file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert quizzes from a YAML file into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "config/quizzes.yaml", "YAML file with a top-level quizzes list")
	return cmd
}

func runSeed(ctx context.Context, configPath, file string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	byID, err := memory.LoadQuizFile(file)
	if err != nil {
		return err
	}
	quizzes := sortedQuizzes(byID)

	db := postgres.OpenDB(cfg.Postgres.URL)
	defer db.Close()
	if _, err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	if err := postgres.SeedQuizzes(ctx, db, quizzes); err != nil {
		return err
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		cache := infraredis.NewQuizRepository(client, nil, 0, log)
		for _, quiz := range quizzes {
			if err := cache.Invalidate(ctx, quiz.ID); err != nil {
				log.Warn("invalidate cached quiz", zap.String("quiz_id", quiz.ID), zap.Error(err))
			}
		}
	}

	log.Info("quizzes seeded", zap.Int("count", len(quizzes)), zap.String("file", file))
	return nil
}

func sortedQuizzes(byID map[string]domain.Quiz) []domain.Quiz {
	quizzes := make([]domain.Quiz, 0, len(byID))
	for _, quiz := range byID {
		quizzes = append(quizzes, quiz)
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].ID < quizzes[j].ID })
	return quizzes
}
