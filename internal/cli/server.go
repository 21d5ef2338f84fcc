package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"chat-quiz-service/internal/app"
	"chat-quiz-service/internal/config"
	"chat-quiz-service/internal/domain"
	"chat-quiz-service/internal/infra/memory"
	"chat-quiz-service/internal/infra/postgres"
	"chat-quiz-service/internal/infra/rabbitmq"
	infraredis "chat-quiz-service/internal/infra/redis"
	"chat-quiz-service/internal/logger"
	"chat-quiz-service/internal/metrics"
	transport "chat-quiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	metrics.Init()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	loader, err := quizLoader(cfg, pool)
	if err != nil {
		return err
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = infraredis.NewQuizRepository(redisClient, loader, quizTTL, log)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var attempts app.AttemptStore = memory.NewAttemptStore()
	if cfg.Postgres.URL != "" {
		db := postgres.OpenDB(cfg.Postgres.URL)
		defer db.Close()
		attempts = postgres.NewAttemptStore(db)
	} else {
		log.Warn("postgres not configured, attempts are kept in memory only")
	}

	var marker app.SessionMarker
	if redisClient != nil {
		markerTTL := config.TTLDuration(cfg.Engine.MarkerTTL, config.TTLDuration(cfg.Redis.TTL, 2*time.Hour))
		marker = infraredis.NewSessionMarker(redisClient, markerTTL)
	}

	hub := transport.NewHub(log)
	gateways := app.Gateways{hub}
	var broker *rabbitmq.Client
	if cfg.RabbitMQ.URL != "" {
		broker, err = rabbitmq.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		defer broker.Close()
		gateways = append(gateways, rabbitmq.NewGateway(broker, rabbitmq.GatewayConfig{
			QuestionQueue: cfg.RabbitMQ.QuestionQueue,
			ResultQueue:   cfg.RabbitMQ.ResultQueue,
			MaxRetries:    uint64(cfg.RabbitMQ.MaxRetries),
		}, log.Named("rabbitmq")))
	}

	dispatcher := app.NewDispatcher(gateways, cfg.Engine.DispatchWorkers, cfg.Engine.DispatchBuffer, log.Named("dispatcher"))
	registry := app.NewRegistry(cfg.Engine.MaxSessions, marker, log.Named("registry"))
	engine := app.NewEngine(registry, quizRepo, attempts, dispatcher, log.Named("engine"))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ws", transport.NewWSHandler(engine, hub, log.Named("ws")).ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting quiz service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if broker != nil {
		consumer := rabbitmq.NewAnswerConsumer(broker, cfg.RabbitMQ.AnswerQueue, engine, log.Named("answers"))
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		engine.Shutdown(shutdownCtx)
		dispatcher.Close()
		return err
	})
	return g.Wait()
}

// quizLoader picks the quiz source: Postgres when configured, else the YAML file, else the
// built-in sample quiz.
func quizLoader(cfg config.Config, pool *pgxpool.Pool) (memory.QuizLoader, error) {
	if pool != nil {
		return postgres.NewQuizLoader(pool), nil
	}
	if cfg.Quiz.File != "" {
		quizzes, err := memory.LoadQuizFile(cfg.Quiz.File)
		if err != nil {
			return nil, err
		}
		return memory.NewStaticQuizLoader(quizzes), nil
	}
	return memory.NewStaticQuizLoader(sampleQuizzes()), nil
}

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					Text:          "What is 2 + 2?",
					Options:       []string{"3", "4", "5"},
					CorrectOption: 1,
					Points:        1,
				},
			},
			Rules: domain.Rules{TimeLimitPerQuestionSeconds: 30, NegativeMarkingFactor: 0.25},
		},
	}
}
