package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"chat-quiz-service/internal/app"
	"chat-quiz-service/internal/domain"
	"chat-quiz-service/internal/infra/postgres"
	infraredis "chat-quiz-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestQuizSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := postgres.NewQuizLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	db := postgres.OpenDB(pgURL)
	defer db.Close()

	quizRepo := infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute, nil)
	marker := infraredis.NewSessionMarker(redisClient, 5*time.Minute)
	attempts := postgres.NewAttemptStore(db)
	gateway := &collectingGateway{}
	dispatcher := app.NewDispatcher(gateway, 2, 16, nil)
	defer dispatcher.Close()
	engine := app.NewEngine(app.NewRegistry(10, marker, nil), quizRepo, attempts, dispatcher, nil)

	if _, err := engine.Start(ctx, app.StartRequest{QuizID: "missing", ChatID: "chat-1", Participants: players()}); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound from postgres loader, got %v", err)
	}

	state, err := engine.Start(ctx, app.StartRequest{QuizID: "quiz-1", ChatID: "chat-1", Participants: players()})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if live, err := marker.Live(ctx, "chat-1"); err != nil || !live {
		t.Fatalf("expected liveness marker, got %v (%v)", live, err)
	}

	if _, err := engine.SubmitAnswer(ctx, "chat-1", "u2", 0, 1); err != nil {
		t.Fatalf("submit u2: %v", err)
	}
	if _, err := engine.SubmitAnswer(ctx, "chat-1", "u1", 0, 2); err != nil {
		t.Fatalf("submit u1: %v", err)
	}

	stored, err := attempts.BySession(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("load attempts: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored attempts, got %d", len(stored))
	}
	byUser := map[string]domain.Attempt{}
	for _, attempt := range stored {
		byUser[attempt.ParticipantID] = attempt
	}
	if byUser["u2"].Score != 1 || byUser["u1"].Score != -0.25 || !byUser["u1"].Completed {
		t.Fatalf("unexpected stored attempts: %+v", byUser)
	}
	if len(byUser["u1"].Answers) != 1 || byUser["u1"].SectionScores["math"] != -0.25 {
		t.Fatalf("jsonb columns did not round trip: %+v", byUser["u1"])
	}
	if live, _ := marker.Live(ctx, "chat-1"); live {
		t.Fatalf("expected liveness marker to be cleared")
	}

	// saving the same session again is a no-op
	err = attempts.WithinTx(ctx, func(ctx context.Context, w app.AttemptWriter) error {
		return w.SaveAttempt(ctx, byUser["u1"])
	})
	if err != nil {
		t.Fatalf("resave: %v", err)
	}
	if again, _ := attempts.BySession(ctx, state.SessionID); len(again) != 2 {
		t.Fatalf("expected idempotent save, got %d rows", len(again))
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	t.Helper()
	db := postgres.OpenDB(dsn)
	defer db.Close()

	if _, err := postgres.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := postgres.SeedQuizzes(ctx, db, []domain.Quiz{quiz}); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.Question{
			{
				Text:          "What is 2 + 2?",
				Options:       []string{"3", "4", "5"},
				CorrectOption: 1,
				Points:        1,
				Section:       "math",
			},
		},
		Rules: domain.Rules{AllowNegativeMarking: true, NegativeMarkingFactor: 0.25},
	}
}

func players() []domain.Participant {
	return []domain.Participant{{ID: "u1", DisplayName: "Alice"}, {ID: "u2", DisplayName: "Bob"}}
}

type collectingGateway struct {
	mu        sync.Mutex
	questions []domain.Prompt
	results   [][]domain.Attempt
}

func (g *collectingGateway) SendQuestion(_ context.Context, _ string, prompt domain.Prompt) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.questions = append(g.questions, prompt)
	return nil
}

func (g *collectingGateway) SendResult(_ context.Context, _ string, attempts []domain.Attempt) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results = append(g.results, attempts)
	return nil
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
