package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"learnquest/internal/app"
	"learnquest/internal/config"
	"learnquest/internal/domain"
	"learnquest/internal/infra/memory"
	pgstore "learnquest/internal/infra/postgres"
	redisstore "learnquest/internal/infra/redis"
	"learnquest/internal/logger"
	"learnquest/internal/srs"
	transport "learnquest/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the progress server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

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

	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		db, err = openBun(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := runMigrations(ctx, db, log); err != nil {
			return err
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var (
		progress   app.ProgressStore
		dismissals app.DismissalStore
	)
	switch {
	case db != nil:
		progress = pgstore.NewProgressStore(db, log)
		dismissals = pgstore.NewDismissalStore(db)
	case redisClient != nil:
		progress = redisstore.NewProgressStore(redisClient, log)
		dismissals = redisstore.NewDismissalStore(redisClient)
	default:
		progress = memory.NewProgressStore(log)
		dismissals = memory.NewDismissalStore()
	}

	opts := []app.Option{app.WithLogger(log)}
	if cfg.Suggestions.Limit > 0 {
		opts = append(opts, app.WithSuggestionLimit(cfg.Suggestions.Limit))
	}
	service := app.NewProgressService(progress, dismissals, quizRepo, srs.NewEngine(cfg.SRSConfig()), opts...)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/session", transport.NewWSHandler(service, log).ServeWS)
	transport.NewAPIHandler(service, log).Register(mux)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: it would cut long-lived websocket sessions.
	}

	go func() {
		log.Info("starting progress service", "port", finalPort, "postgres", db != nil, "redis", redisClient != nil)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes seeds the catalog when no Postgres is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"math-addition": {
			ID:        "math-addition",
			Title:     "Addition",
			SubjectID: "math",
			ClassID:   "grade-1",
			TopicID:   "arithmetic",
			Questions: []domain.Question{
				{Prompt: "What is 2 + 2?", Options: []domain.Option{{Text: "3"}, {Text: "4"}, {Text: "5"}}, CorrectIndex: 1},
				{Prompt: "What is 7 + 5?", Options: []domain.Option{{Text: "12"}, {Text: "11"}, {Text: "13"}}, CorrectIndex: 0},
				{Prompt: "What is 9 + 9?", Options: []domain.Option{{Text: "17"}, {Text: "19"}, {Text: "18"}}, CorrectIndex: 2},
			},
		},
		"geo-capitals": {
			ID:        "geo-capitals",
			Title:     "European capitals",
			SubjectID: "geography",
			ClassID:   "grade-5",
			TopicID:   "europe",
			Questions: []domain.Question{
				{ID: "fr", Prompt: "Capital of France?", Options: []domain.Option{{Text: "Lyon"}, {Text: "Paris"}}, CorrectIndex: 1},
				{ID: "es", Prompt: "Capital of Spain?", Options: []domain.Option{{Text: "Madrid"}, {Text: "Seville"}}, CorrectIndex: 0},
			},
		},
		"sci-states": {
			ID:        "sci-states",
			Title:     "States of matter",
			SubjectID: "science",
			ClassID:   "grade-3",
			TopicID:   "matter",
			Questions: []domain.Question{
				{Prompt: "Ice is water in which state?", Options: []domain.Option{{Text: "Solid"}, {Text: "Liquid"}, {Text: "Gas"}}, CorrectIndex: 0},
			},
		},
	}
}
