package cli

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"quizdash/internal/auth"
	"quizdash/internal/board"
	"quizdash/internal/config"
	"quizdash/internal/domain"
	"quizdash/internal/fingerprint"
	"quizdash/internal/infra/memory"
	"quizdash/internal/infra/postgres"
	redisinfra "quizdash/internal/infra/redis"
	"quizdash/internal/infra/sqlite"
)

const defaultUserAgent = "quizdash/1.0"

// stateStore is the durable local store shared by the identity cache, the
// replay markers and the install id.
type stateStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type deps struct {
	store   stateStore
	quizzes *memory.QuizRepository
	boards  *board.Client
	cleanup func()
}

// buildDeps wires the client stack from config: state store (redis, sqlite
// or in-memory), quiz repository (postgres or embedded bank, TTL-cached),
// identity manager, fingerprints and the leaderboard client.
func buildDeps(ctx context.Context, cfg config.Config) (*deps, error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var store stateStore
	switch {
	case cfg.Store.Redis.Addr != "":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		closers = append(closers, func() { _ = client.Close() })
		store = redisinfra.NewKV(client, "quizdash:", config.TTLDuration(cfg.Store.Redis.TTL, 0))
	case cfg.Store.Path != "":
		kv, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, func() { _ = kv.Close() })
		store = kv
	default:
		store = memory.NewKV()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, pool.Close)
		loader = postgres.NewQuizLoader(pool)
	}
	quizzes := memory.NewQuizRepository(loader, config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute))

	ids := auth.NewManager(auth.Config{
		SignUpURL: cfg.Auth.SignUpURL,
		TokenURL:  cfg.Auth.TokenURL,
		APIKey:    cfg.Auth.APIKey,
	}, store)

	userAgent := cfg.Client.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	prints := fingerprint.NewGenerator(fingerprint.HostCollector{
		UserAgent: userAgent,
		InstallID: installID(ctx, store),
	})

	boards := board.NewClient(cfg.Board.DatabaseURL, ids, prints, store)

	return &deps{
		store:   store,
		quizzes: quizzes,
		boards:  boards,
		cleanup: cleanup,
	}, nil
}

// installID returns the per-install id, minting and persisting one on first
// use. It keeps fingerprints stable across runs of the same install.
func installID(ctx context.Context, store stateStore) string {
	const key = "install/id"
	if id, ok, err := store.Get(ctx, key); err == nil && ok {
		return id
	}
	id := uuid.NewString()
	if err := store.Set(ctx, key, id); err != nil {
		log.Printf("persist install id: %v", err)
	}
	return id
}

// sampleQuizzes is the embedded demo bank; production deployments load
// definitions from Postgres instead.
func sampleQuizzes() map[string]domain.QuizDefinition {
	return map[string]domain.QuizDefinition{
		"demo": {
			ID:      "demo",
			Title:   "Demo Trivia",
			Intro:   "Answer fast: every second left on the clock is a point.",
			MaxTime: 30,
			Questions: []domain.Question{
				{
					Text:          "What is the largest planet in the solar system?",
					Options:       []string{"Earth", "Saturn", "Jupiter", "Neptune"},
					CorrectOption: 2,
				},
				{
					Text:          "Which ocean is the deepest?",
					Options:       []string{"Atlantic", "Pacific", "Indian", "Arctic"},
					CorrectOption: 1,
				},
				{
					Text:          "How many continents are there?",
					Options:       []string{"five", "six", "seven", "eight"},
					CorrectOption: 2,
				},
			},
		},
	}
}
