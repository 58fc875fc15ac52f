package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Rrens/ally-chat/internal/api"
	"github.com/Rrens/ally-chat/internal/api/handler"
	customMiddleware "github.com/Rrens/ally-chat/internal/api/middleware"
	"github.com/Rrens/ally-chat/internal/chat"
	"github.com/Rrens/ally-chat/internal/config"
	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/identity"
	"github.com/Rrens/ally-chat/internal/llm"
	"github.com/Rrens/ally-chat/internal/llm/gemini"
	"github.com/Rrens/ally-chat/internal/llm/ollama"
	"github.com/Rrens/ally-chat/internal/llm/openai"
	"github.com/Rrens/ally-chat/internal/quota"
	"github.com/Rrens/ally-chat/internal/repository/memory"
	"github.com/Rrens/ally-chat/internal/repository/mongo"
	"github.com/Rrens/ally-chat/internal/repository/postgres"
	"github.com/Rrens/ally-chat/internal/repository/redis"
	"github.com/Rrens/ally-chat/internal/repository/sqlstore"
	"github.com/Rrens/ally-chat/internal/security"
	"github.com/Rrens/ally-chat/internal/service"
	"github.com/Rrens/ally-chat/internal/storage"
	"github.com/Rrens/ally-chat/internal/usage"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

// App is the wired service: the HTTP handler plus everything that must be closed
type App struct {
	Handler   http.Handler
	Assistant *service.AssistantService
	Hub       *identity.Hub

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Build wires every component described by cfg
func Build(ctx context.Context, cfg *config.Config) (a *App, err error) {
	a = &App{Hub: identity.NewHub()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// Redis is optional unless it is the document store
	var redisClient *redis.Client
	if cfg.Redis.Enabled || cfg.Storage.Backend == config.BackendRedis {
		redisClient, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, redisClient)
	}

	store, err := openStore(ctx, cfg, redisClient)
	if err != nil {
		return a, err
	}
	a.closers = append(a.closers, store)

	blobs, err := storage.NewLocalStorage(cfg.Uploads.Dir, cfg.Uploads.PublicBaseURL, cfg.Uploads.MaxBytes)
	if err != nil {
		return a, err
	}

	var summaries chat.SummaryCache
	var limiter customMiddleware.Limiter
	ready := map[string]handler.Pinger{"storage": store}
	if redisClient != nil {
		cache := redis.NewSummaryCache(redisClient, cfg.Redis.SummaryTTL)
		stopWatching := cache.Watch(a.Hub)
		a.closers = append(a.closers, closerFunc(func() error { stopWatching(); return nil }))
		summaries = cache
		limiter = redis.NewRateLimiter(redisClient, cfg.Security.RateLimit.RequestsPerMinute)
		ready["redis"] = redisClient
	}

	window := cfg.Quota.Window
	if window <= 0 {
		window = quota.Window
	}
	ledger := quota.NewLedger(store, cfg.Quota.DailyLimit, window)
	chats := chat.NewStore(store, blobs, summaries, cfg.Chat.UntitledPlaceholder)
	reporter := usage.NewReporter(ledger, chats, window)

	a.Assistant = service.NewAssistantService(ledger, chats, reporter, newLLMRouter(cfg.LLM))

	if cfg.Auth.JWTSecret == "" {
		return a, fmt.Errorf("auth.jwt_secret is required")
	}

	a.Handler = api.NewRouter(api.Dependencies{
		Config:      cfg,
		Assistant:   a.Assistant,
		JWT:         security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience),
		Hub:         a.Hub,
		RateLimiter: limiter,
		Blobs:       blobs,
		Ready:       ready,
	})

	log.Info().
		Str("storage", cfg.Storage.Backend).
		Bool("redis", redisClient != nil).
		Int("daily_limit", ledger.Limit()).
		Msg("application wired")

	return a, nil
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() error {
	var result error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result
}

func openStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (domain.DocumentStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		return memory.NewStore(), nil

	case config.BackendSQLite:
		path := cfg.Storage.SQLite.Path
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
		}
		return sqlstore.Open(ctx, sqlstore.SQLite, sqlstore.SQLiteDSN(path))

	case config.BackendMySQL:
		return sqlstore.Open(ctx, sqlstore.MySQL, cfg.Storage.MySQL.DSN())

	case config.BackendPostgres:
		if url := cfg.Storage.Postgres.MigrationsURL; url != "" {
			if err := postgres.RunMigrations(cfg.Storage.Postgres.DSN(), url); err != nil {
				return nil, err
			}
		}
		db, err := postgres.NewDB(ctx, cfg.Storage.Postgres)
		if err != nil {
			return nil, err
		}
		return postgres.NewDocumentStore(db), nil

	case config.BackendMongo:
		return mongo.Connect(ctx, cfg.Storage.Mongo)

	case config.BackendRedis:
		return redis.NewDocumentStore(redisClient), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}
}

func newLLMRouter(cfg config.LLMConfig) *llm.Router {
	router := llm.NewRouter("gemini")

	chatProviders := []llm.Provider{gemini.NewProvider(cfg.Gemini), ollama.NewProvider(cfg.Ollama)}
	for _, p := range chatProviders {
		router.RegisterProvider(p)
	}

	chatProvider := cfg.ChatProvider
	if chatProvider == "" {
		chatProvider = "gemini"
	}
	router.Route(domain.ModelAlly3, chatProvider)

	imageProvider := openai.NewProvider(cfg.OpenAI)
	router.RegisterProvider(imageProvider)
	router.Route(domain.ModelAlly3Image, imageProvider.Name())

	for _, p := range append(chatProviders, imageProvider) {
		log.Info().Str("provider", p.Name()).Bool("configured", p.IsConfigured()).Msg("inference provider registered")
	}

	return router
}
