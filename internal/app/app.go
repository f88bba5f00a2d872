// Package app builds the service components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/facturaIA/nfse-chat-service/internal/ai"
	"github.com/facturaIA/nfse-chat-service/internal/db"
	"github.com/facturaIA/nfse-chat-service/internal/events"
	"github.com/facturaIA/nfse-chat-service/internal/extraction"
	"github.com/facturaIA/nfse-chat-service/internal/history"
	"github.com/facturaIA/nfse-chat-service/internal/issuance"
	"github.com/facturaIA/nfse-chat-service/internal/logger"
	"github.com/facturaIA/nfse-chat-service/internal/models"
	"github.com/facturaIA/nfse-chat-service/internal/processor"
	"github.com/facturaIA/nfse-chat-service/internal/registry"
	"github.com/facturaIA/nfse-chat-service/internal/response"
	"github.com/facturaIA/nfse-chat-service/internal/session"
	"github.com/facturaIA/nfse-chat-service/internal/storage"
)

// EventSource identifies this service in published events
const EventSource = "nfse-chat-service"

var newGeminiProvider = ai.NewGeminiProvider

// Stores holds the session store and its persistence
type Stores struct {
	Store *session.Store
	// Snapshots is nil when no database is configured
	Snapshots *db.SnapshotRepository
	Suggester history.Suggester

	pool  *pgxpool.Pool
	redis *redis.Client
}

// OpenStores connects the session backend and the snapshot database. Without
// a database, snapshots only feed the in-memory history.
func OpenStores(ctx context.Context, cfg *models.Config, log zerolog.Logger) (*Stores, error) {
	st := &Stores{}

	var writer session.SnapshotWriter
	pool, err := db.Open(ctx, cfg.Database.URL, logger.WithComponent(log, "db"))
	if err == nil {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		st.pool = pool
		st.Snapshots = db.NewSnapshotRepository(pool, logger.WithComponent(log, "snapshots"))
		st.Suggester = st.Snapshots
		writer = st.Snapshots
	} else {
		if !errors.Is(err, db.ErrNoDatabase) {
			log.Warn().Err(err).Msg("database not available, running without snapshot persistence")
		}
		mem := history.NewMemory()
		st.Suggester = mem
		writer = mem
	}

	var backend session.Backend
	switch cfg.Session.Backend {
	case "redis":
		client := session.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := client.Ping(ctx).Err(); err != nil {
			st.Close()
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		st.redis = client
		backend = session.NewRedisBackend(client, cfg.Session.LockTimeout,
			session.WithRedisLogger(logger.WithComponent(log, "redis")))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis session backend")
	case "memory", "":
		backend = session.NewMemoryBackend()
		log.Info().Msg("using in-memory session backend")
	default:
		st.Close()
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}

	st.Store = session.NewStore(backend, cfg.Session.TTL,
		session.WithSnapshots(writer),
		session.WithLogger(logger.WithComponent(log, "sessions")),
	)
	return st, nil
}

// Checks returns the health checks of the connected stores
func (st *Stores) Checks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if st.pool != nil {
		checks["database"] = st.pool.Ping
	}
	if st.redis != nil {
		client := st.redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}

// Close releases the connections
func (st *Stores) Close() {
	if st.redis != nil {
		_ = st.redis.Close()
	}
	if st.pool != nil {
		st.pool.Close()
	}
}

// App is the fully wired message pipeline
type App struct {
	*Stores
	Processor *processor.Processor
	Publisher events.Publisher

	bucket  *storage.Bucket
	closers []func() error
	log     zerolog.Logger
}

// Build wires every component described by cfg
func Build(ctx context.Context, cfg *models.Config, log zerolog.Logger) (*App, error) {
	stores, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{Stores: stores, log: log}

	provider, err := a.provider(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	templates := response.NewTemplates()
	opts := []extraction.Option{
		extraction.WithTemplates(templates),
		extraction.WithTimeout(cfg.Extraction.Timeout),
		extraction.WithHybrid(cfg.Extraction.Hybrid),
		extraction.WithSuggestions(history.NewAdvisor(stores.Suggester, logger.WithComponent(log, "history"))),
		extraction.WithRouterLogger(logger.WithComponent(log, "router")),
	}

	var (
		general  extraction.Extractor
		composer response.Composer = response.NewTemplateComposer(templates)
	)
	if provider != nil {
		aiLog := logger.WithComponent(log, "ai")
		general = ai.NewExtractor(provider, aiLog)
		if cfg.Extraction.Focused {
			opts = append(opts, extraction.WithFocused(ai.NewFocusedExtractor(provider, aiLog)))
		}
		assistant := ai.NewAssistant(provider, aiLog)
		opts = append(opts, extraction.WithConversational(assistant))
		if cfg.Extraction.Composer == "authored" {
			composer = response.NewAuthoredComposer(templates, assistant, cfg.Extraction.Timeout, aiLog)
		}
	}

	if cfg.Registry.Enabled {
		opts = append(opts, extraction.WithNameLookup(
			registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.Timeout, logger.WithComponent(log, "registry"))))
	}

	router := extraction.NewRouter(general, composer, opts...)

	issuer, err := a.issuer(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Publisher = events.NopPublisher{}
	if cfg.Events.URL != "" {
		pub, err := events.NewRabbitPublisher(cfg.Events.URL, cfg.Events.Exchange, EventSource, logger.WithComponent(log, "events"))
		if err != nil {
			// events are informational, the chat keeps working without them
			log.Warn().Err(err).Msg("event publisher not available")
		} else {
			a.Publisher = pub
			a.closers = append(a.closers, pub.Close)
		}
	}

	a.Processor = processor.New(stores.Store, router, issuer,
		processor.WithPublisher(a.Publisher),
		processor.WithLockTimeout(cfg.Session.LockTimeout),
		processor.WithLogger(logger.WithComponent(log, "processor")),
	)
	return a, nil
}

// provider returns the configured model provider, or nil for rules only
func (a *App) provider(ctx context.Context, cfg *models.Config) (ai.Provider, error) {
	switch cfg.AI.DefaultProvider {
	case "openai":
		if cfg.AI.OpenAI.APIKey == "" {
			a.log.Warn().Msg("OPENAI_API_KEY not set, using rule extraction")
			return nil, nil
		}
		return ai.NewOpenAIProvider(cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.BaseURL, cfg.AI.OpenAI.Model), nil
	case "gemini":
		if cfg.AI.Gemini.APIKey == "" {
			a.log.Warn().Msg("GEMINI_API_KEY not set, using rule extraction")
			return nil, nil
		}
		p, err := newGeminiProvider(ctx, cfg.AI.Gemini.APIKey, cfg.AI.Gemini.Model)
		if err != nil {
			a.log.Warn().Err(err).Msg("gemini not available, using rule extraction")
			return nil, nil
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	case "ollama":
		return ai.NewOllamaProvider(cfg.AI.Ollama.BaseURL, cfg.AI.Ollama.Model), nil
	case "rules", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.AI.DefaultProvider)
	}
}

func (a *App) issuer(ctx context.Context, cfg *models.Config) (issuance.Issuer, error) {
	var issuer issuance.Issuer = issuance.NewMockGateway(cfg.Issuance.ProviderCNPJ, logger.WithComponent(a.log, "issuance"))
	if !cfg.Issuance.Archive {
		return issuer, nil
	}
	if cfg.Storage.AccessKey == "" {
		a.log.Warn().Msg("receipt archive enabled but MinIO credentials are missing")
		return issuer, nil
	}

	bucket, err := storage.Open(ctx, storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	}, logger.WithComponent(a.log, "storage"))
	if err != nil {
		return nil, err
	}
	a.bucket = bucket
	return issuance.NewArchivingIssuer(issuer, bucket, logger.WithComponent(a.log, "archive")), nil
}

// Checks adds the storage and broker checks to the store checks
func (a *App) Checks() map[string]func(context.Context) error {
	checks := a.Stores.Checks()
	if a.bucket != nil {
		bucket := a.bucket
		checks["storage"] = func(ctx context.Context) error {
			if !bucket.Healthy(ctx) {
				return errors.New("bucket not reachable")
			}
			return nil
		}
	}
	if pub, ok := a.Publisher.(*events.RabbitPublisher); ok {
		checks["events"] = func(context.Context) error {
			if !pub.Healthy() {
				return errors.New("broker connection closed")
			}
			return nil
		}
	}
	return checks
}

// Close releases every connection
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("failed to close component")
		}
	}
	a.Stores.Close()
}
