package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/agent"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/completion"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/config"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/events"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/events/kafka"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/graph"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/graphdb"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/metrics"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/server"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/storage"
)

// runtime holds the shared backends every session engine is built on.
type runtime struct {
	cfg *config.Config
	log *slog.Logger

	llm       ports.TextCompletionService
	graph     *graphdb.Executor
	redis     *redis.Client
	pool      *pgxpool.Pool
	archive   *storage.TurnArchive
	publisher events.Publisher
	templates *graph.TemplateStore

	registry *prometheus.Registry
	recorder *metrics.Recorder
}

// openRuntime connects to every configured backend. The caller must Close it.
func openRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (rt *runtime, err error) {
	rt = &runtime{
		cfg:       cfg,
		log:       log,
		publisher: events.Nop{},
		registry:  prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.recorder = metrics.New(rt.registry)

	if cfg.Pipeline.TemplatesFile != "" {
		rt.templates, err = graph.NewTemplateStore(cfg.Pipeline.TemplatesFile, log)
		if err != nil {
			return rt, err
		}
		log.Info("loaded query templates", "path", cfg.Pipeline.TemplatesFile)
	}

	ollama := completion.NewOllama(cfg.Ollama.URL, cfg.Ollama.Model, cfg.Ollama.Timeout)
	rt.llm = ollama

	if cfg.Redis.Enabled {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err = rt.redis.Ping(ctx).Err(); err != nil {
			return rt, fmt.Errorf("connecting to redis %s: %w", cfg.Redis.Addr, err)
		}
		rt.llm = completion.NewCached(ollama, rt.redis,
			completion.WithTTL(cfg.Redis.TTL),
			completion.WithNamespace(ollama.Model()),
			completion.WithCacheLogger(log),
		)
		log.Info("completion cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}

	rt.graph, err = graphdb.Open(ctx, graphdb.Config{
		URI:      cfg.Neo4j.URI,
		User:     cfg.Neo4j.User,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	}, log)
	if err != nil {
		return rt, err
	}

	if cfg.Postgres.Enabled {
		rt.pool, err = storage.Open(ctx, cfg.Postgres.URL)
		if err != nil {
			return rt, err
		}
		rt.archive = storage.NewTurnArchive(rt.pool, cfg.Postgres.Table)
		if err = rt.archive.EnsureSchema(ctx); err != nil {
			return rt, err
		}
		log.Info("turn archive enabled", "table", cfg.Postgres.Table)
	}

	if cfg.Kafka.Enabled {
		pub, perr := kafka.New(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, kafka.WithLogger(log))
		if perr != nil {
			return rt, perr
		}
		rt.publisher = pub
		log.Info("turn events enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	return rt, nil
}

// newEngine builds a fresh conversation with its own memory.
func (rt *runtime) newEngine(sessionID string) *agent.Engine {
	mem := memory.New(rt.cfg.Memory.Capacity)
	popts := []graph.Option{
		graph.WithPreviewRows(rt.cfg.Pipeline.PreviewRows),
		graph.WithRowLimit(rt.cfg.Pipeline.RowLimit),
		graph.WithObserver(rt.recorder),
		graph.WithLogger(rt.log),
	}
	if rt.templates != nil {
		popts = append(popts, graph.WithTemplateSource(rt.templates))
	}
	pipeline := graph.New(mem, rt.llm, rt.graph, popts...)

	opts := []agent.Option{
		agent.WithSessionID(sessionID),
		agent.WithPublisher(rt.publisher),
		agent.WithTurnObserver(rt.recorder),
		agent.WithLogger(rt.log),
	}
	if rt.archive != nil {
		opts = append(opts, agent.WithArchive(rt.archive))
	}
	return agent.New(mem, pipeline, opts...)
}

// serverOptions exposes the runtime's backends to the HTTP layer.
func (rt *runtime) serverOptions() []server.Option {
	opts := []server.Option{
		server.WithLogger(rt.log),
		server.WithMetrics(rt.recorder, rt.registry),
		server.WithHealthCheck("neo4j", rt.graph.Ping),
	}
	if rt.redis != nil {
		opts = append(opts, server.WithHealthCheck("redis", func(ctx context.Context) error {
			return rt.redis.Ping(ctx).Err()
		}))
	}
	if rt.pool != nil {
		opts = append(opts,
			server.WithHealthCheck("postgres", rt.pool.Ping),
			server.WithArchive(rt.archive),
		)
	}
	return opts
}

// Close releases every backend that was opened.
func (rt *runtime) Close() {
	var errs []error
	if rt.publisher != nil {
		errs = append(errs, rt.publisher.Close())
	}
	if rt.graph != nil {
		errs = append(errs, rt.graph.Close(context.Background()))
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		rt.log.Warn("closing backends", "error", err)
	}
}
