// Package di wires the service together with Wire.
package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/graphstore"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/issues"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/sessions"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/sweeper"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/transfer"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/validation"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/views"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/config"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/events"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/cache"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/messaging"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/messaging/eventbridge"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/observability"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/persistence/dynamodb"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/persistence/resilience"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/persistence/sqlite"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/interfaces/http/rest"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// Container holds the wired service.
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	ErrorHandler *pkgerrors.Handler
	Cache        *cache.ViewCache
	Dispatcher   *messaging.Dispatcher
	GraphRepo    repository.GraphRepository
	SessionRepo  repository.SessionRepository
	Store        *graphstore.Store
	Views        *views.Builder
	Validator    *validation.Engine
	Engine       *sessions.Engine
	Issues       *issues.Service
	Transfer     *transfer.Service
	Sweeper      *sweeper.Sweeper
	Router       *rest.Router
}

// Backend is the pair of repositories for the configured storage backend.
type Backend struct {
	Graph    repository.GraphRepository
	Sessions repository.SessionRepository
}

// SuperSet is every provider in the service.
var SuperSet = wire.NewSet(
	InfrastructureProviders,
	ApplicationProviders,
	InterfaceProviders,
	wire.Struct(new(Container), "*"),
)

var InfrastructureProviders = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideErrorHandler,
	ProvideAWSConfig,
	ProvideBackend,
	ProvideGraphRepository,
	ProvideSessionRepository,
	ProvideViewCache,
	ProvideEventPublisher,
	ProvideDispatcher,
)

var ApplicationProviders = wire.NewSet(
	ProvideStore,
	ProvideViewBuilder,
	ProvideValidator,
	ProvideSessionEngine,
	ProvideIssueService,
	ProvideTransferService,
	ProvideSweeper,
)

var InterfaceProviders = wire.NewSet(
	ProvideRouter,
)

// ProvideLogger creates the service logger.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(string(cfg.Environment), cfg.Observability.LogLevel)
}

func ProvideMetrics(cfg *config.Config) *observability.Metrics {
	return observability.NewMetrics(cfg.Observability.MetricsNamespace)
}

func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *pkgerrors.Handler {
	return pkgerrors.NewHandler(logger, cfg.Server.Debug)
}

// ProvideAWSConfig loads the shared AWS configuration. It is only
// consulted by the DynamoDB backend and the EventBridge publisher.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Storage.DynamoDB.Region),
	)
}

// ProvideBackend opens the configured store. The returned cleanup closes
// the SQLite pool.
func ProvideBackend(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) (*Backend, func(), error) {
	var (
		b       Backend
		cleanup = func() {}
	)

	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, sqlite.Config{
			Path:         cfg.Storage.SQLite.Path,
			MaxOpenConns: cfg.Storage.SQLite.MaxOpenConns,
			BusyTimeout:  cfg.Storage.SQLite.BusyTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		b.Graph = sqlite.NewGraphRepository(db, logger)
		b.Sessions = sqlite.NewSessionRepository(db, logger)
		cleanup = func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close database", zap.Error(err))
			}
		}

	case config.BackendDynamoDB:
		ddb := cfg.Storage.DynamoDB
		client := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
			if ddb.Endpoint != "" {
				o.BaseEndpoint = aws.String(ddb.Endpoint)
			}
		})
		tableCfg := dynamodb.Config{
			TableName:        ddb.TableName,
			IndexName:        ddb.IndexName,
			ReverseIndexName: ddb.ReverseIndexName,
		}
		b.Graph = dynamodb.NewGraphRepository(client, tableCfg, logger)
		b.Sessions = dynamodb.NewSessionRepository(client, tableCfg, logger)

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Breaker.Enabled {
		b.Graph = resilience.NewGraphRepository(b.Graph, breakerConfig(cfg, "graph-store"), logger)
		b.Sessions = resilience.NewSessionRepository(b.Sessions, breakerConfig(cfg, "session-store"), logger)
	}

	logger.Info("Storage backend ready",
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("circuitBreaker", cfg.Breaker.Enabled))
	return &b, cleanup, nil
}

func breakerConfig(cfg *config.Config, name string) resilience.Config {
	return resilience.Config{
		Name:             name,
		MaxRequests:      cfg.Breaker.MaxRequests,
		Interval:         cfg.Breaker.Interval,
		Timeout:          cfg.Breaker.Timeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		MinRequests:      cfg.Breaker.MinRequests,
	}
}

func ProvideGraphRepository(b *Backend) repository.GraphRepository {
	return b.Graph
}

func ProvideSessionRepository(b *Backend) repository.SessionRepository {
	return b.Sessions
}

// CacheConfig maps the configured per-kind limits onto the view cache.
func CacheConfig(cfg *config.Config) cache.Config {
	kind := func(k config.CacheKind) cache.KindConfig {
		return cache.KindConfig{TTL: k.TTL, MaxEntries: k.MaxEntries}
	}
	return cache.Config{
		Kinds: map[cache.ViewKind]cache.KindConfig{
			cache.ViewIssueList:     kind(cfg.Cache.IssueList),
			cache.ViewFlattenedTree: kind(cfg.Cache.FlattenedTree),
			cache.ViewEditorGraph:   kind(cfg.Cache.EditorGraph),
		},
		JanitorInterval: cfg.Cache.JanitorInterval,
	}
}

// ProvideViewCache creates the view cache and exports its counters.
func ProvideViewCache(cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (*cache.ViewCache, error) {
	c := cache.New(CacheConfig(cfg), logger)
	if err := metrics.Register(cache.NewCollector(c, cfg.Observability.MetricsNamespace)); err != nil {
		return nil, fmt.Errorf("failed to register cache metrics: %w", err)
	}
	return c, nil
}

// ProvideEventPublisher returns nil unless EventBridge is enabled.
func ProvideEventPublisher(cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) *eventbridge.Publisher {
	if !cfg.Events.EventBridgeEnabled {
		return nil
	}
	return eventbridge.NewPublisher(awseventbridge.NewFromConfig(awsCfg), cfg.Events.EventBusName, logger)
}

// ProvideDispatcher registers the in-process event handlers. Cache
// invalidation runs first so later handlers never observe stale views.
func ProvideDispatcher(viewCache *cache.ViewCache, publisher *eventbridge.Publisher, metrics *observability.Metrics, logger *zap.Logger) *messaging.Dispatcher {
	d := messaging.NewDispatcher(logger)
	d.Register("cache-invalidator", messaging.NewCacheInvalidator(viewCache, logger))
	d.Register("metrics", messaging.HandlerFunc(func(_ context.Context, event events.DomainEvent) error {
		metrics.GraphMutated(event.GetEventType())
		return nil
	}))
	if publisher != nil {
		d.Register("eventbridge", publisher)
	}
	return d
}

func ProvideStore(cfg *config.Config, repo repository.GraphRepository, dispatcher *messaging.Dispatcher, logger *zap.Logger) *graphstore.Store {
	roots := graph.Roots{
		StartSemanticID: cfg.Graph.StartSemanticID,
		StartCategory:   cfg.Graph.StartCategory,
		RootSuffix:      cfg.Graph.RootSuffix,
	}
	return graphstore.New(repo, dispatcher, roots, logger)
}

func ProvideViewBuilder(store *graphstore.Store, viewCache *cache.ViewCache, logger *zap.Logger) *views.Builder {
	return views.NewBuilder(store, store, viewCache, logger)
}

func ProvideValidator(store *graphstore.Store, logger *zap.Logger) *validation.Engine {
	return validation.NewEngine(store, logger)
}

func ProvideSessionEngine(store *graphstore.Store, builder *views.Builder, repo repository.SessionRepository, metrics *observability.Metrics, logger *zap.Logger) *sessions.Engine {
	return sessions.NewEngine(store, builder, repo, metrics, logger)
}

func ProvideIssueService(store *graphstore.Store, validator *validation.Engine, builder *views.Builder, viewCache *cache.ViewCache, logger *zap.Logger) *issues.Service {
	return issues.NewService(store, validator, builder, viewCache, logger)
}

func ProvideTransferService(cfg *config.Config, store *graphstore.Store, validator *validation.Engine, metrics *observability.Metrics, logger *zap.Logger) *transfer.Service {
	return transfer.NewService(store, validator, cfg.Graph.ExportExcluded, metrics, logger)
}

func ProvideSweeper(cfg *config.Config, repo repository.SessionRepository, engine *sessions.Engine, logger *zap.Logger) *sweeper.Sweeper {
	return sweeper.New(repo, engine, cfg.Sessions.SweepBatch, logger)
}

// ProvideRouter builds the HTTP router.
func ProvideRouter(
	cfg *config.Config,
	store *graphstore.Store,
	engine *sessions.Engine,
	issueService *issues.Service,
	transferService *transfer.Service,
	sessionRepo repository.SessionRepository,
	viewCache *cache.ViewCache,
	metrics *observability.Metrics,
	logger *zap.Logger,
	errorHandler *pkgerrors.Handler,
) *rest.Router {
	return rest.NewRouter(store, engine, issueService, transferService, sessionRepo, viewCache, metrics, logger, errorHandler, rest.Options{
		ServiceName:    cfg.ServiceName,
		Version:        cfg.Version,
		AllowedOrigins: cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
	})
}
