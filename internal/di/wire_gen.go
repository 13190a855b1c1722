//go:build !wireinject
// +build !wireinject

// Injectors for the provider sets in wire.go. Keep the two files in step
// when a provider changes; running wire in this directory regenerates
// this file.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire

package di

import (
	"context"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/config"
)

// Injectors from wire.go:

// InitializeContainer creates a fully wired container. The cleanup
// function releases the storage backend.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	metrics := ProvideMetrics(cfg)
	handler := ProvideErrorHandler(cfg, logger)
	awsConfig, err := ProvideAWSConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	backend, cleanup, err := ProvideBackend(ctx, cfg, awsConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	viewCache, err := ProvideViewCache(cfg, metrics, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	publisher := ProvideEventPublisher(cfg, awsConfig, logger)
	dispatcher := ProvideDispatcher(viewCache, publisher, metrics, logger)
	graphRepository := ProvideGraphRepository(backend)
	sessionRepository := ProvideSessionRepository(backend)
	store := ProvideStore(cfg, graphRepository, dispatcher, logger)
	builder := ProvideViewBuilder(store, viewCache, logger)
	engine := ProvideValidator(store, logger)
	sessionsEngine := ProvideSessionEngine(store, builder, sessionRepository, metrics, logger)
	service := ProvideIssueService(store, engine, builder, viewCache, logger)
	transferService := ProvideTransferService(cfg, store, engine, metrics, logger)
	sweeperSweeper := ProvideSweeper(cfg, sessionRepository, sessionsEngine, logger)
	router := ProvideRouter(cfg, store, sessionsEngine, service, transferService, sessionRepository, viewCache, metrics, logger, handler)
	container := &Container{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		ErrorHandler: handler,
		Cache:        viewCache,
		Dispatcher:   dispatcher,
		GraphRepo:    graphRepository,
		SessionRepo:  sessionRepository,
		Store:        store,
		Views:        builder,
		Validator:    engine,
		Engine:       sessionsEngine,
		Issues:       service,
		Transfer:     transferService,
		Sweeper:      sweeperSweeper,
		Router:       router,
	}
	return container, func() {
		cleanup()
	}, nil
}
