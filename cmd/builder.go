package cmd

import (
	"context"
	"net/http"

	"library/api"
	apiauthor "library/api/author"
	apibook "library/api/book"
	"library/api/health"
	appauthor "library/application/author"
	appbook "library/application/book"
	"library/application/command"
	"library/application/pipeline"
	"library/application/query"
	"library/config"
	"library/domain/shared"
	"library/infrastructure/persistence/gormstore"
	"library/infrastructure/persistence/retry"
	"library/infrastructure/readstore"
	"library/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppBuilder builds the gateway App
type AppBuilder struct {
	cfg      *config.Config
	embedded bool
	workers  []Worker
}

// NewBuilder creates a new AppBuilder. With broker.driver=memory the
// projector and the outbox relay run inside the gateway process.
func NewBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{
		cfg:      cfg,
		embedded: cfg.Broker.Driver == "memory",
	}
}

// WithWorker adds a background task
func (b *AppBuilder) WithWorker(name string, run func(ctx context.Context) error) *AppBuilder {
	b.workers = append(b.workers, Worker{Name: name, Run: run})
	return b
}

// Build creates the App instance. Connections opened before a failure are closed.
func (b *AppBuilder) Build(ctx context.Context) (_ *App, err error) {
	logger.Info("Starting application",
		zap.String("app", b.cfg.App.Name),
		zap.String("version", b.cfg.App.Version),
		zap.String("env", b.cfg.App.Env),
		zap.String("database", b.cfg.Database.Driver),
		zap.String("broker", b.cfg.Broker.Driver),
		zap.String("read_store", b.cfg.ReadStore.Driver))

	app := &App{config: b.cfg}
	defer func() {
		if err != nil {
			app.Close(context.WithoutCancel(ctx))
		}
	}()

	db, err := OpenDatabase(ctx, b.cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func(context.Context) error { return CloseDatabase(db) })

	broker, err := OpenBroker(ctx, b.cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func(context.Context) error { broker.Close(); return nil })

	store, err := OpenReadStore(ctx, b.cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, store.Close)

	bus, err := b.commandBus(db, broker)
	if err != nil {
		return nil, err
	}

	if b.embedded {
		if err := b.embedWorkers(app, db, broker, store); err != nil {
			return nil, err
		}
	}
	app.workers = append(app.workers, b.workers...)

	queries := query.NewService(store, store)
	healthController := health.NewController(b.cfg,
		health.Dependency{Name: "database", Check: func(ctx context.Context) error { return gormstore.Ping(ctx, db) }, Critical: true},
		health.Dependency{Name: "broker", Check: broker.Ping},
		health.Dependency{Name: "read_store", Check: store.Ping},
	)

	router := api.NewRouter(b.cfg,
		healthController,
		apibook.NewController(bus, queries),
		apiauthor.NewController(bus, queries),
	)
	router.SetupRoutes()

	app.router = router
	app.server = &http.Server{
		Addr:         ":" + b.cfg.Server.Port,
		Handler:      router.GetEngine(),
		ReadTimeout:  b.cfg.Server.ReadTimeout,
		WriteTimeout: b.cfg.Server.WriteTimeout,
	}
	return app, nil
}

func (b *AppBuilder) commandBus(db *gorm.DB, broker *Broker) (*command.Bus, error) {
	var outbox shared.OutboxRepository
	if b.cfg.Outbox.Enabled {
		outbox = gormstore.NewOutboxRepository(db)
	} else {
		logger.Warn("Outbox disabled, events lost on publish failure are not republished")
	}

	committer := pipeline.NewCommitter(
		gormstore.NewUnitOfWorkFactory(db, retry.FromAppConfig(b.cfg), b.cfg.Outbox.Enabled),
		broker.Publisher(b.cfg),
		outbox,
	)

	books := gormstore.NewBookRepository(db)
	authors := gormstore.NewAuthorRepository(db)

	bus := command.NewBus(b.cfg.Command.Timeout)
	if err := appbook.NewService(books, authors, committer).Register(bus); err != nil {
		return nil, err
	}
	if err := appauthor.NewService(authors, books, committer).Register(bus); err != nil {
		return nil, err
	}
	return bus, nil
}

// embedWorkers 单进程模式：in-memory broker 的消息只能在本进程消费
func (b *AppBuilder) embedWorkers(app *App, db *gorm.DB, broker *Broker, store readstore.Store) error {
	sub := NewMemorySubscription(b.cfg, broker.Memory)
	dispatcher := NewProjectionDispatcher(store)
	app.workers = append(app.workers, Worker{
		Name: "projector",
		Run: func(ctx context.Context) error {
			return sub.Run(ctx, dispatcher)
		},
	})

	if !b.cfg.Outbox.Enabled {
		return nil
	}
	relay, err := NewOutboxRelay(b.cfg, db, broker.Transport)
	if err != nil {
		return err
	}
	app.workers = append(app.workers, Worker{Name: "outbox-relay", Run: relay.Run})
	return nil
}
