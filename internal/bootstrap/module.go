package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"infoportal/internal/bootstrap/config"
	"infoportal/internal/bootstrap/database"
	"infoportal/internal/bootstrap/logging"
	cacheinfra "infoportal/internal/infrastructure/cache"
	"infoportal/internal/infrastructure/eventbus"
	sqliterepo "infoportal/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "infoportal/internal/infrastructure/persistence/sqlite/uow"
	"infoportal/internal/infrastructure/storage"
	"infoportal/internal/kobo"
	"infoportal/internal/ports"
	usecasesubmission "infoportal/internal/usecase/submission"
	usecasesync "infoportal/internal/usecase/sync"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			provideSubmissionRepository,
			fx.As(new(ports.SubmissionRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewFormRepository,
			fx.As(new(ports.FormRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewHistoryRepository,
			fx.As(new(ports.HistoryRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(provideEventBus),
	fx.Provide(provideFileStorage),
	fx.Provide(provideKoboResolver),
	fx.Provide(usecasesubmission.NewHistoryService),
	fx.Provide(provideAttachmentService),
	fx.Provide(provideGeocoder),
	fx.Provide(usecasesubmission.NewService),
	fx.Provide(provideUpdateService),
	fx.Provide(provideSyncEngine),
)

// Services bundles what commands consume from the container.
type Services struct {
	fx.In

	Submissions *usecasesubmission.Service
	Updates     *usecasesubmission.UpdateService
	History     *usecasesubmission.HistoryService
	Attachments *usecasesubmission.AttachmentService
	Sync        *usecasesync.Engine
	Bus         ports.EventBus
}

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideSubmissionRepository(db *gorm.DB, cfg config.Config) *sqliterepo.SubmissionRepository {
	return sqliterepo.NewSubmissionRepository(db, cfg.Database.MaxBulkParams)
}

func provideEventBus(lc fx.Lifecycle, cfg config.Config) (ports.EventBus, error) {
	if !cfg.Nats.Enabled {
		return eventbus.NoopBus{}, nil
	}

	bus, err := eventbus.NewNatsBus(cfg.Nats.URL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			bus.Close()
			return nil
		},
	})
	return bus, nil
}

func provideFileStorage(ctx context.Context, cfg config.Config) (ports.FileStorage, error) {
	signer := storage.NewSigner(cfg.Storage.SignSecret)
	if cfg.Storage.Backend == "s3" {
		return storage.NewS3Storage(ctx, cfg.Storage.S3, cfg.Storage.PublicBaseURL, signer)
	}
	return storage.NewLocalStorage(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL, signer)
}

func provideKoboResolver(cfg config.Config) (ports.KoboResolver, error) {
	registry, err := kobo.LoadRegistry(cfg.Kobo.AccountsFile, cfg.Kobo.FetchTimeout)
	if err != nil {
		return nil, err
	}
	return func(account string) (ports.KoboClient, error) {
		return registry.ClientFor(account)
	}, nil
}

func provideAttachmentService(fileStorage ports.FileStorage, cfg config.Config) *usecasesubmission.AttachmentService {
	return usecasesubmission.NewAttachmentService(fileStorage, cfg.Storage.SignTTL)
}

func provideGeocoder(cfg config.Config) *usecasesubmission.Geocoder {
	return usecasesubmission.NewGeocoder(cfg.Geocoding.OpenCageAPIKey)
}

func provideUpdateService(
	repo ports.SubmissionRepository,
	forms ports.FormRepository,
	history *usecasesubmission.HistoryService,
	unit ports.UnitOfWork,
	kvCache ports.Cache,
	bus ports.EventBus,
	attachments *usecasesubmission.AttachmentService,
	resolve ports.KoboResolver,
	cfg config.Config,
) *usecasesubmission.UpdateService {
	return usecasesubmission.NewUpdateService(
		repo, forms, history, unit, kvCache, bus, attachments, resolve,
		cfg.Kobo.Parallelism, cfg.Kobo.Retries, cfg.Kobo.RetryBackoff,
	)
}

func provideSyncEngine(
	forms ports.FormRepository,
	repo ports.SubmissionRepository,
	kvCache ports.Cache,
	bus ports.EventBus,
	resolve ports.KoboResolver,
	cfg config.Config,
) *usecasesync.Engine {
	return usecasesync.NewEngine(
		forms, repo, kvCache, bus, resolve,
		cfg.Database.MaxBulkParams, cfg.App.Production(),
	)
}
