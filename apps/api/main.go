package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	recordshandler "github.com/nivello-hq/nivello-core/domains/records/be/handler"
	recordsservice "github.com/nivello-hq/nivello-core/domains/records/be/service"
	schemaversionshandler "github.com/nivello-hq/nivello-core/domains/schema-versions/be/handler"
	schemaversionsrepo "github.com/nivello-hq/nivello-core/domains/schema-versions/be/repo"
	schemaversionsservice "github.com/nivello-hq/nivello-core/domains/schema-versions/be/service"
	tenantshandler "github.com/nivello-hq/nivello-core/domains/tenants/be/handler"
	tenantsrepo "github.com/nivello-hq/nivello-core/domains/tenants/be/repo"
	tenantsservice "github.com/nivello-hq/nivello-core/domains/tenants/be/service"
	platformlogging "github.com/nivello-hq/nivello-core/platform/go/logging"
	platformmiddleware "github.com/nivello-hq/nivello-core/platform/go/middleware"
	"github.com/nivello-hq/nivello-core/platform/go/persistence"
	tenantmiddleware "github.com/nivello-hq/nivello-core/platform/go/tenant/middleware"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	RunBootstrap    bool          `env:"RUN_BOOTSTRAP" envDefault:"true"`
}

// exemptTables are cross-tenant tables the isolation filter never touches.
var exemptTables = []string{"tenants", "users", "schema_versions"}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if cfg.RunBootstrap {
		if err := persistence.Bootstrap(ctx, pool); err != nil {
			logger.Fatal("bootstrap database", zap.Error(err))
		}
	}

	versionStore, err := persistence.NewSchemaVersionStore(pool)
	if err != nil {
		logger.Fatal("init schema version store", zap.Error(err))
	}

	registry, err := buildRegistry(ctx, versionStore)
	if err != nil {
		logger.Fatal("build table registry", zap.Error(err))
	}
	filter := persistence.NewTenantFilter(registry, exemptTables...)
	logger.Info("table registry ready", zap.Strings("tenant_scoped_tables", filter.ScopedTables()))

	recordDB := persistence.NewRecordDB(persistence.RecordDBConfig{Pool: pool, Filter: filter})
	recordRepo := persistence.NewRecordRepository(registry)

	versionRepo := schemaversionsrepo.NewPostgresRepository(versionStore)
	versionService := schemaversionsservice.New(versionRepo, persistence.NewDocumentValidator())
	versionHandler := schemaversionshandler.New(versionService, logger)

	recordsService := recordsservice.New(versionService, recordDB, recordRepo)
	recordsHandler := recordshandler.New(recordsService, logger)

	tenantService := tenantsservice.New(tenantsrepo.NewPostgresRepository(pool))
	tenantHandler := tenantshandler.New(tenantService, logger)

	rootRouter := chi.NewRouter()
	rootRouter.Use(chimw.RequestID)
	rootRouter.Use(chimw.RealIP)
	rootRouter.Use(chimw.Recoverer)
	rootRouter.Use(platformmiddleware.DefaultCORS())
	rootRouter.Use(tenantmiddleware.OptionalTenant())
	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	apiRouter := chi.NewRouter()
	apiRouter.Group(tenantHandler.Routes)
	apiRouter.Group(versionHandler.Routes)
	apiRouter.Group(func(r chi.Router) {
		r.Use(tenantmiddleware.RequireTenant())
		recordsHandler.Routes(r)
	})
	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildRegistry seeds the table-metadata registry: the built-in record
// tables from the bootstrap DDL, overlaid with the dataSource sections of
// every published global schema document. The registry is read-only after
// this point.
func buildRegistry(ctx context.Context, store *persistence.SchemaVersionStore) (*persistence.TableRegistry, error) {
	defs := map[string]persistence.TableDef{}
	for _, def := range builtinTableDefs() {
		defs[def.Name] = def
	}

	err := store.WithTx(ctx, func(tx pgx.Tx) error {
		published, txErr := store.ListPublishedDocumentsTx(ctx, tx, persistence.ScopeGlobal)
		if txErr != nil {
			return txErr
		}
		for _, version := range published {
			def, defErr := persistence.TableDefFromDocument(version.Document)
			if defErr != nil {
				return defErr
			}
			defs[def.Name] = def
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	all := make([]persistence.TableDef, 0, len(defs))
	for _, def := range defs {
		all = append(all, def)
	}
	return persistence.NewTableRegistry(all...)
}

func builtinTableDefs() []persistence.TableDef {
	return []persistence.TableDef{
		{
			Name: "products",
			Columns: []persistence.Column{
				{Name: persistence.ColumnNameID, Type: persistence.ColumnText},
				{Name: persistence.ColumnNameTenantID, Type: persistence.ColumnText},
				{Name: persistence.ColumnNameCreatedAt, Type: persistence.ColumnTimestamp},
				{Name: persistence.ColumnNameUpdatedAt, Type: persistence.ColumnTimestamp},
				{Name: persistence.ColumnNameVersion, Type: persistence.ColumnInteger},
				{Name: "name", Type: persistence.ColumnText},
				{Name: "sku", Type: persistence.ColumnText},
				{Name: "price", Type: persistence.ColumnDecimal},
				{Name: "active", Type: persistence.ColumnBoolean},
				{Name: "attributes", Type: persistence.ColumnJSON},
			},
		},
		{
			Name: "customers",
			Columns: []persistence.Column{
				{Name: persistence.ColumnNameID, Type: persistence.ColumnText},
				{Name: persistence.ColumnNameTenantID, Type: persistence.ColumnText},
				{Name: persistence.ColumnNameCreatedAt, Type: persistence.ColumnTimestamp},
				{Name: persistence.ColumnNameUpdatedAt, Type: persistence.ColumnTimestamp},
				{Name: "name", Type: persistence.ColumnText},
				{Name: "email", Type: persistence.ColumnText},
				{Name: "phone", Type: persistence.ColumnText},
			},
		},
	}
}
