package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dcastineira/procesos/internal/calendar"
	"github.com/dcastineira/procesos/internal/config"
	domain "github.com/dcastineira/procesos/internal/domain/core"
	httpserver "github.com/dcastineira/procesos/internal/http"
	"github.com/dcastineira/procesos/internal/metrics"
	"github.com/dcastineira/procesos/internal/mutate"
	"github.com/dcastineira/procesos/internal/observability/logger"
	"github.com/dcastineira/procesos/internal/records"
	"github.com/dcastineira/procesos/internal/reorder"
	"github.com/dcastineira/procesos/internal/store/adapters/pg"
	storecore "github.com/dcastineira/procesos/internal/store/core"
	"github.com/dcastineira/procesos/internal/stream"
	"github.com/dcastineira/procesos/internal/synclock"
)

func main() {
	_ = godotenv.Load()

	var configPath string

	root := &cobra.Command{
		Use:   "procesos",
		Short: "Servicio de procesos y tareas con sync de calendario",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.example.yaml", "ruta del YAML de configuración")

	root.AddCommand(
		newServeCmd(&configPath),
		newSeedCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta la API y el consumidor del change stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
			defer func() { _ = logger.Sync() }()
			log := logger.Named("main")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := pg.NewPool(ctx, cfg.Storage.DSN, cfg.Storage.Postgres.MaxOpenConns, mustLifetime(cfg))
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer pool.Close()

			registry := prometheus.NewRegistry()
			if err := metrics.Register(registry); err != nil {
				return fmt.Errorf("metrics: %w", err)
			}

			repo := pg.NewRecordRepo(pool)
			notifier := pg.NewNotifier(pool)

			locks, err := buildLocks(ctx, cfg)
			if err != nil {
				return err
			}

			var syncer mutate.Syncer
			if cfg.Calendar.BaseURL != "" {
				client := calendar.NewHTTPClient(calendar.HTTPClientOptions{
					BaseURL:    cfg.Calendar.BaseURL,
					Token:      cfg.Calendar.Token,
					HTTPClient: &http.Client{Timeout: cfg.CalendarTimeout()},
					MaxRetries: cfg.Calendar.MaxRetries,
				})
				syncer = calendar.NewOrchestrator(client, locks, repo, cfg.LookupTTL())
			} else {
				log.Warn("calendar.base_url vacío, sync de calendario deshabilitado")
			}

			procesos := newSurface(repo, domain.CollectionProcesos, syncer)
			tareas := newSurface(repo, domain.CollectionTareas, syncer)

			// Estado inicial: listar ambas colecciones antes de servir.
			for _, s := range []*httpserver.Surface{procesos, tareas} {
				if err := warmup(ctx, repo, s.Store); err != nil {
					return fmt.Errorf("warmup %s: %w", s.Store.Collection(), err)
				}
				log.Info("colección cargada",
					logger.Collection(string(s.Store.Collection())),
					logger.Count(s.Store.Len()))
			}

			listeners := []*stream.Listener{
				stream.NewListener(notifier, repo, procesos.Store, nil, cfg.SettleDelay()),
				stream.NewListener(notifier, repo, tareas.Store, nil, cfg.SettleDelay()),
			}
			for _, l := range listeners {
				go func(l *stream.Listener) {
					if err := l.Run(ctx); err != nil && ctx.Err() == nil {
						log.Error("change stream caído", logger.Err(err))
					}
				}(l)
			}

			router := httpserver.NewRouter(&httpserver.Deps{
				Procesos: procesos,
				Tareas:   tareas,
				Repo:     repo,
				Registry: registry,
			})
			srv := httpserver.NewServer(cfg.Server.Addr, router)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			log.Info("servicio escuchando", logger.Component("http"))

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return fmt.Errorf("http: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("shutdown sucio", logger.Err(err))
			}
			for _, l := range listeners {
				l.Close()
			}
			procesos.Pipeline.Wait()
			tareas.Pipeline.Wait()
			log.Info("servicio detenido")
			return nil
		},
	}
}

func newSurface(repo storecore.RecordRepository, collection domain.Collection, syncer mutate.Syncer) *httpserver.Surface {
	store := records.NewStore(collection)
	return &httpserver.Surface{
		Store:     store,
		Pipeline:  mutate.NewPipeline(repo, store, syncer),
		Reindexer: reorder.NewReindexer(repo, store),
	}
}

func warmup(ctx context.Context, repo storecore.RecordRepository, store *records.Store) error {
	recs, err := repo.List(ctx, store.Collection())
	if err != nil {
		return err
	}
	for _, rec := range recs {
		store.Merge(rec)
	}
	return nil
}

func buildLocks(ctx context.Context, cfg *config.Config) (synclock.Manager, error) {
	switch cfg.Lock.Kind {
	case "redis":
		client := rdb.NewClient(&rdb.Options{
			Addr: cfg.Lock.Redis.Addr,
			DB:   cfg.Lock.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		return synclock.NewRedis(client, cfg.Lock.Redis.Prefix, cfg.LockTTL()), nil
	default:
		return synclock.NewMemory(cfg.LockTTL()), nil
	}
}

func mustLifetime(cfg *config.Config) time.Duration {
	if d, err := time.ParseDuration(cfg.Storage.Postgres.ConnMaxLifetime); err == nil {
		return d
	}
	return 30 * time.Minute
}
