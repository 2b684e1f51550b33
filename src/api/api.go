package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/config"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/data"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/webserver"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/classifier"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/discord"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/logging"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/patreon"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/shared/tokenbox"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, path, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if path != "" {
		logger.Info("Loaded configuration", zap.String("path", path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("API stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	db := data.MustMySQL(cfg.MySQL.DSN, logger)
	if err := data.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	rdb := data.MustRedis(cfg.Redis.URL, logger)
	defer func() { _ = rdb.Close() }()

	// The service does not accept traffic until the model is loaded.
	model, err := classifier.New(ctx, cfg.Classifier.Endpoint, classifier.Options{
		Timeout:        cfg.Classifier.Timeout,
		StartupTimeout: cfg.Classifier.StartupTimeout,
		Labels:         cfg.Classifier.Labels,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}

	guilds := data.NewGuilds(db, cfg.Plan.DefaultMaxRequests)
	records := data.NewRecords(db, time.Now)
	pipeline := moderation.NewPipeline(moderation.Deps{
		Ledger:     moderation.NewLedger(guilds, records, time.Now),
		Classifier: classifier.NewCached(model, rdb, model.Model(), cfg.Classifier.CacheTTL, logger),
		Store:      records,
		Publisher:  data.NewStreamPublisher(rdb, data.StreamModerations),
		Logger:     logger,
	})

	box, err := tokenbox.New(cfg.PatreonTokenKey())
	if err != nil {
		return fmt.Errorf("token box: %w", err)
	}
	patreonClient := patreon.New(patreon.Config{
		ClientID:     cfg.Patreon.ClientID,
		ClientSecret: cfg.Patreon.ClientSecret,
		RedirectURI:  cfg.Patreon.RedirectURI,
	})
	patreonSvc := patreon.NewService(patreonClient, data.NewPatreonAccounts(db, box), logger)
	refresher := patreon.NewRefresher(patreonSvc, cfg.Patreon.RefreshInterval, cfg.Patreon.RefreshWorkers, logger)

	router := webserver.New(webserver.Deps{
		Config:    cfg,
		Redis:     rdb,
		Moderator: pipeline,
		Guilds:    guilds,
		Discord: discord.New(discord.Config{
			ClientID:     cfg.Discord.ClientID,
			ClientSecret: cfg.Discord.ClientSecret,
			APIEndpoint:  cfg.Discord.APIEndpoint,
		}),
		PatreonOAuth: patreonClient,
		Patreon:      patreonSvc,
		Logger:       logger,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	var reloader *webserver.TLSReloader
	if cfg.TLS.Enabled() {
		reloader, err = webserver.NewTLSReloader(cfg.TLS.CertFile, cfg.TLS.KeyFile, logger)
		if err != nil {
			return fmt.Errorf("tls: %w", err)
		}
		srv.TLSConfig = reloader.Config()
		g.Go(func() error { return reloader.Watch(gctx, cfg.TLS.ReloadInterval) })
	}

	g.Go(func() error {
		logger.Info("A-I-dle Mod API listening", zap.String("port", cfg.Port), zap.Bool("tls", reloader != nil))
		var err error
		if reloader != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error { return refresher.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}
