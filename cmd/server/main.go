package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"leave-bot/internal/config"
	"leave-bot/internal/handler"
	"leave-bot/internal/i18n"
	"leave-bot/internal/leave"
	"leave-bot/internal/logger"
	"leave-bot/internal/mattermost"
	"leave-bot/internal/reminder"
	"leave-bot/internal/service"
	"leave-bot/internal/store"
	"leave-bot/internal/store/sqlite"
)

// backend is the selected persistence plus its lifecycle hooks.
type backend struct {
	store leave.Store
	ping  func(ctx context.Context) error
	close func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogFile, cfg.Env == "production")
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	log.Info("starting leave bot", cfg.Fields()...)

	if err := i18n.Init(cfg.DefaultLanguage); err != nil {
		log.Fatal("failed to load translations", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer func() {
		if err := db.close(); err != nil {
			log.Warn("failed to close store", zap.Error(err))
		}
	}()

	mm := mattermost.NewClient(cfg.MattermostURL, cfg.BotToken)

	settings := leave.NewSettings(db.store, cfg.DefaultLanguage)
	roles := leave.NewRoles(db.store, service.NewGroupDirectory(mm), log)
	engine := leave.NewEngine(db.store, settings, roles, leave.Options{
		WeeklyCap:  cfg.WeeklyCap,
		RoleLimits: cfg.RoleLimits,
		Location:   cfg.Location,
	}, log)

	svc := service.NewLeaveService(engine, mm, service.Options{
		BotURL:                cfg.BotURL,
		RequestChannelID:      cfg.RequestChannelID,
		ReviewChannelID:       cfg.ReviewChannelID,
		LogChannelID:          cfg.LogChannelID,
		NotificationChannelID: cfg.NotificationChannelID,
		NotificationMention:   cfg.NotificationMention,
		AdminUserIDs:          cfg.AdminUserIDs,
		RejectedGroupID:       cfg.RejectedGroupID,
		Location:              cfg.Location,
	}, log)

	if err := svc.CheckChannels(ctx); err != nil {
		log.Warn("configured channels are not reachable", zap.Error(err))
	}

	mux := http.NewServeMux()
	handler.NewLeaveHandler(svc, mm, cfg.BotURL, cfg.CommandToken, log).RegisterRoutes(mux)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.ping(pingCtx); err != nil {
			log.Warn("readiness check failed", zap.Error(err))
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.LoggingMiddleware(mux, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	scheduler := reminder.New(svc, reminder.Options{
		Hours:    cfg.ReminderHours,
		Interval: cfg.ReminderInterval,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("bot service listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("bot service stopped with error", zap.Error(err))
		return
	}
	log.Info("bot service stopped")
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		s, err := sqlite.New(cfg.SQLitePath, sqlite.WithRequestPrefix(cfg.RequestIDPrefix))
		if err != nil {
			return nil, err
		}
		return &backend{store: s, ping: s.Ping, close: s.Close}, nil
	default:
		db, err := store.NewMongoDB(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		s, err := store.NewLeaveStore(ctx, db, cfg.RequestIDPrefix, log)
		if err != nil {
			_ = db.Close(context.Background())
			return nil, err
		}
		return &backend{
			store: s,
			ping:  db.Ping,
			close: func() error { return db.Close(context.Background()) },
		}, nil
	}
}
