package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"safetunes/internal/approval"
	"safetunes/internal/config"
	"safetunes/internal/fuzzy"
	"safetunes/internal/lyrics"
	"safetunes/internal/metrics"
	"safetunes/internal/models"
	"safetunes/internal/moderation"
	"safetunes/internal/notify"
	"safetunes/internal/repository"
	"safetunes/internal/reviewer"
)

// app holds the wired components of a running service.
type app struct {
	db         *sqlx.DB
	store      *repository.Store
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	engine     *approval.Engine
	moderation *moderation.Service
	reviewer   *reviewer.MultiProviderClient
	dispatcher *notify.Dispatcher
	telegram   *notify.TelegramProvider
	digest     *notify.Digest
}

func openDB(cfg *config.Config, logger *zap.Logger) (*sqlx.DB, error) {
	if cfg.Database.Type == repository.DriverSQLite {
		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}

	db, err := repository.Open(cfg.Database.Type, cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repository.MigrateDB(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := openDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		db:       db,
		store:    repository.NewStore(db, logger),
		registry: prometheus.NewRegistry(),
	}

	a.metrics, err = metrics.NewMetrics(a.registry)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notifications.Enabled {
		providers, err := a.notificationProviders(cfg, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
			QueueSize:    cfg.Notifications.QueueSize,
			Workers:      cfg.Notifications.Workers,
			Timeout:      cfg.HTTPTimeout,
			DedupeWindow: cfg.Notifications.DedupeWindow,
		}, providers, a.metrics, logger)
		a.digest = notify.NewDigest(a.store.Batches, a.dispatcher, cfg.Notifications.DigestInterval, logger)
		notifier = a.dispatcher
	}

	a.engine = approval.NewEngine(a.store, notifier, a.metrics, logger)
	if a.telegram != nil {
		a.telegram.SetResolver(a.engine)
	}

	if len(cfg.Providers) > 0 {
		a.reviewer, err = reviewer.NewMultiProviderClient(reviewer.MultiProviderConfig{
			Providers:   cfg.Providers,
			MaxFailures: cfg.MaxFailuresBeforeSwitch,
			Timeout:     cfg.HTTPTimeout,
		}, a.metrics, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize AI reviewer: %w", err)
		}

		finder, err := lyricFinder(cfg, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.moderation = moderation.NewService(a.store.Moderation, a.store.Queries,
			reviewer.New(a.reviewer, logger), finder, a.metrics, logger)
	} else {
		logger.Warn("No AI reviewer providers configured, moderation routes are disabled")
	}

	return a, nil
}

func (a *app) notificationProviders(cfg *config.Config, logger *zap.Logger) ([]notify.Provider, error) {
	var providers []notify.Provider

	if tg := cfg.Notifications.Telegram; tg.Token != "" && tg.ChatID != 0 {
		provider, err := notify.NewTelegramProvider(notify.TelegramConfig{
			Token:   tg.Token,
			ChatID:  tg.ChatID,
			OwnerID: tg.OwnerID,
			Timeout: cfg.HTTPTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
		}
		a.telegram = provider
		providers = append(providers, provider)
	}

	if urls := cfg.Notifications.PushURLs; len(urls) > 0 {
		provider, err := notify.NewShoutrrrProvider("push", urls,
			[]notify.Channel{notify.ChannelPush, notify.ChannelMobile, notify.ChannelKid}, cfg.HTTPTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize push notifications: %w", err)
		}
		providers = append(providers, provider)
	}

	if urls := cfg.Notifications.EmailURLs; len(urls) > 0 {
		provider, err := notify.NewShoutrrrProvider("email", urls,
			[]notify.Channel{notify.ChannelDigest}, cfg.HTTPTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize email notifications: %w", err)
		}
		providers = append(providers, provider)
	}

	if len(providers) == 0 {
		logger.Warn("Notifications enabled but no providers configured")
	}
	return providers, nil
}

func lyricFinder(cfg *config.Config, logger *zap.Logger) (moderation.LyricsFinder, error) {
	if cfg.Lyrics.APIKey == "" {
		logger.Warn("Lyrics API key not configured, lyrics must be entered manually")
		return noLyrics{}, nil
	}

	client, err := lyrics.NewClient(lyrics.Config{
		BaseURL:  cfg.Lyrics.BaseURL,
		APIKey:   cfg.Lyrics.APIKey,
		PageSize: cfg.Lyrics.PageSize,
		Timeout:  cfg.HTTPTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize lyrics client: %w", err)
	}

	matcher := fuzzy.NewMatcher(cfg.Matcher.MinScore, cfg.Matcher.MaxCombinations)
	return lyrics.NewFinder(client, matcher, logger), nil
}

// noLyrics stands in for the lyric provider when it is not configured.
type noLyrics struct{}

func (noLyrics) Find(context.Context, string, string) (*lyrics.Match, error) {
	return nil, models.NewError(models.ErrLyricsNotFound, "lyrics lookup is not configured; you may enter them manually")
}

func (a *app) close() {
	var errs []error
	if a.reviewer != nil {
		errs = append(errs, a.reviewer.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		fmt.Fprintln(os.Stderr, "close:", err)
	}
}
