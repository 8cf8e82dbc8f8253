package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"reimbot/internal/config"
	"reimbot/internal/mailbox"
	"reimbot/internal/model"
	"reimbot/internal/msg/outbox"
	"reimbot/internal/table"
	"reimbot/internal/watcher"
	"reimbot/pkg/kafka"
)

type App struct {
	Cfg      *config.Config
	Log      *zap.Logger
	Store    *table.Store
	Producer kafka.Producer
	Watcher  *watcher.Watcher
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	store, err := table.New(cfg.Table.Path, model.ReimbursementSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to open reimbursement table: %w", err)
	}

	producer, err := kafka.NewProducer(
		cfg.Kafka.Brokers,
		kafka.WithBalancer(kafka.RoundRobin),
		kafka.WithRequiredAcks(kafka.RequireAll),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init kafka producer: %w", err)
	}

	publisher := outbox.NewPublisher(log, outbox.Config{Topic: cfg.Kafka.Producer.Topic}, producer)

	box := mailbox.New(log, mailbox.Config{
		Addr:     cfg.Mailbox.Addr,
		Username: cfg.Mailbox.Username,
		Password: cfg.Mailbox.Password,
		Folder:   cfg.Mailbox.Folder,
	})

	processor := watcher.NewProcessor(log, store, publisher)

	w := watcher.New(log, watcher.Config{
		IdleWait:       cfg.Mailbox.IdleWait,
		RenewAfter:     cfg.Mailbox.RenewAfter,
		ReconnectDelay: cfg.Mailbox.ReconnectDelay,
		RestartDelay:   cfg.Mailbox.RestartDelay,
	}, box, processor)

	return &App{
		Cfg:      cfg,
		Log:      log,
		Store:    store,
		Producer: producer,
		Watcher:  w,
	}, nil
}

func MustNew(cfg *config.Config, log *zap.Logger) *App {
	app, err := New(cfg, log)
	if err != nil {
		panic(err)
	}

	return app
}

func (a *App) Run(ctx context.Context) error {
	if err := a.Watcher.Run(ctx); err != nil {
		return fmt.Errorf("failed to run watcher: %w", err)
	}

	return nil
}

func (a *App) Shutdown() error {
	var errs []error

	if err := a.Producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}

	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close table: %w", err))
	}

	return errors.Join(errs...)
}
