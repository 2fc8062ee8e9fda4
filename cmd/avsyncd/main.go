// Command avsyncd runs the synchronization daemon: it accepts uploads over
// the HTTP API and drives each session through staging, preparation, the
// iterative correction loop, and finalization.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"avsync/internal/config"
	"avsync/internal/daemon"
	"avsync/internal/events"
	"avsync/internal/finalizer"
	"avsync/internal/logging"
	"avsync/internal/notifications"
	"avsync/internal/preparation"
	"avsync/internal/session"
	"avsync/internal/staging"
	"avsync/internal/syncing"
	"avsync/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "configuration file path")
	flag.Parse()

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	store, err := session.Open(cfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	bus := events.NewBus(cfg.Events.SubscriberBuffer)
	notifier := notifications.NewService(cfg)

	manager := workflow.NewManagerWithNotifier(cfg, store, logger, bus, notifier)
	manager.ConfigureStages(workflow.StageSet{
		Stager:       staging.NewStager(cfg, store, logger),
		Preparer:     preparation.NewPreparer(cfg, store, logger),
		Synchronizer: syncing.NewSynchronizer(cfg, store, logger, bus),
		Finalizer:    finalizer.NewFinalizer(cfg, logger),
	})

	d, err := daemon.New(cfg, store, logger, manager, bus, notifier)
	if err != nil {
		return fmt.Errorf("initialize daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}
