// Package bot implements lifecycle management and component orchestration:
// the Discord listener, the startup backfill pass, and the task scheduler.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/recapbot/recapbot/internal/backfill"
	"github.com/recapbot/recapbot/internal/config"
	"github.com/recapbot/recapbot/internal/database"
	"github.com/recapbot/recapbot/internal/discord"
)

// Bot represents the main application and manages its components' lifecycle.
type Bot struct {
	logger    *slog.Logger
	cfg       *config.Config
	store     database.Store
	discord   *discord.Bot
	backfill  *backfill.Coordinator
	scheduler *Scheduler
}

// NewBot creates a new instance of the bot with all required dependencies.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	store database.Store,
	discordBot *discord.Bot,
	coordinator *backfill.Coordinator,
	scheduler *Scheduler,
) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		cfg:       cfg,
		store:     store,
		discord:   discordBot,
		backfill:  coordinator,
		scheduler: scheduler,
	}
}

// Run starts all components and blocks until the context is cancelled or
// a component fails. The backfill pass waits for the Discord gateway to
// report ready so channel state is populated before history is fetched.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting Discord listener...")
		if err := b.discord.Start(gCtx); err != nil {
			b.logger.Error("Discord listener stopped with error", "error", err)
			return fmt.Errorf("discord listener: %w", err)
		}
		b.logger.Info("Discord listener stopped.")
		return nil
	})

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return nil
		case <-b.discord.Ready():
		}

		if err := b.backfill.Run(gCtx); err != nil {
			// Backfill trouble degrades coverage but must not take the
			// live listener down with it.
			b.logger.Error("Startup backfill pass failed", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		b.logger.Info("Starting scheduler...")
		if err := b.scheduler.Start(); err != nil {
			b.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}
