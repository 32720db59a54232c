// Package main contains the entrypoint for the recap bot application.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/recapbot/recapbot/internal/backfill"
	"github.com/recapbot/recapbot/internal/bot"
	"github.com/recapbot/recapbot/internal/bot/tasks"
	"github.com/recapbot/recapbot/internal/config"
	"github.com/recapbot/recapbot/internal/database"
	"github.com/recapbot/recapbot/internal/discord"
	"github.com/recapbot/recapbot/internal/logger"
	"github.com/recapbot/recapbot/internal/summarizer"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger,
// db, summarizer, discord, backfill, scheduler), handles graceful
// shutdown, and returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	sum, err := summarizer.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize summarizer client", "error", err)
		return 1
	}

	discordBot, err := discord.NewBot(cfg, log, store, sum)
	if err != nil {
		log.Error("Failed to create Discord bot", "error", err)
		return 1
	}

	coordinator := backfill.NewCoordinator(log, store, discordBot,
		cfg.Backfill.LookbackDays, cfg.Backfill.Pace)

	// The daily summary schedule defaults to the configured summary hour
	// unless the scheduler section pins an explicit cron expression.
	if task, ok := cfg.Scheduler.Tasks["daily_summary"]; ok && task.Schedule == "" {
		task.Schedule = fmt.Sprintf("0 %d * * *", cfg.Summary.Hour)
		cfg.Scheduler.Tasks["daily_summary"] = task
	}

	tDeps := tasks.TaskDeps{
		Logger:     log,
		Store:      store,
		Summarizer: sum,
		Messenger:  discordBot,
		Config:     cfg,
	}

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, cfg, store, discordBot, coordinator, sched)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
