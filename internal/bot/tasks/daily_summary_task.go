package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/recapbot/recapbot/internal/database"
	"github.com/recapbot/recapbot/internal/summarizer"
)

const summaryTimeout = 10 * time.Minute

// newDailySummaryTask creates the scheduled task that posts one recap per
// server covering the previous day's conversation. Servers are isolated:
// a failure delivering one server's recap never blocks the others, and a
// summarizer fault for one channel degrades to a fallback line instead of
// aborting the recap.
func newDailySummaryTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "daily_summary")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting scheduled daily summary task...")
		startTime := time.Now()

		timeoutCtx, cancel := context.WithTimeout(ctx, summaryTimeout)
		defer cancel()

		start, end := summaryWindow(deps.now(), deps.Config.Summary.Hour)
		log.InfoContext(ctx, "Daily summary window", "start", start, "end", end)

		active, err := deps.Store.GetActiveChannelsInRange(timeoutCtx, start, end, "")
		if err != nil {
			log.ErrorContext(ctx, "Failed to list active channels", "error", err)
			return fmt.Errorf("failed to list active channels: %w", err)
		}

		if len(active) == 0 {
			notifyNoActivity(timeoutCtx, deps, log, start)
			log.InfoContext(ctx, "Daily summary completed - no activity", "duration", time.Since(startTime))
			return nil
		}

		byServer := make(map[string][]database.ActiveChannel)
		for _, ch := range active {
			byServer[ch.ServerID] = append(byServer[ch.ServerID], ch)
		}
		serverIDs := make([]string, 0, len(byServer))
		for id := range byServer {
			serverIDs = append(serverIDs, id)
		}
		sort.Strings(serverIDs)

		var errs []error
		for _, serverID := range serverIDs {
			if timeoutCtx.Err() != nil {
				errs = append(errs, timeoutCtx.Err())
				break
			}
			if err := summarizeServer(timeoutCtx, deps, log, serverID, byServer[serverID], start, end); err != nil {
				log.ErrorContext(ctx, "Daily summary failed for server", "server_id", serverID, "error", err)
				errs = append(errs, fmt.Errorf("server %s: %w", serverID, err))
			}
		}

		duration := time.Since(startTime)
		if len(errs) > 0 {
			log.ErrorContext(ctx, "Daily summary finished with failures",
				"servers", len(serverIDs), "failed", len(errs), "duration", duration)
			return fmt.Errorf("daily summary failed for %d of %d servers: %w",
				len(errs), len(serverIDs), errors.Join(errs...))
		}

		log.InfoContext(ctx, "Daily summary completed successfully",
			"servers", len(serverIDs), "duration", duration)
		return nil
	}
}

// summarizeServer builds and delivers one server's recap. A server without
// the configured recap channel is skipped with a warning rather than
// treated as a failure: the bot may simply not be set up there yet.
func summarizeServer(ctx context.Context, deps TaskDeps, log *slog.Logger, serverID string, channels []database.ActiveChannel, start, end time.Time) error {
	targetID, ok := deps.Messenger.FindChannel(serverID, deps.Config.Summary.Channel)
	if !ok {
		log.WarnContext(ctx, "Recap channel not found on server, skipping",
			"server_id", serverID, "channel", deps.Config.Summary.Channel)
		return nil
	}

	var blocks []string
	var totalMessages int
	for _, ch := range channels {
		filter := database.ChannelFilter{ChannelID: ch.ChannelID, ChannelName: ch.ChannelName}

		lines, err := deps.Store.GetMessagesInRange(ctx, start, end, filter, serverID)
		if err != nil {
			return fmt.Errorf("failed to load messages for #%s: %w", ch.ChannelName, err)
		}
		if len(lines) == 0 {
			continue
		}
		totalMessages += len(lines)

		summary, err := deps.Summarizer.Summarize(ctx, lines, ch.ChannelName)
		if err != nil {
			log.ErrorContext(ctx, "Summarizer failed, using fallback",
				"server_id", serverID, "channel", ch.ChannelName, "error", err)
			summary = summarizer.FallbackMessage
		}

		label := "#" + ch.ChannelName
		if _, categoryName, err := deps.Store.GetChannelCategory(ctx, ch.ChannelID, ch.ChannelName, serverID); err == nil && categoryName != "" {
			label += " (" + categoryName + ")"
		}

		blocks = append(blocks, fmt.Sprintf("**%s** (%d messages):\n%s", label, len(lines), summary))
	}

	if len(blocks) == 0 {
		notice := fmt.Sprintf("%s Nothing was said on %s.", summarizer.EmptyMessage, start.Format("Monday, January 2"))
		if err := deps.Messenger.Send(ctx, targetID, notice); err != nil {
			return fmt.Errorf("failed to send empty recap notice: %w", err)
		}
		return nil
	}

	header := fmt.Sprintf("**Daily recap for %s** (through %02d:00 UTC): %d messages in %d channels\n\n",
		start.Format("Monday, January 2"), deps.Config.Summary.Hour, totalMessages, len(blocks))
	if err := deps.Messenger.Send(ctx, targetID, header+strings.Join(blocks, "\n\n---\n\n")); err != nil {
		return fmt.Errorf("failed to deliver recap: %w", err)
	}
	return nil
}

// notifyNoActivity posts a short notice when no server had any activity
// in the window. Delivery is best effort.
func notifyNoActivity(ctx context.Context, deps TaskDeps, log *slog.Logger, start time.Time) {
	targetID, ok := deps.Messenger.FindAnyChannel(deps.Config.Summary.Channel)
	if !ok {
		log.WarnContext(ctx, "No recap channel found anywhere, dropping no-activity notice",
			"channel", deps.Config.Summary.Channel)
		return
	}

	notice := fmt.Sprintf("No activity to recap for %s.", start.Format("Monday, January 2"))
	if err := deps.Messenger.Send(ctx, targetID, notice); err != nil {
		log.WarnContext(ctx, "Failed to send no-activity notice", "error", err)
	}
}
