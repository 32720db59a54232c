// Package backfill implements watermark-driven history catch-up. On
// startup (and reconnect) it walks every known channel, fetches the
// messages the bot missed while offline, and feeds them through the same
// ingest path as live messages.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/recapbot/recapbot/internal/database"
)

// Channel describes one channel known to the transport.
type Channel struct {
	ID           string
	Name         string
	ServerID     string
	ServerName   string
	CategoryID   string
	CategoryName string
}

// Message is one historical message streamed from the transport.
type Message struct {
	Author    string
	Content   string
	Timestamp time.Time
	Automated bool
}

// Source is the external transport's history capability. The coordinator
// never enumerates channels from the store; the transport is authoritative
// for which channels exist.
type Source interface {
	// ListChannels returns every channel the transport can fetch history for.
	ListChannels(ctx context.Context) ([]Channel, error)

	// History returns the messages of a channel strictly after the given
	// instant, in chronological order.
	History(ctx context.Context, channelID string, after time.Time) ([]Message, error)
}

// Coordinator drives one backfill pass over all known channels. Each
// channel is isolated: a failure there is logged and skipped, never
// aborting the rest of the pass. Watermark advancement is all-or-nothing
// per channel, so a failed pass resumes from the old watermark and
// re-ingests the same window (duplicates are an accepted at-least-once
// trade-off).
type Coordinator struct {
	log      *slog.Logger
	store    database.Store
	source   Source
	lookback time.Duration
	pace     time.Duration
	now      func() time.Time
}

// NewCoordinator creates a backfill coordinator. lookbackDays bounds the
// first fetch for channels without a watermark; pace is the fixed delay
// between channel fetches that keeps burst load on the transport bounded.
func NewCoordinator(log *slog.Logger, store database.Store, source Source, lookbackDays int, pace time.Duration) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		log:      log.With("component", "backfill"),
		store:    store,
		source:   source,
		lookback: time.Duration(lookbackDays) * 24 * time.Hour,
		pace:     pace,
		now:      time.Now,
	}
}

// Run performs one backfill pass over every channel the source knows.
// It returns an error only when the channel list itself cannot be
// obtained; per-channel failures are contained.
func (c *Coordinator) Run(ctx context.Context) error {
	channels, err := c.source.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list channels for backfill: %w", err)
	}

	c.log.InfoContext(ctx, "Starting backfill pass", "channel_count", len(channels))
	startTime := time.Now()

	var failed int
	for i, ch := range channels {
		if i > 0 && c.pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.pace):
			}
		}

		if err := c.backfillChannel(ctx, ch); err != nil {
			// One channel's fault must not abort the others.
			c.log.WarnContext(ctx, "Backfill failed for channel, watermark not advanced",
				"server", ch.ServerName, "channel", ch.Name, "channel_id", ch.ID, "error", err)
			failed++
		}
	}

	c.log.InfoContext(ctx, "Backfill pass finished",
		"channel_count", len(channels), "failed", failed, "duration", time.Since(startTime))
	return nil
}

// backfillChannel catches up one channel. The watermark is only advanced
// after every fetched message has been saved; a partial failure leaves it
// untouched so the next pass retries the same window.
func (c *Coordinator) backfillChannel(ctx context.Context, ch Channel) error {
	after, found, err := c.store.GetLastFetched(ctx, ch.ID, ch.ServerID, ch.Name)
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}
	if !found {
		after = c.now().UTC().Add(-c.lookback)
	}

	c.log.DebugContext(ctx, "Fetching channel history",
		"server", ch.ServerName, "channel", ch.Name, "after", after)

	messages, err := c.source.History(ctx, ch.ID, after)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}

	var ingested int
	for _, msg := range messages {
		if msg.Automated {
			continue
		}

		m := &database.Message{
			ServerID:    ch.ServerID,
			ServerName:  ch.ServerName,
			ChannelID:   ch.ID,
			ChannelName: ch.Name,
			Author:      msg.Author,
			Content:     msg.Content,
			Timestamp:   msg.Timestamp,
		}
		if err := c.store.SaveMessage(ctx, m); err != nil {
			return fmt.Errorf("failed to save message after ingesting %d: %w", ingested, err)
		}
		ingested++
	}

	meta := &database.ChannelMeta{
		ServerID:     ch.ServerID,
		ChannelID:    ch.ID,
		ServerName:   ch.ServerName,
		ChannelName:  ch.Name,
		CategoryID:   ch.CategoryID,
		CategoryName: ch.CategoryName,
		LastFetched:  c.now().UTC(),
	}
	if err := c.store.UpdateLastFetched(ctx, meta); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	c.log.InfoContext(ctx, "Channel backfilled",
		"server", ch.ServerName, "channel", ch.Name, "ingested", ingested, "fetched", len(messages))
	return nil
}
