// Package discord adapts the Discord gateway to the bot's core: it feeds
// live messages into the store, exposes history fetch for the backfill
// coordinator, and delivers recap output with chunked sends.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/recapbot/recapbot/internal/backfill"
	"github.com/recapbot/recapbot/internal/config"
	"github.com/recapbot/recapbot/internal/database"
	"github.com/recapbot/recapbot/internal/summarizer"
)

const (
	// historyPageSize is the Discord API maximum per history request.
	historyPageSize = 100

	saveTimeout = 5 * time.Second
)

// Bot wraps a Discord gateway session. It owns live message intake and
// implements backfill.Source and the delivery sink used by the scheduler.
type Bot struct {
	session    *discordgo.Session
	log        *slog.Logger
	store      database.Store
	summarizer summarizer.Client
	cfg        *config.Config

	ready     chan struct{}
	readyOnce sync.Once
}

// NewBot creates a Discord bot instance. The session is configured but
// not opened; Start establishes the gateway connection.
func NewBot(cfg *config.Config, log *slog.Logger, store database.Store, sum summarizer.Client) (*Bot, error) {
	if cfg.Discord.Token == "" {
		return nil, fmt.Errorf("discord bot token cannot be empty")
	}
	if log == nil {
		log = slog.Default()
	}

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	b := &Bot{
		session:    session,
		log:        log.With("component", "discord"),
		store:      store,
		summarizer: sum,
		cfg:        cfg,
		ready:      make(chan struct{}),
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onInteractionCreate)

	return b, nil
}

// Start opens the gateway connection, registers the slash commands, and
// blocks until the context is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	if err := b.registerCommands(); err != nil {
		b.log.Error("Failed to register slash commands", "error", err)
	}

	b.log.Info("Discord session opened", "user", b.session.State.User.Username)

	<-ctx.Done()

	b.log.Info("Closing Discord session...")
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

// Ready is closed once the gateway reports the session ready, meaning
// guild and channel state is populated.
func (b *Bot) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("Discord gateway ready", "guild_count", len(r.Guilds))
	b.readyOnce.Do(func() { close(b.ready) })
}

// onMessageCreate ingests every live human message into the store.
// Automated senders are dropped before ingest.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	channelName := m.ChannelID
	var serverName string
	if ch, err := s.State.Channel(m.ChannelID); err == nil {
		channelName = ch.Name
	}
	if m.GuildID != "" {
		if g, err := s.State.Guild(m.GuildID); err == nil {
			serverName = g.Name
		}
	}

	msg := &database.Message{
		ServerID:    m.GuildID,
		ServerName:  serverName,
		ChannelID:   m.ChannelID,
		ChannelName: channelName,
		Author:      m.Author.Username,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := b.store.SaveMessage(ctx, msg); err != nil {
		// A storage fault here is surfaced loudly; silently losing
		// messages would break the store's contract.
		b.log.Error("Failed to save live message",
			"server", serverName, "channel", channelName, "error", err)
		return
	}

	b.log.Debug("Message ingested",
		"server", serverName, "channel", channelName, "author", m.Author.Username)
}

// ListChannels returns every text channel of every joined guild.
// Implements backfill.Source.
func (b *Bot) ListChannels(_ context.Context) ([]backfill.Channel, error) {
	var channels []backfill.Channel

	for _, guild := range b.session.State.Guilds {
		for _, ch := range guild.Channels {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}

			var categoryID, categoryName string
			if ch.ParentID != "" {
				if parent, err := b.session.State.Channel(ch.ParentID); err == nil {
					categoryID = parent.ID
					categoryName = parent.Name
				}
			}

			channels = append(channels, backfill.Channel{
				ID:           ch.ID,
				Name:         ch.Name,
				ServerID:     guild.ID,
				ServerName:   guild.Name,
				CategoryID:   categoryID,
				CategoryName: categoryName,
			})
		}
	}

	return channels, nil
}

// History fetches a channel's messages strictly after the given instant,
// in chronological order. Implements backfill.Source.
func (b *Bot) History(ctx context.Context, channelID string, after time.Time) ([]backfill.Message, error) {
	afterID := SnowflakeFromTime(after)

	var fetched []*discordgo.Message
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		batch, err := b.session.ChannelMessages(channelID, historyPageSize, "", afterID, "")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch channel history: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		fetched = append(fetched, batch...)

		// Batches arrive newest-first; the newest ID is the next page boundary.
		afterID = batch[0].ID
		if len(batch) < historyPageSize {
			break
		}
	}

	sort.Slice(fetched, func(i, j int) bool {
		if fetched[i].Timestamp.Equal(fetched[j].Timestamp) {
			return fetched[i].ID < fetched[j].ID
		}
		return fetched[i].Timestamp.Before(fetched[j].Timestamp)
	})

	messages := make([]backfill.Message, 0, len(fetched))
	for _, m := range fetched {
		if m.Author == nil {
			continue
		}
		messages = append(messages, backfill.Message{
			Author:    m.Author.Username,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Automated: m.Author.Bot,
		})
	}
	return messages, nil
}

// FindChannel locates a server's channel by display name.
func (b *Bot) FindChannel(serverID, name string) (string, bool) {
	guild, err := b.session.State.Guild(serverID)
	if err != nil {
		return "", false
	}
	for _, ch := range guild.Channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == name {
			return ch.ID, true
		}
	}
	return "", false
}

// FindAnyChannel locates a channel by display name on any joined server.
func (b *Bot) FindAnyChannel(name string) (string, bool) {
	for _, guild := range b.session.State.Guilds {
		for _, ch := range guild.Channels {
			if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == name {
				return ch.ID, true
			}
		}
	}
	return "", false
}
