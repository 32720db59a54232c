package discord

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/recapbot/recapbot/internal/database"
	"github.com/recapbot/recapbot/internal/summarizer"
)

const recapTimeout = 2 * time.Minute

// registerCommands registers the bot's slash commands globally. Must be
// called after the session is open so the application ID is known.
func (b *Bot) registerCommands() error {
	cmd := &discordgo.ApplicationCommand{
		Name:        "recap",
		Description: "Summarize recent conversation",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "channel",
				Description: "Channel to recap: 'current', 'all', or a channel name",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "days",
				Description: "Days to look back (0 = today only)",
			},
		},
	}

	if _, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, "", cmd); err != nil {
		return fmt.Errorf("failed to register recap command: %w", err)
	}
	return nil
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.ApplicationCommandData().Name != "recap" {
		return
	}

	userID := interactionUserID(i)
	if !slices.Contains(b.cfg.Discord.AuthorizedUserIDs, userID) {
		b.log.Warn("Unauthorized recap request", "user_id", userID)
		b.respondEphemeral(s, i, "You are not authorized to use this command.")
		return
	}

	// Summaries take longer than the 3s interaction deadline; defer and
	// deliver via followups.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		b.log.Error("Failed to defer recap response", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recapTimeout)
	defer cancel()

	if err := b.handleRecap(ctx, s, i); err != nil {
		b.log.Error("Recap command failed", "user_id", userID, "error", err)
		b.followup(s, i, "Something went wrong while building the recap.")
	}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// handleRecap builds an on-demand summary for one channel, a named
// channel, or every active channel of the requesting server.
func (b *Bot) handleRecap(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	channelArg := "current"
	days := 0
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "channel":
			channelArg = strings.TrimSpace(opt.StringValue())
		case "days":
			days = int(opt.IntValue())
		}
	}
	if days < 0 {
		days = 0
	}

	now := time.Now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)
	period := "today"
	if days > 0 {
		period = fmt.Sprintf("the last %d days", days+1)
	}

	serverID := i.GuildID

	if strings.EqualFold(channelArg, "all") {
		return b.recapAllChannels(ctx, s, i, since, period, serverID)
	}

	var filter database.ChannelFilter
	display := channelArg
	if strings.EqualFold(channelArg, "current") {
		filter.ChannelID = i.ChannelID
		display = i.ChannelID
		if ch, err := s.State.Channel(i.ChannelID); err == nil {
			display = ch.Name
		}
	} else {
		filter.ChannelName = strings.TrimPrefix(channelArg, "#")
		display = filter.ChannelName
	}

	lines, err := b.store.GetMessagesSince(ctx, since, filter, serverID)
	if err != nil {
		return fmt.Errorf("failed to load messages for recap: %w", err)
	}
	if len(lines) == 0 {
		b.followup(s, i, fmt.Sprintf("No messages recorded in #%s for %s.", display, period))
		return nil
	}

	summary, err := b.summarizer.Summarize(ctx, lines, display)
	if err != nil {
		b.log.Error("Summarizer failed for recap", "channel", display, "error", err)
		summary = summarizer.FallbackMessage
	}

	header := fmt.Sprintf("**Recap of %s for %s** (%d messages)\n\n", b.channelLabel(ctx, filter, display, serverID), period, len(lines))
	b.followup(s, i, header+summary)
	return nil
}

func (b *Bot) recapAllChannels(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, since time.Time, period, serverID string) error {
	active, err := b.store.GetActiveChannelsSince(ctx, since, serverID)
	if err != nil {
		return fmt.Errorf("failed to list active channels: %w", err)
	}
	if len(active) == 0 {
		b.followup(s, i, fmt.Sprintf("No messages recorded for %s.", period))
		return nil
	}

	var blocks []string
	for _, ch := range active {
		filter := database.ChannelFilter{ChannelID: ch.ChannelID, ChannelName: ch.ChannelName}
		lines, err := b.store.GetMessagesSince(ctx, since, filter, serverID)
		if err != nil {
			return fmt.Errorf("failed to load messages for #%s: %w", ch.ChannelName, err)
		}
		if len(lines) == 0 {
			continue
		}

		summary, err := b.summarizer.Summarize(ctx, lines, ch.ChannelName)
		if err != nil {
			b.log.Error("Summarizer failed for recap", "channel", ch.ChannelName, "error", err)
			summary = summarizer.FallbackMessage
		}

		label := b.channelLabel(ctx, filter, ch.ChannelName, serverID)
		blocks = append(blocks, fmt.Sprintf("**%s** (%d messages):\n%s", label, len(lines), summary))
	}

	if len(blocks) == 0 {
		b.followup(s, i, fmt.Sprintf("No messages recorded for %s.", period))
		return nil
	}

	header := fmt.Sprintf("**Recap of all channels for %s**\n\n", period)
	b.followup(s, i, header+strings.Join(blocks, "\n\n---\n\n"))
	return nil
}

// channelLabel renders "#name" with the channel's category appended when
// the watermark cache knows it.
func (b *Bot) channelLabel(ctx context.Context, filter database.ChannelFilter, display, serverID string) string {
	label := "#" + display
	_, categoryName, err := b.store.GetChannelCategory(ctx, filter.ChannelID, filter.ChannelName, serverID)
	if err != nil {
		b.log.Warn("Failed to look up channel category", "channel", display, "error", err)
		return label
	}
	if categoryName != "" {
		label += " (" + categoryName + ")"
	}
	return label
}

// followup delivers content as chunked followup messages to a deferred
// interaction.
func (b *Bot) followup(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	for _, chunk := range SplitMessage(content, maxMessageLength) {
		if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: chunk}); err != nil {
			b.log.Error("Failed to send recap followup", "error", err)
			return
		}
	}
}

func (b *Bot) respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.log.Error("Failed to send ephemeral response", "error", err)
	}
}
