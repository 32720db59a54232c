package discord

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// maxMessageLength stays under Discord's 2000-character limit to leave
	// headroom for markdown the API counts differently.
	maxMessageLength = 1900

	truncationMarker = "... [truncated]"
)

// SplitMessage breaks content into chunks of at most maxLen bytes,
// splitting only on line boundaries. A single line longer than maxLen is
// truncated with a marker rather than split mid-line. Empty content
// yields no chunks.
func SplitMessage(content string, maxLen int) []string {
	if content == "" {
		return nil
	}

	var chunks []string
	var b strings.Builder

	flush := func() {
		if b.Len() > 0 {
			chunks = append(chunks, b.String())
			b.Reset()
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if len(line) > maxLen {
			cut := maxLen - len(truncationMarker)
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			line = line[:cut] + truncationMarker
		}

		need := len(line)
		if b.Len() > 0 {
			need++ // the joining newline
		}
		if b.Len()+need > maxLen {
			flush()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	flush()

	return chunks
}

// Send delivers content to a channel, splitting it into line-aligned
// chunks that each fit a single Discord message.
func (b *Bot) Send(ctx context.Context, channelID, content string) error {
	for _, chunk := range SplitMessage(content, maxMessageLength) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := b.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("failed to send message to channel %s: %w", channelID, err)
		}
	}
	return nil
}
