package database

import (
	"fmt"
	"time"
)

// TimeLayout is the fixed-width layout used for every timestamp column.
// Fixed width keeps lexicographic comparison in SQL identical to time
// order, so half-open range queries behave exactly as expected.
const TimeLayout = "2006-01-02 15:04:05.000000000"

// FormatTime renders a timestamp for storage. All stored times are UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp previously rendered with FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// Message represents one chat message observed on a server channel.
// Rows are append-only: once saved, a message is never mutated or deleted.
// ServerID and ChannelID may be empty for DM-like or pre-migration sources;
// ChannelName is the display fallback and is not unique across servers.
type Message struct {
	ID          uint
	ServerID    string
	ServerName  string
	ChannelID   string
	ChannelName string
	Author      string
	Content     string
	Timestamp   time.Time
	CreatedAt   time.Time
}

// ChatLine is the (author, content) projection handed to the summarizer.
type ChatLine struct {
	Author  string `db:"author"`
	Content string `db:"content"`
}

// ChannelFilter narrows a message query to one channel. When both fields
// are set the ID wins; name matching is a precision downgrade kept for
// rows that predate channel IDs.
type ChannelFilter struct {
	ChannelID   string
	ChannelName string
}

// ActiveChannel identifies one channel that had at least one message in
// a queried window.
type ActiveChannel struct {
	ServerID    string `db:"server_id"`
	ServerName  string `db:"server_name"`
	ChannelID   string `db:"channel_id"`
	ChannelName string `db:"channel"`
}

// ChannelMeta is the per-channel watermark row plus cached display
// metadata. One row per (ServerID, ChannelID); legacy rows keyed by name
// only carry an empty ChannelID. LastFetched marks the instant up to
// which history has been completely backfilled.
type ChannelMeta struct {
	ServerID     string
	ChannelID    string
	ServerName   string
	ChannelName  string
	CategoryID   string
	CategoryName string
	LastFetched  time.Time
}
