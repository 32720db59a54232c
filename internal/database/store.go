package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for message and watermark persistence.
// It is the only component allowed to touch the messages and channel_meta
// tables. Methods accept context.Context for cancellation and timeouts.
//
// Every message query applies the same channel filter precedence: when a
// ChannelFilter carries an ID, the name is ignored. Range queries are
// half-open [start, end); "since" queries are inclusive below and
// unbounded above. Results are ordered by timestamp ascending with
// insertion order (row id) as the tie-break.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveMessage appends one immutable message row. Missing server or
	// channel IDs are valid; a zero timestamp defaults to now (UTC).
	SaveMessage(ctx context.Context, message *Message) error

	// GetMessagesSince returns (author, content) lines with timestamp >= since.
	GetMessagesSince(ctx context.Context, since time.Time, filter ChannelFilter, serverID string) ([]ChatLine, error)

	// GetMessagesInRange returns (author, content) lines with
	// start <= timestamp < end.
	GetMessagesInRange(ctx context.Context, start, end time.Time, filter ChannelFilter, serverID string) ([]ChatLine, error)

	// GetActiveChannelsSince returns the distinct channels with at least one
	// message since the given instant, ordered by channel name. An empty
	// serverID returns channels across all servers.
	GetActiveChannelsSince(ctx context.Context, since time.Time, serverID string) ([]ActiveChannel, error)

	// GetActiveChannelsInRange is GetActiveChannelsSince over [start, end).
	GetActiveChannelsInRange(ctx context.Context, start, end time.Time, serverID string) ([]ActiveChannel, error)

	// GetLastFetched returns the backfill watermark for a channel. The
	// id-keyed row wins; the name-keyed lookup is only consulted when no
	// id-keyed row exists, to tolerate pre-migration data. The boolean
	// reports whether a watermark was found.
	GetLastFetched(ctx context.Context, channelID, serverID, channelName string) (time.Time, bool, error)

	// UpdateLastFetched upserts the watermark row keyed by (serverID,
	// channelID), or by (serverID, channelName) for legacy rows without a
	// channel ID, overwriting the denormalized display fields. The store
	// does not enforce monotonicity; callers must only pass values at or
	// after the current watermark outside an explicit reset.
	UpdateLastFetched(ctx context.Context, meta *ChannelMeta) error

	// GetChannelCategory returns the last known category for a channel from
	// the watermark cache. Both values are empty when unknown; staleness is
	// accepted, the authoritative data lives upstream.
	GetChannelCategory(ctx context.Context, channelID, channelName, serverID string) (categoryID, categoryName string, err error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveMessage appends one message row inside a transaction.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.ChannelName == "" {
		return fmt.Errorf("message must have a channel name")
	}
	if message.Author == "" {
		return fmt.Errorf("message must have an author")
	}

	now := time.Now().UTC()
	if message.Timestamp.IsZero() {
		message.Timestamp = now
	}
	message.CreatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving message",
			"channel", message.ChannelName, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	query := `
        INSERT INTO messages (server_id, server_name, channel_id, channel, author, content, timestamp, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?);
    `

	result, err := tx.ExecContext(ctx, query,
		message.ServerID,
		message.ServerName,
		message.ChannelID,
		message.ChannelName,
		message.Author,
		message.Content,
		FormatTime(message.Timestamp),
		FormatTime(message.CreatedAt),
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message",
			"server_id", message.ServerID, "channel", message.ChannelName, "error", err)
		return fmt.Errorf("failed to save message (channel %s): %w", message.ChannelName, err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		//nolint:gosec // row ids are non-negative
		message.ID = uint(id)
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving message",
			"channel", message.ChannelName, "error", idErr)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"channel", message.ChannelName, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Message saved successfully",
		"server_id", message.ServerID, "channel", message.ChannelName, "message_id", message.ID)
	return nil
}

// channelPredicate builds the WHERE fragment for a channel filter plus an
// optional server filter. The channel ID always wins over the name so that
// callers passing ids and callers passing only names see consistent results.
func channelPredicate(filter ChannelFilter, serverID string) (string, []any) {
	var clause string
	var args []any

	switch {
	case filter.ChannelID != "":
		clause += " AND channel_id = ?"
		args = append(args, filter.ChannelID)
	case filter.ChannelName != "":
		clause += " AND channel = ?"
		args = append(args, filter.ChannelName)
	}

	if serverID != "" {
		clause += " AND server_id = ?"
		args = append(args, serverID)
	}

	return clause, args
}

// GetMessagesSince returns (author, content) lines with timestamp >= since.
func (s *sqlxStore) GetMessagesSince(ctx context.Context, since time.Time, filter ChannelFilter, serverID string) ([]ChatLine, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	clause, extra := channelPredicate(filter, serverID)
	query := `
        SELECT author, content FROM messages
        WHERE timestamp >= ?` + clause + `
        ORDER BY timestamp ASC, id ASC;
    `
	args := append([]any{FormatTime(since)}, extra...)

	var lines []ChatLine
	if err := s.db.SelectContext(ctx, &lines, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error getting messages since",
			"since", since, "server_id", serverID, "error", err)
		return nil, fmt.Errorf("failed to get messages since %s: %w", since, err)
	}

	s.logger.DebugContext(ctx, "Fetched messages since", "since", since, "count", len(lines))
	return lines, nil
}

// GetMessagesInRange returns (author, content) lines in [start, end).
func (s *sqlxStore) GetMessagesInRange(ctx context.Context, start, end time.Time, filter ChannelFilter, serverID string) ([]ChatLine, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	clause, extra := channelPredicate(filter, serverID)
	query := `
        SELECT author, content FROM messages
        WHERE timestamp >= ? AND timestamp < ?` + clause + `
        ORDER BY timestamp ASC, id ASC;
    `
	args := append([]any{FormatTime(start), FormatTime(end)}, extra...)

	var lines []ChatLine
	if err := s.db.SelectContext(ctx, &lines, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error getting messages in range",
			"start", start, "end", end, "server_id", serverID, "error", err)
		return nil, fmt.Errorf("failed to get messages in range [%s, %s): %w", start, end, err)
	}

	s.logger.DebugContext(ctx, "Fetched messages in range",
		"start", start, "end", end, "count", len(lines))
	return lines, nil
}

func (s *sqlxStore) activeChannels(ctx context.Context, where string, args []any, serverID string) ([]ActiveChannel, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if serverID != "" {
		where += " AND server_id = ?"
		args = append(args, serverID)
	}

	query := `
        SELECT DISTINCT server_id, server_name, channel_id, channel FROM messages
        WHERE ` + where + `
        ORDER BY channel ASC;
    `

	var channels []ActiveChannel
	if err := s.db.SelectContext(ctx, &channels, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error getting active channels", "server_id", serverID, "error", err)
		return nil, fmt.Errorf("failed to get active channels: %w", err)
	}

	s.logger.DebugContext(ctx, "Fetched active channels", "count", len(channels))
	return channels, nil
}

// GetActiveChannelsSince returns the distinct channels with activity since the given instant.
func (s *sqlxStore) GetActiveChannelsSince(ctx context.Context, since time.Time, serverID string) ([]ActiveChannel, error) {
	return s.activeChannels(ctx, "timestamp >= ?", []any{FormatTime(since)}, serverID)
}

// GetActiveChannelsInRange returns the distinct channels with activity in [start, end).
func (s *sqlxStore) GetActiveChannelsInRange(ctx context.Context, start, end time.Time, serverID string) ([]ActiveChannel, error) {
	return s.activeChannels(ctx, "timestamp >= ? AND timestamp < ?",
		[]any{FormatTime(start), FormatTime(end)}, serverID)
}

// GetLastFetched returns the backfill watermark for a channel, preferring
// the id-keyed row and falling back to a legacy name-keyed row.
func (s *sqlxStore) GetLastFetched(ctx context.Context, channelID, serverID, channelName string) (time.Time, bool, error) {
	if ctx.Err() != nil {
		return time.Time{}, false, ctx.Err()
	}

	var raw string
	err := sql.ErrNoRows
	if channelID != "" {
		err = s.db.GetContext(ctx, &raw,
			`SELECT last_fetched FROM channel_meta WHERE server_id = ? AND channel_id = ?`,
			serverID, channelID)
	}

	if errors.Is(err, sql.ErrNoRows) && channelName != "" {
		err = s.db.GetContext(ctx, &raw,
			`SELECT last_fetched FROM channel_meta WHERE server_id = ? AND channel_id = '' AND channel_name = ?`,
			serverID, channelName)
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No watermark found",
			"server_id", serverID, "channel_id", channelID, "channel_name", channelName)
		return time.Time{}, false, nil

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting watermark",
			"server_id", serverID, "channel_id", channelID, "error", err)
		return time.Time{}, false, fmt.Errorf("failed to get last fetched for channel %s: %w", channelID, err)
	}

	ts, err := ParseTime(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// UpdateLastFetched upserts the watermark row keyed by (server_id,
// channel_id), or by (server_id, channel_name) when the channel id is empty.
func (s *sqlxStore) UpdateLastFetched(ctx context.Context, meta *ChannelMeta) error {
	if meta == nil {
		return fmt.Errorf("cannot save nil channel metadata")
	}
	if meta.LastFetched.IsZero() {
		return fmt.Errorf("channel metadata must have a non-zero last fetched timestamp")
	}
	if meta.ChannelID == "" && meta.ChannelName == "" {
		return fmt.Errorf("channel metadata must have a channel id or a channel name")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for watermark update",
			"server_id", meta.ServerID, "channel_id", meta.ChannelID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	// Legacy rows without a channel id conflict on (server, name); rows
	// with an id conflict on (server, id). The targets must match the
	// partial unique indexes exactly.
	conflict := `ON CONFLICT(server_id, channel_id) WHERE channel_id != ''`
	if meta.ChannelID == "" {
		conflict = `ON CONFLICT(server_id, channel_name) WHERE channel_id = ''`
	}

	query := `
        INSERT INTO channel_meta (server_id, channel_id, server_name, channel_name, category_id, category_name, last_fetched)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ` + conflict + ` DO UPDATE SET
            server_name = excluded.server_name,
            channel_name = excluded.channel_name,
            category_id = excluded.category_id,
            category_name = excluded.category_name,
            last_fetched = excluded.last_fetched;
    `

	if _, err := tx.ExecContext(ctx, query,
		meta.ServerID,
		meta.ChannelID,
		meta.ServerName,
		meta.ChannelName,
		meta.CategoryID,
		meta.CategoryName,
		FormatTime(meta.LastFetched),
	); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting watermark",
			"server_id", meta.ServerID, "channel_id", meta.ChannelID, "error", err)
		return fmt.Errorf("failed to update last fetched for channel %s: %w", meta.ChannelID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"server_id", meta.ServerID, "channel_id", meta.ChannelID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Watermark updated",
		"server_id", meta.ServerID, "channel_id", meta.ChannelID, "last_fetched", meta.LastFetched)
	return nil
}

// GetChannelCategory returns the cached category for a channel, or empty
// values when no metadata row is known.
func (s *sqlxStore) GetChannelCategory(ctx context.Context, channelID, channelName, serverID string) (string, string, error) {
	if ctx.Err() != nil {
		return "", "", ctx.Err()
	}

	type categoryRow struct {
		CategoryID   string `db:"category_id"`
		CategoryName string `db:"category_name"`
	}

	var row categoryRow
	var err error
	if channelID != "" {
		err = s.db.GetContext(ctx, &row,
			`SELECT category_id, category_name FROM channel_meta WHERE server_id = ? AND channel_id = ?`,
			serverID, channelID)
	} else {
		err = s.db.GetContext(ctx, &row,
			`SELECT category_id, category_name FROM channel_meta WHERE server_id = ? AND channel_name = ?`,
			serverID, channelName)
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", "", nil

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting channel category",
			"server_id", serverID, "channel_id", channelID, "channel_name", channelName, "error", err)
		return "", "", fmt.Errorf("failed to get channel category: %w", err)
	}

	return row.CategoryID, row.CategoryName, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}
