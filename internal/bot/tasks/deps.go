// Package tasks implements the bot's scheduled tasks: the daily channel
// recap and database maintenance.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/recapbot/recapbot/internal/config"
	"github.com/recapbot/recapbot/internal/database"
	"github.com/recapbot/recapbot/internal/summarizer"
)

// Messenger is the delivery surface tasks need from the transport:
// resolving a recap channel by display name and sending chunked output.
type Messenger interface {
	// FindChannel locates a server's channel by display name.
	FindChannel(serverID, name string) (string, bool)

	// FindAnyChannel locates a channel by display name on any joined server.
	FindAnyChannel(name string) (string, bool)

	// Send delivers content to a channel, chunking as needed.
	Send(ctx context.Context, channelID, content string) error
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger     *slog.Logger
	Store      database.Store
	Summarizer summarizer.Client
	Messenger  Messenger
	Config     *config.Config

	// Now is the clock used to derive summary windows. Nil means time.Now.
	Now func() time.Time
}

func (d TaskDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
