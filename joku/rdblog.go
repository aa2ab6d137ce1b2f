package joku

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"
)

const (
	rdbLogTableMessages = "messages"
	rdbLogTableEvents   = "events"
)

// DocumentLog is the append-only document store for message and event
// logs. Writes are best-effort - a failed log write never disturbs
// dispatch.
type DocumentLog interface {
	// Connect establishes the RethinkDB session against the fixed
	// joku_logs database, creating it and its tables if missing.
	// A no-op when already connected.
	Connect(ctx context.Context) error

	Connected() bool

	Close() error

	LogMessage(ctx context.Context, m *discordgo.Message) error
	LogEvent(ctx context.Context, kind string, payload map[string]any) error
}

// RdbLogAdapter implements DocumentLog over RethinkDB.
type RdbLogAdapter struct {
	config    RethinkDBConfig
	logger    *slog.Logger
	session   *r.Session
	connected atomic.Bool
}

func NewRdbLogAdapter(config RethinkDBConfig, logHandler slog.Handler) *RdbLogAdapter {
	return &RdbLogAdapter{
		config: config,
		logger: slog.New(logHandler).With(loggerNameKey, "rdblog"),
	}
}

func (a *RdbLogAdapter) Connect(ctx context.Context) error {
	if a.connected.Load() {
		return nil
	}
	session, err := r.Connect(
		r.ConnectOpts{
			Address:  a.config.Address,
			Database: rdbLogDatabase,
			Username: a.config.Username,
			Password: a.config.Password,
		},
	)
	if err != nil {
		return err
	}

	// The log database and its tables are created on demand, so a fresh
	// deployment needs no manual RethinkDB setup.
	_ = r.DBCreate(rdbLogDatabase).Exec(session)
	for _, table := range []string{rdbLogTableMessages, rdbLogTableEvents} {
		_ = r.DB(rdbLogDatabase).TableCreate(table).Exec(session)
	}

	a.session = session
	a.connected.Store(true)
	a.logger.InfoContext(
		ctx, "connected to rethinkdb",
		"address", a.config.Address,
		"database", rdbLogDatabase,
	)
	return nil
}

func (a *RdbLogAdapter) Connected() bool {
	return a.connected.Load()
}

func (a *RdbLogAdapter) Close() error {
	if !a.connected.Load() {
		return nil
	}
	a.connected.Store(false)
	return a.session.Close()
}

// LogMessage appends an inbound message to the message log table.
func (a *RdbLogAdapter) LogMessage(ctx context.Context, m *discordgo.Message) error {
	if !a.connected.Load() {
		return ErrStoreNotConnected
	}
	doc := map[string]any{
		"message_id": m.ID,
		"content":    m.Content,
		"channel_id": m.ChannelID,
		"guild_id":   m.GuildID,
		"timestamp":  time.Now().UTC(),
	}
	if m.Author != nil {
		doc["user_id"] = m.Author.ID
		doc["username"] = m.Author.Username
	}
	return r.DB(rdbLogDatabase).
		Table(rdbLogTableMessages).
		Insert(doc).
		Exec(a.session, r.ExecOpts{Context: ctx})
}

// LogEvent appends an arbitrary gateway event to the event log table.
func (a *RdbLogAdapter) LogEvent(
	ctx context.Context,
	kind string,
	payload map[string]any,
) error {
	if !a.connected.Load() {
		return ErrStoreNotConnected
	}
	doc := map[string]any{
		"kind":      kind,
		"payload":   payload,
		"timestamp": time.Now().UTC(),
	}
	return r.DB(rdbLogDatabase).
		Table(rdbLogTableEvents).
		Insert(doc).
		Exec(a.session, r.ExecOpts{Context: ctx})
}
