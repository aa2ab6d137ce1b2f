package joku

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

// closeCodeNormal is the websocket "normal closure" code. A close with
// this code shuts the bot down cleanly; everything else is fatal.
const closeCodeNormal = websocket.CloseNormalClosure

type connState int

const (
	stateConnecting connState = iota
	stateConnected
	stateReconnecting
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateReconnecting:
		return "reconnecting"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type gatewayEventKind int

const (
	// eventReconnect: the transport dropped but the bot should open a
	// fresh handle. resume carries whether the prior session may be
	// resumed.
	eventReconnect gatewayEventKind = iota

	// eventClosed: the transport closed for good. closeCode decides
	// whether the loop exits cleanly or propagates an error.
	eventClosed
)

type gatewayEvent struct {
	kind      gatewayEventKind
	resume    bool
	closeCode int
	err       error
}

// gatewayTransport is one gateway connection handle. A handle is used
// for exactly one connection attempt and discarded wholesale on
// reconnect - it is never reused.
type gatewayTransport interface {
	// Open performs the gateway handshake. resume requests resumption
	// of the prior session where the transport supports it.
	Open(resume bool) error

	// Events delivers transport lifecycle signals. The channel is valid
	// after Open returns.
	Events() <-chan gatewayEvent

	Close() error
}

// closeCodeFromError extracts a websocket close code, if err carries one.
func closeCodeFromError(err error) (int, bool) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, true
	}
	return 0, false
}

// discordGateway adapts a DiscordSession to gatewayTransport. Disconnect
// events from discordgo (which has its own reconnection disabled) are
// translated into reconnect/closed signals for the gateway loop.
type discordGateway struct {
	session SessionHandler
	logger  *slog.Logger
	events  chan gatewayEvent
}

func newDiscordGateway(session SessionHandler, logger *slog.Logger) *discordGateway {
	g := &discordGateway{
		session: session,
		logger:  logger,
		events:  make(chan gatewayEvent, 1),
	}
	session.AddHandler(g.handlerDisconnect())
	return g
}

func (g *discordGateway) Open(resume bool) error {
	// discordgo resumes internally when the session state carries a
	// session ID; a fresh handle always identifies from scratch, which
	// is exactly the non-resume path.
	g.logger.Info("opening gateway connection", "resume", resume)
	err := g.session.Open()
	if err == nil {
		return nil
	}
	if code, ok := closeCodeFromError(err); ok {
		g.logger.Error(
			"gateway handshake rejected",
			"close_code", code,
			tint.Err(err),
		)
	}
	return err
}

func (g *discordGateway) Events() <-chan gatewayEvent {
	return g.events
}

func (g *discordGateway) Close() error {
	return g.session.Close()
}

func (g *discordGateway) handlerDisconnect() func(
	s *discordgo.Session,
	d *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		ev := gatewayEvent{kind: eventReconnect, resume: true}
		select {
		case g.events <- ev:
		default:
			// A signal is already pending; the loop will replace the
			// handle anyway.
		}
	}
}

// gatewayLoop drives the reconnect state machine: Connecting ->
// Connected -> Reconnecting -> Connecting, until a close signal moves it
// to Closed. On close, both persistence connections are closed
// best-effort; only abnormal close codes propagate an error.
func (b *Bot) gatewayLoop(ctx context.Context) error {
	resume := false
	var state connState

	for {
		state = stateConnecting
		transport, err := b.newTransport()
		if err != nil {
			return err
		}
		b.setTransport(transport)
		b.logger.Info("gateway state", "state", state.String(), "resume", resume)

		if err = transport.Open(resume); err != nil {
			if code, ok := closeCodeFromError(err); ok {
				return b.closeGateway(
					ctx,
					&TransportClosed{Code: code, Err: err},
				)
			}
			return err
		}
		state = stateConnected
		b.logger.Info("gateway state", "state", state.String())

		select {
		case <-ctx.Done():
			// Shutdown requested. Treated like a normal closure:
			// best-effort cleanup, no error.
			_ = transport.Close()
			return b.closeGateway(
				ctx,
				&TransportClosed{Code: closeCodeNormal, Err: ctx.Err()},
			)
		case ev := <-transport.Events():
			switch ev.kind {
			case eventReconnect:
				state = stateReconnecting
				resume = ev.resume
				b.logger.Info(
					"gateway state",
					"state", state.String(),
					"resume", resume,
				)
				_ = transport.Close()
				// Immediately back to Connecting with a brand new
				// handle - the old one is discarded.
				continue
			case eventClosed:
				state = stateClosed
				b.logger.Info(
					"gateway state",
					"state", state.String(),
					"close_code", ev.closeCode,
				)
				_ = transport.Close()
				return b.closeGateway(
					ctx,
					&TransportClosed{Code: ev.closeCode, Err: ev.err},
				)
			}
		}
	}
}

// closeGateway performs the post-close cleanup: the relational and
// document-log connections are each closed best-effort, failures
// swallowed. Normal closes return nil; abnormal ones return the original
// transport error.
func (b *Bot) closeGateway(ctx context.Context, closed *TransportClosed) error {
	var g errgroup.Group
	g.Go(
		func() error {
			if err := b.store.Close(); err != nil {
				b.logger.Warn("error closing database", tint.Err(err))
			}
			return nil
		},
	)
	g.Go(
		func() error {
			if err := b.rdblog.Close(); err != nil {
				b.logger.Warn("error closing rethinkdb", tint.Err(err))
			}
			return nil
		},
	)
	_ = g.Wait()

	b.stopRotator(ctx)

	if closed.Normal() {
		return nil
	}
	return closed
}
