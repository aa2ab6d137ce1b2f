package joku

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptTransports makes the bot hand out the given transports in order,
// one per connection attempt.
func scriptTransports(
	t *testing.T,
	b *Bot,
	sess SessionHandler,
	transports ...*fakeTransport,
) {
	t.Helper()
	var next atomic.Int32
	b.newTransportFn = func() (gatewayTransport, SessionHandler, error) {
		i := int(next.Add(1)) - 1
		require.Less(t, i, len(transports), "more connection attempts than scripted transports")
		return transports[i], sess, nil
	}
}

func TestGatewayLoopNormalCloseExitsClean(t *testing.T) {
	t.Parallel()
	bot, sess := newTestBot(t)
	connectTestStore(t, bot)
	rdblog := bot.rdblog.(*fakeDocumentLog)
	require.NoError(t, rdblog.Connect(context.Background()))

	transport := newFakeTransport(
		gatewayEvent{kind: eventClosed, closeCode: closeCodeNormal},
	)
	scriptTransports(t, bot, sess, transport)

	err := bot.gatewayLoop(context.Background())
	require.NoError(t, err)

	// Clean exit still tears down both persistence connections.
	assert.True(t, transport.wasClosed())
	assert.False(t, bot.store.Connected())
	assert.False(t, rdblog.Connected())
}

func TestGatewayLoopAbnormalClosePropagates(t *testing.T) {
	t.Parallel()
	bot, sess := newTestBot(t)
	connectTestStore(t, bot)
	rdblog := bot.rdblog.(*fakeDocumentLog)
	require.NoError(t, rdblog.Connect(context.Background()))

	cause := errors.New("authentication failed")
	transport := newFakeTransport(
		gatewayEvent{kind: eventClosed, closeCode: 4004, err: cause},
	)
	scriptTransports(t, bot, sess, transport)

	err := bot.gatewayLoop(context.Background())
	var closed *TransportClosed
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, 4004, closed.Code)
	assert.False(t, closed.Normal())
	assert.ErrorIs(t, err, cause)

	// Cleanup ran before the error propagated.
	assert.True(t, transport.wasClosed())
	assert.False(t, bot.store.Connected())
	assert.False(t, rdblog.Connected())
}

func TestGatewayLoopReconnectReplacesTransport(t *testing.T) {
	t.Parallel()
	bot, sess := newTestBot(t)

	first := newFakeTransport(
		gatewayEvent{kind: eventReconnect, resume: true},
	)
	second := newFakeTransport(
		gatewayEvent{kind: eventClosed, closeCode: closeCodeNormal},
	)
	scriptTransports(t, bot, sess, first, second)

	require.NoError(t, bot.gatewayLoop(context.Background()))

	// The first handle is discarded wholesale; the replacement opens
	// with the resume flag carried over from the reconnect signal.
	assert.True(t, first.wasClosed())
	second.mu.Lock()
	defer second.mu.Unlock()
	assert.True(t, second.opened)
	assert.True(t, second.openResume)
}

func TestGatewayLoopFirstConnectDoesNotResume(t *testing.T) {
	t.Parallel()
	bot, sess := newTestBot(t)

	transport := newFakeTransport(
		gatewayEvent{kind: eventClosed, closeCode: closeCodeNormal},
	)
	scriptTransports(t, bot, sess, transport)

	require.NoError(t, bot.gatewayLoop(context.Background()))
	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.False(t, transport.openResume)
}

func TestGatewayLoopContextCancelIsClean(t *testing.T) {
	t.Parallel()
	bot, sess := newTestBot(t)
	connectTestStore(t, bot)

	transport := newFakeTransport()
	scriptTransports(t, bot, sess, transport)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- bot.gatewayLoop(ctx)
	}()

	require.Eventually(
		t, func() bool {
			transport.mu.Lock()
			defer transport.mu.Unlock()
			return transport.opened
		}, 5*time.Second, 5*time.Millisecond,
	)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway loop did not exit on cancellation")
	}
	assert.True(t, transport.wasClosed())
	assert.False(t, bot.store.Connected())
}

func TestGatewayLoopHandshakeRejection(t *testing.T) {
	t.Parallel()
	bot, sess := newTestBot(t)

	transport := newFakeTransport()
	transport.openErr = &websocket.CloseError{
		Code: 4004,
		Text: "Authentication failed.",
	}
	scriptTransports(t, bot, sess, transport)

	err := bot.gatewayLoop(context.Background())
	var closed *TransportClosed
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, 4004, closed.Code)
}

func TestGatewayLoopOpenErrorWithoutCloseCode(t *testing.T) {
	t.Parallel()
	bot, sess := newTestBot(t)

	transport := newFakeTransport()
	transport.openErr = errors.New("dial tcp: connection refused")
	scriptTransports(t, bot, sess, transport)

	err := bot.gatewayLoop(context.Background())
	require.Error(t, err)
	var closed *TransportClosed
	assert.False(t, errors.As(err, &closed))
}

func TestGatewayLoopStopsRotatorOnClose(t *testing.T) {
	t.Parallel()
	bot, sess := newTestBot(t)
	bot.config.GameRotation = []string{"rotating"}

	ctx := context.Background()
	bot.startRotator(ctx)
	sess.waitForStatus(t)

	transport := newFakeTransport(
		gatewayEvent{kind: eventClosed, closeCode: closeCodeNormal},
	)
	scriptTransports(t, bot, sess, transport)
	require.NoError(t, bot.gatewayLoop(ctx))

	bot.rotatorMu.Lock()
	defer bot.rotatorMu.Unlock()
	assert.Nil(t, bot.rotator)
}

func TestCloseCodeFromError(t *testing.T) {
	t.Parallel()

	code, ok := closeCodeFromError(
		&websocket.CloseError{Code: 4014, Text: "Disallowed intent(s)."},
	)
	require.True(t, ok)
	assert.Equal(t, 4014, code)

	_, ok = closeCodeFromError(errors.New("not a close error"))
	assert.False(t, ok)

	wrapped := errors.Join(
		errors.New("handshake"),
		&websocket.CloseError{Code: 1000},
	)
	code, ok = closeCodeFromError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 1000, code)
}

func TestTransportClosedNormal(t *testing.T) {
	t.Parallel()
	assert.True(t, (&TransportClosed{Code: 1000}).Normal())
	assert.False(t, (&TransportClosed{Code: 4004}).Normal())
	assert.False(t, (&TransportClosed{Code: 0}).Normal())
}
