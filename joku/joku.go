package joku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/baguette/Jokusoramame/joku.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// errorRelayInterval rate-limits traceback relays to the error channel
// so a hot failure loop doesn't hammer the Discord API.
const errorRelayInterval = 5 * time.Second

// Bot is the long-lived orchestrator: it owns the gateway connection,
// the adapter set, the cog and command registries, and the background
// rotator handle.
//
// Single-writer rules: the transport handle is replaced only by the
// gateway loop; the registries are mutated only through LoadCog and
// UnloadCog; the rotator handle only through startRotator/stopRotator.
type Bot struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	store  Store
	rdblog DocumentLog
	cache  CacheStore

	// transport is the single active gateway handle, discarded and
	// replaced wholesale on every reconnect
	transportMu sync.RWMutex
	transport   gatewayTransport
	sess        SessionHandler

	// newTransportFn builds a fresh transport + session pair per
	// connection attempt; swapped out in tests
	newTransportFn func() (gatewayTransport, SessionHandler, error)

	regMu       sync.RWMutex
	cogs        map[string]Cog
	commands    map[string]*Command
	cmdOrder    []string
	cogCommands map[string][]string

	rotatorMu       sync.Mutex
	rotator         *rotatorTask
	rotatorInterval time.Duration

	// AppID and OwnerID are resolved from the application info during
	// the on-ready sequence
	AppID   string
	OwnerID string

	startedAt time.Time

	runMu     sync.Mutex
	runCtx    context.Context
	cancelRun context.CancelFunc

	fatalMu  sync.Mutex
	fatalErr error

	errorRelayLimiter *rate.Limiter
}

// New constructs a Bot from the given config. Nothing connects until
// Run - adapter connections happen in the on-ready sequence.
func New(config *Config) (*Bot, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	b := &Bot{
		config:            config,
		cogs:              map[string]Cog{},
		commands:          map[string]*Command{},
		cogCommands:       map[string][]string{},
		rotatorInterval:   rotatorInterval,
		errorRelayLimiter: rate.NewLimiter(rate.Every(errorRelayInterval), 1),
	}

	b.logHandler = newLogHandler(config.LogLevel)
	b.logger = slog.New(b.logHandler).With(
		loggerNameKey,
		fmt.Sprintf("joku:shard-%d", config.ShardID),
	)
	slog.SetDefault(slog.New(b.logHandler))

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(config.DiscordGoLogLevel),
	)

	b.store = NewStore(config, b.logHandler)
	b.rdblog = NewRdbLogAdapter(config.RethinkDB, b.logHandler)
	b.cache = NewRedisAdapter(config.Redis, b.logHandler)

	b.newTransportFn = b.defaultTransport

	return b, nil
}

// defaultTransport builds a fresh discordgo-backed transport with the
// bot's gateway handlers attached.
func (b *Bot) defaultTransport() (gatewayTransport, SessionHandler, error) {
	session, err := newDiscordSession(
		b.config.BotToken,
		b.config.ShardID,
		b.logger.With(loggerNameKey, "discord_session"),
	)
	if err != nil {
		return nil, nil, err
	}
	session.AddHandler(b.handlerReady())
	session.AddHandler(b.handlerMessageCreate())
	session.AddHandler(b.handlerMessageUpdate())
	gw := newDiscordGateway(session, b.logger.With(loggerNameKey, "gateway"))
	return gw, session, nil
}

func (b *Bot) newTransport() (gatewayTransport, error) {
	transport, session, err := b.newTransportFn()
	if err != nil {
		return nil, err
	}
	b.transportMu.Lock()
	b.sess = session
	b.transportMu.Unlock()
	return transport, nil
}

func (b *Bot) setTransport(t gatewayTransport) {
	b.transportMu.Lock()
	b.transport = t
	b.transportMu.Unlock()
}

// session returns the currently active session handler. Senders call
// this per send, so a handle replaced mid-flight is re-resolved.
func (b *Bot) session() SessionHandler {
	b.transportMu.RLock()
	defer b.transportMu.RUnlock()
	return b.sess
}

func (b *Bot) runContext() context.Context {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.runCtx == nil {
		return context.Background()
	}
	return b.runCtx
}

// terminate records a fatal error and tears the session down. Run
// returns the recorded error after gateway cleanup finishes.
func (b *Bot) terminate(err error) {
	b.fatalMu.Lock()
	if b.fatalErr == nil {
		b.fatalErr = err
	}
	b.fatalMu.Unlock()

	b.runMu.Lock()
	cancel := b.cancelRun
	b.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (b *Bot) fatal() error {
	b.fatalMu.Lock()
	defer b.fatalMu.Unlock()
	return b.fatalErr
}

// Run connects to the gateway and blocks until the connection closes
// normally, a fatal boot error terminates the session, or ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.runMu.Lock()
	if b.cancelRun != nil {
		b.runMu.Unlock()
		return errors.New("already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.runCtx = runCtx
	b.cancelRun = cancel
	b.startedAt = time.Now()
	b.runMu.Unlock()

	defer func() {
		cancel()
		b.runMu.Lock()
		b.runCtx = nil
		b.cancelRun = nil
		b.runMu.Unlock()
	}()

	err := b.gatewayLoop(runCtx)

	if fatalErr := b.fatal(); fatalErr != nil {
		return fatalErr
	}
	return err
}

func (b *Bot) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info(
			"gateway ready",
			"session_id", r.SessionID,
			"guilds", len(r.Guilds),
		)
		go b.onReady(b.runContext())
	}
}

// onReady is the startup sequence, run once per successful gateway
// handshake. Each numbered step either completes or aborts startup with
// a logged fatal condition; only cog loads are non-fatal.
func (b *Bot) onReady(ctx context.Context) {
	if user := b.session().SessionUser(); user != nil {
		b.logger.Info(
			"logged in",
			"username", user.Username,
			"user_id", user.ID,
		)
	}

	app, err := b.session().Application("@me")
	if err != nil {
		b.logger.Error("unable to resolve application info", tint.Err(err))
		b.terminate(&FatalBootError{Adapter: "discord", Err: err})
		return
	}
	b.AppID = app.ID
	if app.Owner != nil {
		b.OwnerID = app.Owner.ID
		b.logger.Info(
			"resolved application",
			"app_id", b.AppID,
			"owner_id", b.OwnerID,
		)
	}

	// A failed persistence connection is fatal at boot: no retry, no
	// partially-up bot.
	if err = b.store.Connect(ctx); err != nil {
		b.logger.Error("unable to connect to database", tint.Err(err))
		b.terminate(&FatalBootError{Adapter: "database", Err: err})
		return
	}
	if err = b.rdblog.Connect(ctx); err != nil {
		b.logger.Error("unable to connect to rethinkdb", tint.Err(err))
		b.terminate(&FatalBootError{Adapter: "rethinkdb", Err: err})
		return
	}
	if err = b.cache.Connect(ctx); err != nil {
		b.logger.Error("unable to connect to redis", tint.Err(err))
		b.terminate(&FatalBootError{Adapter: "redis", Err: err})
		return
	}

	for _, name := range b.config.Autoload {
		if loadErr := b.LoadCog(name); loadErr != nil {
			b.logger.Warn("failed to load cog", "cog", name, tint.Err(loadErr))
		} else {
			b.logger.Info("loaded cog", "cog", name)
		}
	}
	b.regMu.RLock()
	b.logger.Info(
		"cogs loaded",
		"cogs", len(b.cogs),
		"commands", len(b.commands),
	)
	b.regMu.RUnlock()

	b.scheduleReadyHooks(ctx)

	b.startRotator(ctx)

	b.logger.Info("bot ready", "elapsed", time.Since(b.startedAt))
}

// scheduleReadyHooks fires each cog's optional ready hook concurrently.
// Hooks are never awaited by the startup path; a supervisor drains their
// captured errors and logs them.
func (b *Bot) scheduleReadyHooks(ctx context.Context) {
	b.regMu.RLock()
	type hook struct {
		name  string
		ready CogReady
	}
	var hooks []hook
	for name, cog := range b.cogs {
		if r, ok := cog.(CogReady); ok {
			hooks = append(hooks, hook{name: name, ready: r})
		}
	}
	b.regMu.RUnlock()

	if len(hooks) == 0 {
		return
	}

	hookErrs := make(chan error, len(hooks))
	var wg sync.WaitGroup
	for _, h := range hooks {
		wg.Add(1)
		go func(h hook) {
			defer wg.Done()
			defer func() {
				if rc := recover(); rc != nil {
					hookErrs <- fmt.Errorf(
						"cog %s ready hook panic: %v", h.name, rc,
					)
				}
			}()
			if err := h.ready.Ready(ctx); err != nil {
				hookErrs <- fmt.Errorf("cog %s: %w", h.name, err)
			}
		}(h)
	}
	go func() {
		wg.Wait()
		close(hookErrs)
	}()
	go func() {
		for err := range hookErrs {
			b.logger.Error("cog ready hook failed", tint.Err(err))
		}
	}()
}

// LoadCog instantiates a registered cog and registers its commands.
// A duplicate command name or alias fails the whole load - first
// registration wins, nothing is silently overwritten.
func (b *Bot) LoadCog(name string) error {
	builder, ok := cogBuilders[name]
	if !ok {
		return &CogLoadError{Cog: name, Err: ErrUnknownCog}
	}

	b.regMu.Lock()
	defer b.regMu.Unlock()

	if _, exists := b.cogs[name]; exists {
		return &CogLoadError{Cog: name, Err: ErrCogAlreadyLoaded}
	}

	cog, err := builder(b)
	if err != nil {
		return &CogLoadError{Cog: name, Err: err}
	}

	commands := cog.Commands()
	for _, cmd := range commands {
		for _, cmdName := range cmd.names() {
			if _, dup := b.commands[cmdName]; dup {
				b.teardownCog(cog)
				return &CogLoadError{
					Cog: name,
					Err: fmt.Errorf("command %q already registered", cmdName),
				}
			}
		}
	}

	var registered []string
	for _, cmd := range commands {
		for _, cmdName := range cmd.names() {
			b.commands[cmdName] = cmd
			registered = append(registered, cmdName)
		}
		b.cmdOrder = append(b.cmdOrder, cmd.Name)
	}
	b.cogs[name] = cog
	b.cogCommands[name] = registered
	return nil
}

// UnloadCog removes a cog's commands from the registry and releases its
// scoped resources.
func (b *Bot) UnloadCog(name string) error {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	cog, ok := b.cogs[name]
	if !ok {
		return ErrUnknownCog
	}
	for _, cmdName := range b.cogCommands[name] {
		delete(b.commands, cmdName)
	}
	remaining := b.cmdOrder[:0]
	removed := map[string]bool{}
	for _, cmdName := range b.cogCommands[name] {
		removed[cmdName] = true
	}
	for _, cmdName := range b.cmdOrder {
		if !removed[cmdName] {
			remaining = append(remaining, cmdName)
		}
	}
	b.cmdOrder = remaining
	delete(b.cogCommands, name)
	delete(b.cogs, name)

	b.teardownCog(cog)
	return nil
}

func (b *Bot) teardownCog(cog Cog) {
	if td, ok := cog.(CogTeardown); ok {
		if err := td.Teardown(); err != nil {
			b.logger.Warn(
				"cog teardown failed",
				"cog", cog.Name(),
				tint.Err(err),
			)
		}
	}
}

// Command resolves a command by name or alias.
func (b *Bot) Command(name string) *Command {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	return b.commands[name]
}

// Cogs returns a snapshot of the loaded cog registry.
func (b *Bot) Cogs() map[string]Cog {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	out := make(map[string]Cog, len(b.cogs))
	for name, cog := range b.cogs {
		out[name] = cog
	}
	return out
}

// CommandNames returns registered command names in registration order,
// for help listings.
func (b *Bot) CommandNames() []string {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	out := make([]string, len(b.cmdOrder))
	copy(out, b.cmdOrder)
	return out
}

// onCommandError is the single error-translation path for everything a
// command handler can raise. Every category produces exactly one
// user-facing reply, except the unhandled bucket, which only logs.
func (b *Bot) onCommandError(ctx context.Context, c *Context, err error) {
	var internal *HandlerInternalError
	var failed *CheckFailed
	var missing *MissingArgument
	var cooldown *CooldownActive

	switch {
	case errors.As(err, &internal):
		if sendErr := c.Send(
			ctx,
			"\U0001F6AB This kills the bot (An error has happened and has been logged.)",
		); sendErr != nil {
			b.logger.Error("failed to send error reply", tint.Err(sendErr))
		}
		// Log the underlying cause, not the wrapper.
		b.logger.Error(
			"command handler failed",
			"command", internal.Command,
			tint.Err(internal.Err),
			"stack", string(internal.Stack),
		)
		b.relayTraceback(ctx, c, internal)

	case errors.As(err, &failed):
		_ = c.Sendf(ctx, "\U0001F6AB Check failed: %s", failed.Reason)

	case errors.As(err, &missing):
		_ = c.Sendf(ctx, "\U0001F6AB Error: %s", missing.Error())

	case errors.As(err, &cooldown):
		_ = c.Sendf(
			ctx,
			"\U0001F6AB Command is on cooldown. Retry after %.1f seconds.",
			cooldown.RetryAfter.Seconds(),
		)

	default:
		// Unhandled bucket: logged, no reply. Kept as observed behavior.
		b.logger.Error(
			"unhandled command error",
			"command", c.InvokedWith,
			tint.Err(err),
		)
	}
}

// relayTraceback sends the handler traceback to the configured error
// channel. An unresolvable channel is a logged secondary failure, never
// an error that propagates.
func (b *Bot) relayTraceback(
	ctx context.Context,
	c *Context,
	internal *HandlerInternalError,
) {
	channelID := b.config.LogChannels.ErrorChannel
	if channelID == "" {
		return
	}
	if !b.errorRelayLimiter.Allow() {
		return
	}

	if _, err := b.session().Channel(channelID); err != nil {
		b.logger.Error("could not find error channel", tint.Err(err))
		return
	}

	body := fmt.Sprintf(
		"Server: %s\nChannel: %s\nCommand: %s\n\n%s\n%s",
		c.GuildID,
		c.ChannelID,
		internal.Command,
		internal.Err,
		internal.Stack,
	)
	if err := b.sendChunked(ctx, channelID, codeBlock(body)); err != nil {
		b.logger.Error("failed to relay traceback", tint.Err(err))
	}
}

// sendChunked sends content to a channel, splitting anything over the
// Discord message length limit into multiple messages.
func (b *Bot) sendChunked(
	_ context.Context,
	channelID string,
	content string,
) error {
	var errs []error
	for _, chunk := range chunkMessage(content, discordMaxMessageLength) {
		if _, err := b.session().ChannelMessageSend(channelID, chunk); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
