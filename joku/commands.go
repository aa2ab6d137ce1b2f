package joku

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// CheckFunc is a command precondition. Returning a non-nil error rejects
// the invocation; the error text is echoed back to the user.
type CheckFunc func(ctx context.Context, c *Context) error

// HandlerFunc is a command handler body.
type HandlerFunc func(ctx context.Context, c *Context) error

// Command is one registered command handler.
type Command struct {
	Name    string
	Aliases []string
	Help    string

	// Checks run before the handler, in order
	Checks []CheckFunc

	// ArgNames lists required positional arguments, used for
	// MissingArgument replies
	ArgNames []string

	// CooldownBucket + CooldownTTL rate-limit the command per user via
	// the cache adapter. The bucket is set after a successful run.
	CooldownBucket string
	CooldownTTL    time.Duration

	Handler HandlerFunc
}

// names returns the command's invocation name plus aliases.
func (c *Command) names() []string {
	return append([]string{c.Name}, c.Aliases...)
}

// commandPrefixes resolves the prefixes to try for a message, in order.
// Pure function of configuration and message origin - safe to call
// concurrently.
//
// Developer mode pins a single fixed prefix. The dbots guild gets a
// reduced set so the bot doesn't fight other bots over "j!"; everywhere
// else (including DMs) gets the default set.
func commandPrefixes(config *Config, guildID string) []string {
	if config.DeveloperMode {
		return []string{developerPrefix}
	}
	alphabet := prefixAlphabetDefault
	if guildID == dbotsGuildID {
		alphabet = prefixAlphabetDbots
	}
	prefixes := make([]string, 0, len(alphabet))
	for _, s := range alphabet {
		prefixes = append(prefixes, "j"+string(s))
	}
	return prefixes
}

func (b *Bot) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.processMessage(b.runContext(), m.Message)
	}
}

// handlerMessageUpdate treats an edit as a new message when the content
// actually changed; no-op edits (embed unfurls, pin updates) are dropped.
func (b *Bot) handlerMessageUpdate() func(
	s *discordgo.Session,
	m *discordgo.MessageUpdate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		if m.BeforeUpdate != nil && m.BeforeUpdate.Content == m.Content {
			return
		}
		b.processMessage(b.runContext(), m.Message)
	}
}

// processMessage is the intake gate plus dispatch. The gate always runs,
// and completes, before any command matching: log the event, then drop
// the message silently if the channel has an ignore rule for commands.
// A relational adapter that isn't connected yet fails open - the bot
// stays responsive before persistence is ready.
func (b *Bot) processMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil {
		return
	}
	if self := b.session().SessionUser(); self != nil && m.Author.ID == self.ID {
		return
	}

	b.logger.Info(
		"received message",
		"content", m.Content,
		"author", m.Author.Username,
		"channel_id", m.ChannelID,
		"guild_id", m.GuildID,
		"bot", m.Author.Bot,
	)

	if b.rdblog.Connected() {
		if err := b.rdblog.LogMessage(ctx, m); err != nil {
			b.logger.Warn("failed to log message", tint.Err(err))
		}
	}

	if b.store.Connected() {
		ignored, err := b.store.IsChannelIgnored(ctx, m.ChannelID, "commands")
		if err != nil {
			b.logger.Error("ignore rule lookup failed", tint.Err(err))
		} else if ignored {
			return
		}
	}

	b.dispatchCommand(ctx, m)
}

// dispatchCommand tries each resolved prefix in order, matches the
// command word against the registry, and runs the handler. Every failure
// funnels into the error translator.
func (b *Bot) dispatchCommand(ctx context.Context, m *discordgo.Message) {
	var rest string
	var matched bool
	for _, prefix := range commandPrefixes(b.config, m.GuildID) {
		if strings.HasPrefix(m.Content, prefix) {
			rest = strings.TrimPrefix(m.Content, prefix)
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}

	cmd := b.Command(fields[0])
	if cmd == nil {
		return
	}

	c := &Context{
		Message:     m,
		ChannelID:   m.ChannelID,
		GuildID:     m.GuildID,
		Author:      m.Author,
		InvokedWith: fields[0],
		Args:        fields[1:],
		bot:         b,
	}

	if err := b.invokeCommand(ctx, cmd, c); err != nil {
		b.onCommandError(ctx, c, err)
	}
}

// invokeCommand runs checks, arity, cooldown, then the handler body.
// Panics and untyped handler errors come back wrapped as
// HandlerInternalError.
func (b *Bot) invokeCommand(
	ctx context.Context,
	cmd *Command,
	c *Context,
) (err error) {
	defer func() {
		if rc := recover(); rc != nil {
			err = &HandlerInternalError{
				Command: cmd.Name,
				Err:     fmt.Errorf("panic: %v", rc),
				Stack:   debug.Stack(),
			}
		}
	}()

	for _, check := range cmd.Checks {
		if checkErr := check(ctx, c); checkErr != nil {
			var failed *CheckFailed
			if errors.As(checkErr, &failed) {
				return checkErr
			}
			return &CheckFailed{Reason: checkErr.Error()}
		}
	}

	if len(c.Args) < len(cmd.ArgNames) {
		return &MissingArgument{Argument: cmd.ArgNames[len(c.Args)]}
	}

	if cmd.CooldownBucket != "" && b.cache.Connected() {
		ttl, active, cdErr := b.cache.GetCooldownExpiration(
			ctx, c.Author.ID, cmd.CooldownBucket,
		)
		if cdErr != nil {
			// Fail open: a broken cache shouldn't disable commands.
			b.logger.Warn("cooldown lookup failed", tint.Err(cdErr))
		} else if active {
			return &CooldownActive{
				Bucket:     cmd.CooldownBucket,
				RetryAfter: ttl,
			}
		}
	}

	if handlerErr := cmd.Handler(ctx, c); handlerErr != nil {
		var failed *CheckFailed
		var missing *MissingArgument
		var cooldown *CooldownActive
		var internal *HandlerInternalError
		switch {
		case errors.As(handlerErr, &failed),
			errors.As(handlerErr, &missing),
			errors.As(handlerErr, &cooldown),
			errors.As(handlerErr, &internal):
			return handlerErr
		default:
			return &HandlerInternalError{
				Command: cmd.Name,
				Err:     handlerErr,
				Stack:   debug.Stack(),
			}
		}
	}

	if cmd.CooldownBucket != "" && cmd.CooldownTTL > 0 && b.cache.Connected() {
		if cdErr := b.cache.SetBucketWithExpiration(
			ctx, c.Author.ID, cmd.CooldownBucket, cmd.CooldownTTL,
		); cdErr != nil {
			b.logger.Warn("failed to set cooldown bucket", tint.Err(cdErr))
		}
	}

	return nil
}
