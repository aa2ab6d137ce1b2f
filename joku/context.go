package joku

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Context carries everything a command handler needs for one invocation:
// the triggering message, the parsed arguments, and a back-reference to
// the bot. A fresh Context is built per command-eligible message and
// discarded when the handler returns.
type Context struct {
	// Message is the triggering message
	Message *discordgo.Message

	// ChannelID of the triggering message
	ChannelID string

	// GuildID is empty for direct messages
	GuildID string

	// Author of the triggering message
	Author *discordgo.User

	// InvokedWith is the command name or alias that matched
	InvokedWith string

	// Args are the whitespace-split tokens after the command word
	Args []string

	bot *Bot
}

// Bot returns the bot instance this context is bound to.
func (c *Context) Bot() *Bot {
	return c.bot
}

// Store is shorthand for the bot's relational adapter.
func (c *Context) Store() Store {
	return c.bot.store
}

// Cache is shorthand for the bot's cooldown cache adapter.
func (c *Context) Cache() CacheStore {
	return c.bot.cache
}

// Send replies in the triggering channel, chunking content that exceeds
// the Discord message length limit.
func (c *Context) Send(ctx context.Context, content string) error {
	return c.bot.sendChunked(ctx, c.ChannelID, content)
}

// Sendf is Send with fmt.Sprintf formatting.
func (c *Context) Sendf(ctx context.Context, format string, args ...any) error {
	return c.Send(ctx, fmt.Sprintf(format, args...))
}

// Arg returns the positional argument at i, or a MissingArgument error
// naming it.
func (c *Context) Arg(i int, name string) (string, error) {
	if i >= len(c.Args) {
		return "", &MissingArgument{Argument: name}
	}
	return c.Args[i], nil
}
