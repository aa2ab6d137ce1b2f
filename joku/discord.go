package joku

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// SessionHandler defines the methods used from discordgo.Session, to
// enable testing/mocking. DiscordSession implements it for real gateway
// connections.
type SessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSend sends a message to the given channel
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Channel resolves a channel by ID
	Channel(
		channelID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// Application retrieves the bot's application info ("@me")
	Application(
		appID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Application, error)

	// GuildMembers returns all members of a guild, paging through the
	// member list endpoint
	GuildMembers(guildID string) ([]*discordgo.Member, error)

	// User resolves a user by ID
	User(
		userID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.User, error)

	// UpdateGameStatus sets the bot's "playing" presence
	UpdateGameStatus(idle int, name string) error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// SessionUser returns the bot's own user, once the gateway handshake
	// has populated session state
	SessionUser() *discordgo.User
}

// DiscordSession implements SessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

// newDiscordSession constructs a fresh discordgo session for one gateway
// connection attempt. discordgo's own reconnect machinery is disabled:
// the bot's gateway loop owns reconnect policy.
func newDiscordSession(
	token string,
	shardID int,
	logger *slog.Logger,
) (*DiscordSession, error) {
	disc, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	disc.SyncEvents = true
	disc.ShouldReconnectOnError = false
	disc.Identify.Intents = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentsMessageContent
	disc.Identify.Shard = &[2]int{shardID, shardID + 1}
	return &DiscordSession{session: disc, logger: logger}, nil
}

func (d *DiscordSession) Open() error {
	return d.session.Open()
}

func (d *DiscordSession) Close() error {
	return d.session.Close()
}

func (d *DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSend(channelID, message, opts...)
	if err != nil {
		d.logger.Error(
			"error sending message",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	return msg, err
}

func (d *DiscordSession) Channel(
	channelID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.Channel(channelID, opts...)
}

func (d *DiscordSession) Application(
	appID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Application, error) {
	return d.session.Application(appID)
}

func (d *DiscordSession) GuildMembers(guildID string) ([]*discordgo.Member, error) {
	var members []*discordgo.Member
	after := ""
	for {
		page, err := d.session.GuildMembers(guildID, after, 1000)
		if err != nil {
			return members, err
		}
		members = append(members, page...)
		if len(page) < 1000 {
			return members, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (d *DiscordSession) User(
	userID string,
	opts ...discordgo.RequestOption,
) (*discordgo.User, error) {
	return d.session.User(userID, opts...)
}

func (d *DiscordSession) UpdateGameStatus(idle int, name string) error {
	return d.session.UpdateGameStatus(idle, name)
}

func (d *DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d *DiscordSession) SessionUser() *discordgo.User {
	if d.session.State == nil {
		return nil
	}
	return d.session.State.User
}
