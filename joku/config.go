//nolint:lll // struct tags can't be split
package joku

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "JOKU_ENV_PREFIX"
	DefaultEnvPrefix   = "JOKU"

	DefaultDatabaseType      = "sqlite"
	DefaultDatabase          = "joku.sqlite3"
	DefaultLogLevel          = slog.LevelInfo
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultDatabaseLogLevel  = slog.LevelInfo

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultShutdownTimeout       = 30 * time.Second

	DefaultRethinkDBAddress = "localhost:28015"
	DefaultRethinkDBName    = "jokusoramame"
	DefaultRedisAddress     = "localhost:6379"

	// rdbLogDatabase is the fixed logical database the message/event log
	// adapter writes to, independent of the configured RethinkDB database.
	rdbLogDatabase = "joku_logs"

	// developerPrefix is the single prefix used when developer_mode is set.
	developerPrefix = "jd!"

	// dbotsGuildID is the one guild where the default "j!" prefix collides
	// with other bots known to live there, so it gets a reduced set.
	dbotsGuildID = "110373943822540800"

	// rotatorInterval is the delay between presence updates by the
	// status rotator.
	rotatorInterval = 15 * time.Second

	discordMaxMessageLength = 2000
)

var (
	// prefixAlphabetDefault holds the suffix characters combined with "j"
	// to form the standard prefix set.
	prefixAlphabetDefault = "!?^&$}#~:"

	// prefixAlphabetDbots drops "!" to avoid clashing with other bots in
	// the dbots guild.
	prefixAlphabetDbots = "?^&$}#~:"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Config is the full bot configuration, loaded by the cmd package via
// viper and validated once at startup.
type Config struct {
	// BotToken is the Discord bot token
	BotToken string `yaml:"bot_token" mapstructure:"bot_token" json:"bot_token" log:"[redacted]" validate:"required"`

	// ShardID identifies this shard. Single-shard deployments leave it 0.
	ShardID int `yaml:"shard_id" mapstructure:"shard_id" json:"shard_id" validate:"gte=0"`

	// DeveloperMode switches the command prefix to the fixed developer
	// prefix so a production bot and a dev bot can share a guild.
	DeveloperMode bool `yaml:"developer_mode" mapstructure:"developer_mode" json:"developer_mode"`

	// GameRotation is the cyclic list of status strings the rotator
	// task cycles through.
	GameRotation []string `yaml:"game_rotation" mapstructure:"game_rotation" json:"game_rotation"`

	// Autoload lists the cogs to load during the on-ready sequence, in order.
	Autoload []string `yaml:"autoload" mapstructure:"autoload" json:"autoload"`

	// LogChannels holds channel IDs used for relaying log output to Discord.
	LogChannels LogChannelConfig `yaml:"log_channels" mapstructure:"log_channels" json:"log_channels"`

	// Database is the connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database" validate:"required"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" validate:"oneof=sqlite postgres"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// RethinkDB configures the document-log adapter connection
	RethinkDB RethinkDBConfig `yaml:"rethinkdb" mapstructure:"rethinkdb" json:"rethinkdb"`

	// Redis configures the cooldown cache adapter connection
	Redis RedisConfig `yaml:"redis" mapstructure:"redis" json:"redis"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// DiscordGoLogLevel is the log level for the discordgo library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// ShutdownTimeout is the time to allow for a graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// LogChannelConfig names Discord channels that receive log relays.
type LogChannelConfig struct {
	// ErrorChannel receives command handler tracebacks. Optional - if
	// empty or unresolvable, tracebacks only go to the process log.
	ErrorChannel string `yaml:"error_channel" mapstructure:"error_channel" json:"error_channel"`
}

// RethinkDBConfig holds connection parameters for the document-log store.
type RethinkDBConfig struct {
	Address  string `yaml:"address" mapstructure:"address" json:"address"`
	Database string `yaml:"database" mapstructure:"database" json:"database"`
	Username string `yaml:"username" mapstructure:"username" json:"username"`
	Password string `yaml:"password" mapstructure:"password" json:"password" log:"[redacted]"`
}

// RedisConfig holds connection parameters for the cooldown cache.
type RedisConfig struct {
	Address  string `yaml:"address" mapstructure:"address" json:"address"`
	Password string `yaml:"password" mapstructure:"password" json:"password" log:"[redacted]"`
	DB       int    `yaml:"db" mapstructure:"db" json:"db"`
}

// Validate checks the configuration against its validation tags.
func (c *Config) Validate() error {
	return structValidator.Struct(c)
}

// DefaultConfig returns a Config with all default settings populated.
// The bot token is deliberately left empty - validation fails until one
// is supplied.
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		DatabaseLogLevel:      dbLogLevel,
		LogLevel:              mainLogLevel,
		DiscordGoLogLevel:     discordgoLogLevel,
		ShutdownTimeout:       DefaultShutdownTimeout,
		GameRotation:          []string{},
		Autoload:              []string{},
		RethinkDB: RethinkDBConfig{
			Address:  DefaultRethinkDBAddress,
			Database: DefaultRethinkDBName,
		},
		Redis: RedisConfig{
			Address: DefaultRedisAddress,
		},
	}
}
