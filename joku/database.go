package joku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	dbOperationTimeout    = 30 * time.Second
)

// Store is the relational persistence adapter. It owns the only GORM
// handle in the process; command handlers share it with no extra locking
// and rely on per-statement atomicity from the underlying database.
//
// Multi-step read-modify-write sequences across separate calls are NOT
// transactional (see DESIGN.md).
type Store interface {
	// Connect opens the database connection and applies pending
	// migrations. Calling Connect on an established store is a no-op,
	// so a gateway re-handshake doesn't reconnect.
	Connect(ctx context.Context) error

	// Connected reports whether Connect has completed successfully.
	Connected() bool

	Close() error

	// DB exposes the underlying GORM handle for queries the domain
	// methods don't cover.
	DB() *gorm.DB

	GetUserCurrency(ctx context.Context, userID string) (int, error)
	UpdateUserCurrency(ctx context.Context, userID string, delta int) error
	GetMultipleUsers(ctx context.Context, userIDs []string, orderBy string) ([]User, error)

	IsChannelIgnored(ctx context.Context, channelID string, kind string) (bool, error)
	AddIgnoreRule(ctx context.Context, guildID, channelID, kind string) error
	RemoveIgnoreRule(ctx context.Context, channelID, kind string) error

	GetTag(ctx context.Context, guildID, name string) (*Tag, error)
	SaveTag(ctx context.Context, tag *Tag) error
	DeleteTag(ctx context.Context, guildID, name string) error
	ListTags(ctx context.Context, guildID string) ([]Tag, error)

	SaveRoleState(ctx context.Context, state *RoleState) error
	GetRoleState(ctx context.Context, guildID, userID string) (*RoleState, error)
	DeleteRoleState(ctx context.Context, guildID, userID string) error
}

// database implements Store over GORM.
type database struct {
	databaseType string
	dsn          string
	db           *gorm.DB
	logger       *slog.Logger
	gormLogger   *gormStructuredLogger
	connected    atomic.Bool
}

// NewStore returns a Store for the configured database type and DSN.
// Nothing is opened until Connect.
func NewStore(config *Config, logHandler slog.Handler) Store {
	return &database{
		databaseType: config.DatabaseType,
		dsn:          config.Database,
		logger:       slog.New(logHandler).With(loggerNameKey, "database"),
		gormLogger:   newGORMLogger(logHandler, config.DatabaseSlowThreshold),
	}
}

func (d *database) Connect(ctx context.Context) error {
	if d.connected.Load() {
		return nil
	}
	d.logger.InfoContext(
		ctx,
		"connecting database",
		"database_type", d.databaseType,
		"database", d.dsn,
	)
	db, err := openGormDB(d.databaseType, d.dsn, d.gormLogger)
	if err != nil {
		return err
	}
	if err = runMigrations(db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	d.db = db
	d.connected.Store(true)
	return nil
}

func (d *database) Connected() bool {
	return d.connected.Load()
}

func (d *database) Close() error {
	if !d.connected.Load() {
		return nil
	}
	d.connected.Store(false)
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *database) DB() *gorm.DB {
	return d.db
}

// withTimeout attaches the standard operation timeout when the caller
// didn't bring a deadline of their own.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

// GetUserCurrency returns the user's balance, creating the row with the
// default starting balance the first time a user is seen.
func (d *database) GetUserCurrency(ctx context.Context, userID string) (int, error) {
	if !d.connected.Load() {
		return 0, ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	user := User{ID: userID, Money: defaultStartingMoney, Level: 1}
	err := d.db.WithContext(ctx).FirstOrCreate(&user, User{ID: userID}).Error
	return user.Money, err
}

// UpdateUserCurrency applies delta as a single atomic UPDATE.
func (d *database) UpdateUserCurrency(
	ctx context.Context,
	userID string,
	delta int,
) error {
	if !d.connected.Load() {
		return ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// Row must exist before the increment lands anywhere.
	user := User{ID: userID, Money: defaultStartingMoney, Level: 1}
	if err := d.db.WithContext(ctx).FirstOrCreate(&user, User{ID: userID}).Error; err != nil {
		return err
	}
	return d.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).
		Update(columnUserMoney, gorm.Expr("money + ?", delta)).Error
}

func (d *database) GetMultipleUsers(
	ctx context.Context,
	userIDs []string,
	orderBy string,
) ([]User, error) {
	if !d.connected.Load() {
		return nil, ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var users []User
	q := d.db.WithContext(ctx).Where("id IN ?", userIDs)
	if orderBy != "" {
		q = q.Order(orderBy)
	}
	err := q.Find(&users).Error
	return users, err
}

func (d *database) IsChannelIgnored(
	ctx context.Context,
	channelID string,
	kind string,
) (bool, error) {
	if !d.connected.Load() {
		return false, ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var count int64
	err := d.db.WithContext(ctx).Model(&IgnoreRule{}).
		Where("channel_id = ? AND kind = ?", channelID, kind).
		Count(&count).Error
	return count > 0, err
}

func (d *database) AddIgnoreRule(
	ctx context.Context,
	guildID, channelID, kind string,
) error {
	if !d.connected.Load() {
		return ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rule := IgnoreRule{GuildID: guildID, ChannelID: channelID, Kind: kind}
	return d.db.WithContext(ctx).
		FirstOrCreate(&rule, IgnoreRule{ChannelID: channelID, Kind: kind}).Error
}

func (d *database) RemoveIgnoreRule(
	ctx context.Context,
	channelID, kind string,
) error {
	if !d.connected.Load() {
		return ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return d.db.WithContext(ctx).
		Where("channel_id = ? AND kind = ?", channelID, kind).
		Delete(&IgnoreRule{}).Error
}

// GetTag resolves a tag by name: guild-scoped first, then global.
func (d *database) GetTag(
	ctx context.Context,
	guildID, name string,
) (*Tag, error) {
	if !d.connected.Load() {
		return nil, ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var tag Tag
	err := d.db.WithContext(ctx).
		Where("name = ? AND (guild_id = ? OR global = ?)", name, guildID, true).
		Order("global asc").
		First(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func (d *database) SaveTag(ctx context.Context, tag *Tag) error {
	if !d.connected.Load() {
		return ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return d.db.WithContext(ctx).Save(tag).Error
}

func (d *database) DeleteTag(ctx context.Context, guildID, name string) error {
	if !d.connected.Load() {
		return ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return d.db.WithContext(ctx).
		Where("guild_id = ? AND name = ?", guildID, name).
		Delete(&Tag{}).Error
}

func (d *database) ListTags(ctx context.Context, guildID string) ([]Tag, error) {
	if !d.connected.Load() {
		return nil, ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var tags []Tag
	err := d.db.WithContext(ctx).
		Where("guild_id = ? OR global = ?", guildID, true).
		Order("name asc").
		Find(&tags).Error
	return tags, err
}

// SaveRoleState upserts the snapshot for (guild, user).
func (d *database) SaveRoleState(ctx context.Context, state *RoleState) error {
	if !d.connected.Load() {
		return ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var existing RoleState
	err := d.db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", state.GuildID, state.UserID).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return d.db.WithContext(ctx).Create(state).Error
	case err != nil:
		return err
	default:
		state.ID = existing.ID
		return d.db.WithContext(ctx).Save(state).Error
	}
}

func (d *database) GetRoleState(
	ctx context.Context,
	guildID, userID string,
) (*RoleState, error) {
	if !d.connected.Load() {
		return nil, ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var state RoleState
	err := d.db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (d *database) DeleteRoleState(
	ctx context.Context,
	guildID, userID string,
) error {
	if !d.connected.Load() {
		return ErrStoreNotConnected
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return d.db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Delete(&RoleState{}).Error
}

// openGormDB initializes a GORM connection for the given database type.
func openGormDB(
	databaseType string,
	dsn string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(dsn)
		if parentDir != "" && parentDir != "." {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		db, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		return db, nil
	case dbTypePostgres:
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
