package joku

import (
	"log/slog"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// migrations is the linear, reversible migration history. New entries go
// at the end only - IDs are ordered and already-applied entries must
// never change.
func migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "202408010001_initial_schema",
			Migrate: func(tx *gorm.DB) error {
				return tx.Migrator().CreateTable(
					&User{},
					&UserInventoryItem{},
					&Guild{},
					&Tag{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					&Tag{},
					&Guild{},
					&UserInventoryItem{},
					&User{},
				)
			},
		},
		{
			ID: "202408010002_user_colours",
			Migrate: func(tx *gorm.DB) error {
				return tx.Migrator().CreateTable(&UserColour{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&UserColour{})
			},
		},
		{
			ID: "202408010003_rolestates",
			Migrate: func(tx *gorm.DB) error {
				return tx.Migrator().CreateTable(&RoleState{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&RoleState{})
			},
		},
		{
			ID: "202408010004_settings",
			Migrate: func(tx *gorm.DB) error {
				return tx.Migrator().CreateTable(&Setting{}, &EventSetting{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&EventSetting{}, &Setting{})
			},
		},
		{
			ID: "202408010005_ignore_rules",
			Migrate: func(tx *gorm.DB) error {
				return tx.Migrator().CreateTable(&IgnoreRule{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&IgnoreRule{})
			},
		},
	}
}

func newMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	return gormigrate.New(db, gormigrate.DefaultOptions, migrations())
}

// runMigrations applies all pending forward migrations.
func runMigrations(db *gorm.DB) error {
	return newMigrator(db).Migrate()
}

// rollbackLastMigration reverses the most recently applied migration.
func rollbackLastMigration(db *gorm.DB) error {
	return newMigrator(db).RollbackLast()
}

// openConfiguredDB opens the database named by config, without touching
// the migration state.
func openConfiguredDB(config *Config) (*gorm.DB, func() error, error) {
	gormLogger := newGORMLogger(
		newLogHandler(config.DatabaseLogLevel),
		config.DatabaseSlowThreshold,
	)
	db, err := openGormDB(config.DatabaseType, config.Database, gormLogger)
	if err != nil {
		return nil, nil, err
	}
	closer := func() error {
		sqlDB, e := db.DB()
		if e != nil {
			return e
		}
		return sqlDB.Close()
	}
	return db, closer, nil
}

// MigrateUp applies all pending migrations to the configured database
// and closes it again. Used by the migrate subcommand; the bot itself
// migrates on Store.Connect.
func MigrateUp(config *Config) error {
	db, closeDB, err := openConfiguredDB(config)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeDB()
	}()
	return runMigrations(db)
}

// MigrateDown rolls back the most recently applied migration.
func MigrateDown(config *Config) error {
	db, closeDB, err := openConfiguredDB(config)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeDB()
	}()
	slog.Warn(
		"rolling back last migration",
		"database_type", config.DatabaseType,
		"database", config.Database,
	)
	return rollbackLastMigration(db)
}
