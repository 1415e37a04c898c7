package rencontre

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix millisecond timestamps
// for creation and update.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// ModelUserID is an embeddable primary key for records keyed by a
// discord user ID
type ModelUserID struct {
	UserID string `gorm:"primaryKey;size:32" json:"user_id"`
}

// allModels lists every table to migrate
func allModels() []any {
	return []any{
		&Profile{},
		&PublicationRef{},
		&RosterEntry{},
		&Like{},
		&Ban{},
		&Owner{},
		&Setting{},
		&SpeedEventRecord{},
	}
}

// DBI wraps write operations on the database. When using SQLite, writes
// are serialized with a mutex.
// [database] implements this interface for 'real' DB operations.
type DBI interface {
	DB() *gorm.DB
	Lock()
	Unlock()
	Create(ctx context.Context, value any) (rowsAffected int64, err error)
	Save(ctx context.Context, value any) (rowsAffected int64, err error)
	Delete(ctx context.Context, value any, conds ...any) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) error
}

// database implements [DBI] over a gorm connection
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewDatabase wraps the given connection. Unless enableConcurrentWrites
// is set, write operations hold a mutex for their duration.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Lock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *database) Unlock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Unlock()
}

func (d *database) Create(ctx context.Context, value any) (int64, error) {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	rv := d.db.WithContext(ctx).Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Save(ctx context.Context, value any) (int64, error) {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	rv := d.db.WithContext(ctx).Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(ctx context.Context, value any, conds ...any) (int64, error) {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	rv := d.db.WithContext(ctx).Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) error {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	err := d.db.WithContext(ctx).Transaction(fc, opts...)
	if err != nil {
		d.logger.ErrorContext(ctx, "transaction failed", "error", err)
	}
	return err
}

// CreateDB opens the database and migrates all models. It's used by
// the `init` command, outside the normal bot lifecycle.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := newLogHandler(defaultLogWriter, slog.LevelWarn)
	dbLogger := slog.New(handler).With(loggerNameKey, "database")
	dbLogger.InfoContext(
		ctx,
		"initializing database",
		"database_type", databaseType,
		"database", database,
	)
	return openDatabase(ctx, databaseType, database, newGORMLogger(handler, 500*time.Millisecond))
}

// openDatabase connects, applies SQLite tuning and runs migrations
// in a transaction
func openDatabase(
	ctx context.Context,
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if databaseType == dbTypeSQLite {
		sqlDB, sqlErr := db.DB()
		if sqlErr != nil {
			return nil, fmt.Errorf("error getting database connection: %w", sqlErr)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return nil, pragmaErr
		}
	}

	err = db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			return tx.Migrator().AutoMigrate(allModels()...)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}
	return db, nil
}

// getDB initializes and returns a GORM database connection based on the
// specified database type ('sqlite' or 'postgres').
func getDB(
	databaseType string,
	database string,
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
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0o755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), cfg)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), cfg)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
