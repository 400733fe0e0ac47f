package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/expense-approval/internal"
	expenseDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/expense"
	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/expense/memory"
	"github.com/frahmantamala/expense-approval/internal/expense/postgres"
	_ "github.com/jackc/pgx/v5/stdlib"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// requestStore is an expense.Store that can also report liveness for the
// readiness probe.
type requestStore interface {
	expense.Store
	PingContext(ctx context.Context) error
}

// openStore builds the configured store. The returned close func releases
// the connection pool, if any.
func openStore(cfg *internal.Config, lg *slog.Logger) (requestStore, func() error, error) {
	switch cfg.Database.Driver {
	case internal.DatabaseDriverMemory:
		lg.Warn("using in-memory request store; data is lost on exit and not shared between processes")
		return memory.NewStore(), func() error { return nil }, nil
	case internal.DatabaseDriverPostgres, internal.DatabaseDriverSQLite:
		open := initDB
		if cfg.Database.Driver == internal.DatabaseDriverSQLite {
			open = openSQLite
		}
		db, err := open(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		store, err := postgres.NewStore(db,
			postgres.WithPollInterval(cfg.Workflow.StreamPollInterval),
			postgres.WithBatchSize(cfg.Workflow.StreamBatchSize),
			postgres.WithLogger(lg))
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return store, sqlDB.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
}

// initDB opens the gorm connection and applies pool settings.
func initDB(cfg internal.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(pgdriver.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// openSQLite opens a single-file database and creates the schema in place,
// for single-node deployments without Postgres.
func openSQLite(cfg internal.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&expenseDatamodel.ExpenseRequest{}, &expenseDatamodel.ExpenseRequestChange{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return db, nil
}
