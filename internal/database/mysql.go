package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// MySQLOptions holds the connection and pool settings of a MySQL destination.
type MySQLOptions struct {
	Host              string
	Port              int
	Database          string
	Username          string
	Password          string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	ConnectionTimeout time.Duration
}

// DSN renders the driver connection string.
// clientFoundRows makes an UPDATE that changes nothing still report its matched row.
func (o MySQLOptions) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = o.Username
	cfg.Passwd = o.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", o.Host, o.Port)
	cfg.DBName = o.Database
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.Timeout = o.ConnectionTimeout
	return cfg.FormatDSN()
}

// OpenMySQL connects to a MySQL layer store.
func OpenMySQL(ctx context.Context, opts MySQLOptions, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("mysql", opts.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	// Test connection
	pingCtx := ctx
	if opts.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.ConnectionTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := newSQLStore(ctx, db, KindMySQL, mysqlDialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
