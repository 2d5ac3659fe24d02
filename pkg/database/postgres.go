package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config holds database connection configuration.
type Config struct {
	URL string
	// Schema becomes the search_path of every connection, ahead of public
	// where extension types usually live. Empty keeps the server default.
	Schema          string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// extensionTypes are registered on every connection when the database has
// them installed, so their values decode to pgtype values instead of text.
var extensionTypes = []string{"hstore"}

// NewConnection creates a new database connection pool.
func NewConnection(ctx context.Context, cfg *Config, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 25
	}
	poolConfig.MinConns = cfg.MinConnections

	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}

	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = time.Minute * 30
	}

	if path := SearchPath(cfg.Schema); path != "" {
		poolConfig.ConnConfig.RuntimeParams["search_path"] = path
	}

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerExtensionTypes(ctx, conn, logger)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// SearchPath returns the search_path that resolves unqualified table names
// in schema first.
func SearchPath(schema string) string {
	switch schema {
	case "":
		return ""
	case "public":
		return "public"
	}
	return pgx.Identifier{schema}.Sanitize() + ", public"
}

func registerExtensionTypes(ctx context.Context, conn *pgx.Conn, logger *zap.Logger) error {
	for _, name := range extensionTypes {
		var installed bool
		err := conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_type WHERE typname = $1)", name).Scan(&installed)
		if err != nil {
			return fmt.Errorf("failed to look up type %s: %w", name, err)
		}
		if !installed {
			logger.Debug("Extension type not installed", zap.String("type", name))
			continue
		}

		t, err := conn.LoadType(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to load type %s: %w", name, err)
		}
		conn.TypeMap().RegisterType(t)
	}
	return nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
