package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

//go:embed migrations
var migrationsFS embed.FS

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

type DB struct {
	db      *sql.DB
	dialect dialect
	dsn     string

	mu             sync.Mutex
	nextListenerID uint64
	eventListeners map[EventKind][]listenerEntry
}

// Open picks a backend from target: postgres:// and postgresql:// URLs use
// Postgres, anything else is treated as a SQLite path.
func Open(target string) (*DB, error) {
	if strings.HasPrefix(target, "postgres://") || strings.HasPrefix(target, "postgresql://") {
		return NewPostgresDB(target)
	}
	return NewSQLiteDB(target)
}

func NewSQLiteDB(path string) (*DB, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&_foreign_keys=on"
	} else {
		dsn += "?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	return newDB(db, dialectSQLite, dsn), nil
}

func NewPostgresDB(url string) (*DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newDB(db, dialectPostgres, url), nil
}

func newDB(db *sql.DB, d dialect, dsn string) *DB {
	return &DB{
		db:             db,
		dialect:        d,
		dsn:            dsn,
		eventListeners: make(map[EventKind][]listenerEntry),
	}
}

// Migrate applies every pending up migration for the active backend.
func (db *DB) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations/"+string(db.dialect))
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	var m *migrate.Migrate
	switch db.dialect {
	case dialectSQLite:
		// The driver shares db.db, so m is never closed here.
		drv, err := sqlite3.WithInstance(db.db, &sqlite3.Config{})
		if err != nil {
			return fmt.Errorf("failed to create migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite3", drv)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
	case dialectPostgres:
		m, err = migrate.NewWithSourceInstance("iofs", src, db.dsn)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
		defer func() {
			if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
				log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("failed to close migrator")
			}
		}()
	default:
		return fmt.Errorf("unsupported database dialect %q", db.dialect)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug().Str("dialect", string(db.dialect)).Msg("database schema up to date")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, _, _ := m.Version()
	log.Info().Str("dialect", string(db.dialect)).Uint("version", version).Msg("migrations applied")
	return nil
}

// Ping checks that the database is reachable.
func (db *DB) Ping() error {
	return db.db.Ping()
}

func (db *DB) Close() error {
	return db.db.Close()
}

// rebind rewrites ? placeholders into $n for Postgres.
func (db *DB) rebind(query string) string {
	if db.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
