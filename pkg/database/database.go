// Package database opens the bot's SQL store: SQLite in lite mode, Postgres
// when a DATABASE_URL is configured.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax and the driver.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Driver returns the database/sql driver name.
func (d Dialect) Driver() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Rebind rewrites ? placeholders as $1..$n for Postgres. Queries must not
// contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
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

// Open connects to Postgres when url is set, otherwise to the SQLite file at
// litePath. The connection is verified with a ping.
func Open(ctx context.Context, url, litePath string) (*sql.DB, Dialect, error) {
	dialect := SQLite
	dsn := litePath
	if url != "" {
		dialect = Postgres
		dsn = url
	}
	if dsn == "" {
		dsn = "opsbot.db"
	}

	db, err := sql.Open(dialect.Driver(), dsn)
	if err != nil {
		return nil, dialect, fmt.Errorf("failed to open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dialect, fmt.Errorf("failed to connect to %s: %w", dialect, err)
	}
	return db, dialect, nil
}
