// Copyright 2019 Aporeto Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	_ "modernc.org/sqlite" // sqlite driver
)

var sqlOpen = sql.Open

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `toml:"host"`
	Port            string        `toml:"port"`
	User            string        `toml:"user"`
	Password        string        `toml:"password"`
	Name            string        `toml:"name"`
	SSLMode         string        `toml:"sslmode"`
	MaxOpenConns    int           `toml:"max-open-conns"`
	MaxIdleConns    int           `toml:"max-idle-conns"`
	ConnMaxLifetime time.Duration `toml:"conn-max-lifetime"`
}

// DSN returns the postgres connection string.
func (c DatabaseConfig) DSN() (string, error) {

	if c.Host == "" || c.Port == "" || c.User == "" || c.Name == "" {
		return "", fmt.Errorf("invalid database config: host, port, user and name are required")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   c.Name,
	}

	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}

	if c.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// OpenPostgres opens an instrumented connection pool to PostgreSQL
// and verifies the connectivity.
func OpenPostgres(ctx context.Context, c DatabaseConfig) (*sql.DB, error) {

	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}

	driverName, err := otelsql.Register("pgx",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to register otelsql: %w", err)
	}

	db, err := sqlOpen(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pctx); err != nil {
		db.Close() // nolint: errcheck
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// OpenSQLite opens the SQLite database at the given path in WAL mode.
func OpenSQLite(path string) (*sql.DB, error) {

	db, err := sqlOpen("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}

	// sqlite only supports one writer.
	db.SetMaxOpenConns(1)

	return db, nil
}

// CreateTables creates the declared tables if they do not exist.
// Columns are created untyped, which only SQLite accepts.
func (s *SQLStore) CreateTables(ctx context.Context) error {

	if s.dialect.Name != SQLite.Name {
		return fmt.Errorf("automatic table creation is only supported with sqlite")
	}

	for _, t := range s.tables {

		b := s.newBuilder().write("CREATE TABLE IF NOT EXISTS ", quote(t.Name), " (")
		for i, c := range t.columns() {
			if i > 0 {
				b.write(", ")
			}
			b.write(quote(c))
			if c == t.primaryKey() {
				b.write(" PRIMARY KEY")
			}
		}
		b.write(")")

		if _, err := s.db.ExecContext(ctx, b.String()); err != nil {
			return fmt.Errorf("unable to create table %s: %w", t.Name, err)
		}
	}

	return nil
}
