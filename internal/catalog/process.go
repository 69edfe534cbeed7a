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

package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/arlenwen/pmr/internal/pmrerr"
)

const timeLayout = time.RFC3339Nano

func encodeArgs(args []string) (string, error) {
	b, err := json.Marshal(args)
	return string(b), err
}

func decodeArgs(s string) ([]string, error) {
	var args []string
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func encodeEnv(env map[string]string) (string, error) {
	b, err := json.Marshal(env)
	return string(b), err
}

func decodeEnv(s string) (map[string]string, error) {
	env := map[string]string{}
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, err
	}
	return env, nil
}

func scanProcess(row interface {
	Scan(dest ...any) error
}) (*ProcessRecord, error) {
	var (
		r                    ProcessRecord
		argsJSON, envJSON    string
		createdAt, updatedAt string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Command, &argsJSON, &envJSON, &r.Workdir,
		&r.LogDir, &r.PID, &r.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if r.Args, err = decodeArgs(argsJSON); err != nil {
		return nil, err
	}
	if r.Env, err = decodeEnv(envJSON); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertProcess adds a new record. It fails with a pmrerr.KindAlreadyExists
// error if the name is already taken: name is a unique key.
func (s *Store) InsertProcess(ctx context.Context, r *ProcessRecord) error {
	argsJSON, err := encodeArgs(r.Args)
	if err != nil {
		return pmrerr.Wrap(pmrerr.KindIoError, "encode args", err)
	}
	envJSON, err := encodeEnv(r.Env)
	if err != nil {
		return pmrerr.Wrap(pmrerr.KindIoError, "encode env", err)
	}

	return s.writeTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO processes (id, name, command, args, env, workdir, log_dir, pid, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.Command, argsJSON, envJSON, r.Workdir, r.LogDir, r.PID, string(r.Status),
			r.CreatedAt.Format(timeLayout), r.UpdatedAt.Format(timeLayout))
		if err != nil && isUniqueViolation(err) {
			return pmrerr.Wrap(pmrerr.KindAlreadyExists, "process "+r.Name, err)
		}
		if err != nil {
			return pmrerr.Wrap(pmrerr.KindDbError, "insert process", err)
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetProcess fetches a record by name, or fails with a pmrerr.KindNotFound error.
func (s *Store) GetProcess(ctx context.Context, name string) (*ProcessRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, command, args, env, workdir, log_dir, pid, status, created_at, updated_at
		FROM processes WHERE name = ?`, name)
	r, err := scanProcess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pmrerr.Wrap(pmrerr.KindNotFound, "process "+name, err)
	}
	if err != nil {
		return nil, pmrerr.Wrap(pmrerr.KindDbError, "get process", err)
	}
	return r, nil
}

// UpdateProcess performs a transactional read-modify-write: it fetches the
// current row under the write lock, applies mutate, and persists the
// result in the same transaction. This is the only mutation path that
// guarantees no lost update under concurrent callers, since the read and
// the write share one BEGIN IMMEDIATE transaction.
func (s *Store) UpdateProcess(ctx context.Context, name string, mutate func(*ProcessRecord) error) (*ProcessRecord, error) {
	var result *ProcessRecord
	err := s.writeTx(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `
			SELECT id, name, command, args, env, workdir, log_dir, pid, status, created_at, updated_at
			FROM processes WHERE name = ?`, name)
		r, err := scanProcess(row)
		if errors.Is(err, sql.ErrNoRows) {
			return pmrerr.Wrap(pmrerr.KindNotFound, "process "+name, err)
		}
		if err != nil {
			return pmrerr.Wrap(pmrerr.KindDbError, "get process for update", err)
		}

		if err := mutate(r); err != nil {
			return err
		}
		r.UpdatedAt = timeNow()

		argsJSON, err := encodeArgs(r.Args)
		if err != nil {
			return pmrerr.Wrap(pmrerr.KindIoError, "encode args", err)
		}
		envJSON, err := encodeEnv(r.Env)
		if err != nil {
			return pmrerr.Wrap(pmrerr.KindIoError, "encode env", err)
		}

		_, err = conn.ExecContext(ctx, `
			UPDATE processes SET command=?, args=?, env=?, workdir=?, log_dir=?, pid=?, status=?, updated_at=?
			WHERE name = ?`,
			r.Command, argsJSON, envJSON, r.Workdir, r.LogDir, r.PID, string(r.Status),
			r.UpdatedAt.Format(timeLayout), name)
		if err != nil {
			return pmrerr.Wrap(pmrerr.KindDbError, "update process", err)
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteProcess removes a record by name.
func (s *Store) DeleteProcess(ctx context.Context, name string) error {
	return s.writeTx(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `DELETE FROM processes WHERE name = ?`, name)
		if err != nil {
			return pmrerr.Wrap(pmrerr.KindDbError, "delete process", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return pmrerr.Wrap(pmrerr.KindNotFound, "process "+name, nil)
		}
		return nil
	})
}

// ListProcesses returns every record, ordered by name. Reads take no
// exclusive lock and may interleave with concurrent writers; callers get a
// per-record-consistent snapshot with no cross-record ordering guarantee.
func (s *Store) ListProcesses(ctx context.Context) ([]*ProcessRecord, error) {
	return s.queryProcesses(ctx, `
		SELECT id, name, command, args, env, workdir, log_dir, pid, status, created_at, updated_at
		FROM processes ORDER BY name`)
}

// ListProcessesByStatus returns every record whose status is one of statuses.
func (s *Store) ListProcessesByStatus(ctx context.Context, statuses ...Status) ([]*ProcessRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	query := `
		SELECT id, name, command, args, env, workdir, log_dir, pid, status, created_at, updated_at
		FROM processes WHERE status IN (` + placeholders + `) ORDER BY name`
	return s.queryProcesses(ctx, query, args...)
}

func (s *Store) queryProcesses(ctx context.Context, query string, args ...any) ([]*ProcessRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pmrerr.Wrap(pmrerr.KindDbError, "list processes", err)
	}
	defer rows.Close()

	var out []*ProcessRecord
	for rows.Next() {
		r, err := scanProcess(rows)
		if err != nil {
			return nil, pmrerr.Wrap(pmrerr.KindDbError, "scan process", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, pmrerr.Wrap(pmrerr.KindDbError, "list processes", err)
	}
	return out, nil
}

// timeNow is a var so tests can pin it.
var timeNow = time.Now
