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
	"errors"
	"time"

	"github.com/arlenwen/pmr/internal/pmrerr"
)

func scanToken(row interface {
	Scan(dest ...any) error
}) (*TokenRecord, error) {
	var (
		t         TokenRecord
		createdAt string
		expiresAt sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Hash, &t.Label, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	var err error
	if t.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		ts, err := time.Parse(timeLayout, expiresAt.String)
		if err != nil {
			return nil, err
		}
		t.ExpiresAt = &ts
	}
	return &t, nil
}

// InsertToken adds a new token row. The caller is responsible for ensuring
// Hash holds a digest, never the raw secret (internal/token owns that).
func (s *Store) InsertToken(ctx context.Context, t *TokenRecord) error {
	var expiresAt any
	if t.ExpiresAt != nil {
		expiresAt = t.ExpiresAt.Format(timeLayout)
	}
	return s.writeTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO tokens (id, hash, label, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?)`,
			t.ID, t.Hash, t.Label, t.CreatedAt.Format(timeLayout), expiresAt)
		if err != nil && isUniqueViolation(err) {
			return pmrerr.Wrap(pmrerr.KindAlreadyExists, "token", err)
		}
		if err != nil {
			return pmrerr.Wrap(pmrerr.KindDbError, "insert token", err)
		}
		return nil
	})
}

// GetTokenByHash looks up a token by its stored digest, or fails with a
// pmrerr.KindNotFound error.
func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*TokenRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hash, label, created_at, expires_at FROM tokens WHERE hash = ?`, hash)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pmrerr.Wrap(pmrerr.KindNotFound, "token", err)
	}
	if err != nil {
		return nil, pmrerr.Wrap(pmrerr.KindDbError, "get token", err)
	}
	return t, nil
}

// DeleteTokenByHash revokes a token.
func (s *Store) DeleteTokenByHash(ctx context.Context, hash string) error {
	return s.writeTx(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `DELETE FROM tokens WHERE hash = ?`, hash)
		if err != nil {
			return pmrerr.Wrap(pmrerr.KindDbError, "delete token", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return pmrerr.Wrap(pmrerr.KindNotFound, "token", nil)
		}
		return nil
	})
}

// ListTokens returns every token's metadata, ordered by creation time.
func (s *Store) ListTokens(ctx context.Context) ([]*TokenRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hash, label, created_at, expires_at FROM tokens ORDER BY created_at`)
	if err != nil {
		return nil, pmrerr.Wrap(pmrerr.KindDbError, "list tokens", err)
	}
	defer rows.Close()

	var out []*TokenRecord
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, pmrerr.Wrap(pmrerr.KindDbError, "scan token", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, pmrerr.Wrap(pmrerr.KindDbError, "list tokens", err)
	}
	return out, nil
}
