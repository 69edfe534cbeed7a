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

// Package token implements the bearer-token authenticator for pmr's
// control-plane daemon. Raw secrets are minted with crypto/rand, handed
// to the caller exactly once, and never persisted: the catalog only ever
// stores a blake2b-256 digest, keyed for lookup the same way a
// tokens(token_string PRIMARY KEY ...) schema intends (see DESIGN.md for
// why this deviates from storing the raw string).
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/arlenwen/pmr/internal/catalog"
	"github.com/arlenwen/pmr/internal/pmrerr"
)

// secretBytes is 16 bytes (128 bits) of entropy, the minimum acceptable
// secret strength for a bearer token.
const secretBytes = 16

// Authenticator mints, validates, revokes, and lists tokens against a
// catalog.Store.
type Authenticator struct {
	store *catalog.Store
}

func New(store *catalog.Store) *Authenticator {
	return &Authenticator{store: store}
}

// Minted is returned exactly once by Generate: Secret is the raw bearer
// token the caller must present on future requests, and is never
// recoverable again once this value is discarded.
type Minted struct {
	Secret    string
	ID        string
	Label     string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

func hash(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Generate mints a new token with the given label and TTL: ttl<0 means
// the token never expires, ttl==0 mints a token already expired as of
// now, and ttl>0 sets a future expiry.
func (a *Authenticator) Generate(ctx context.Context, label string, ttl time.Duration) (*Minted, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, pmrerr.Wrap(pmrerr.KindIoError, "generate token entropy", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	var expiresAt *time.Time
	if ttl >= 0 {
		t := now.Add(ttl)
		expiresAt = &t
	}

	rec := &catalog.TokenRecord{
		ID:        uuid.NewString(),
		Hash:      hash(secret),
		Label:     label,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := a.store.InsertToken(ctx, rec); err != nil {
		return nil, err
	}

	return &Minted{
		Secret:    secret,
		ID:        rec.ID,
		Label:     rec.Label,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Validate reports whether secret corresponds to a non-expired token.
// A missing or expired token is reported as pmrerr.KindAuthError, never
// KindNotFound, so HTTP callers always see 401 rather than 404.
func (a *Authenticator) Validate(ctx context.Context, secret string) (*catalog.TokenRecord, error) {
	rec, err := a.store.GetTokenByHash(ctx, hash(secret))
	if pmrerr.Is(err, pmrerr.KindNotFound) {
		return nil, pmrerr.New(pmrerr.KindAuthError, "invalid token")
	}
	if err != nil {
		return nil, err
	}
	if rec.ExpiresAt != nil && time.Now().UTC().After(*rec.ExpiresAt) {
		return nil, pmrerr.New(pmrerr.KindAuthError, "token expired")
	}
	return rec, nil
}

// Revoke deletes the token identified by its raw secret.
func (a *Authenticator) Revoke(ctx context.Context, secret string) error {
	return a.store.DeleteTokenByHash(ctx, hash(secret))
}

// RevokeByID deletes a token by its record ID, for CLI `auth revoke`
// invocations where the operator has the ID (from `auth list`) but not
// the original secret, which is never displayed again after minting.
func (a *Authenticator) RevokeByID(ctx context.Context, id string) error {
	toks, err := a.store.ListTokens(ctx)
	if err != nil {
		return err
	}
	for _, t := range toks {
		if t.ID == id {
			return a.store.DeleteTokenByHash(ctx, t.Hash)
		}
	}
	return pmrerr.Wrap(pmrerr.KindNotFound, "token "+id, nil)
}

// List returns metadata for every minted token. Hashes are never exposed
// to callers above this package.
func (a *Authenticator) List(ctx context.Context) ([]*catalog.TokenRecord, error) {
	toks, err := a.store.ListTokens(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range toks {
		t.Hash = ""
	}
	return toks, nil
}
