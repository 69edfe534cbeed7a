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

package token

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arlenwen/pmr/internal/catalog"
	"github.com/arlenwen/pmr/internal/pmrerr"
)

func newAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	s, err := catalog.Open(filepath.Join(t.TempDir(), "processes.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestGenerateThenValidate(t *testing.T) {
	a := newAuthenticator(t)
	ctx := context.Background()

	minted, err := a.Generate(ctx, "ci", -1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if minted.Secret == "" {
		t.Fatal("expected a non-empty secret")
	}

	rec, err := a.Validate(ctx, minted.Secret)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rec.Label != "ci" {
		t.Fatalf("expected label ci, got %q", rec.Label)
	}
}

func TestValidateRejectsUnknownSecret(t *testing.T) {
	a := newAuthenticator(t)
	_, err := a.Validate(context.Background(), "not-a-real-token")
	if !pmrerr.Is(err, pmrerr.KindAuthError) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	a := newAuthenticator(t)
	ctx := context.Background()

	minted, err := a.Generate(ctx, "short-lived", time.Millisecond)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	_, err = a.Validate(ctx, minted.Secret)
	if !pmrerr.Is(err, pmrerr.KindAuthError) {
		t.Fatalf("expected AuthError for expired token, got %v", err)
	}
}

func TestRevokeByIDInvalidatesToken(t *testing.T) {
	a := newAuthenticator(t)
	ctx := context.Background()

	minted, err := a.Generate(ctx, "ci", -1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := a.RevokeByID(ctx, minted.ID); err != nil {
		t.Fatalf("RevokeByID: %v", err)
	}
	_, err = a.Validate(ctx, minted.Secret)
	if !pmrerr.Is(err, pmrerr.KindAuthError) {
		t.Fatalf("expected AuthError after revoke, got %v", err)
	}
}

func TestListNeverExposesSecretOrRawHashSurface(t *testing.T) {
	a := newAuthenticator(t)
	ctx := context.Background()
	if _, err := a.Generate(ctx, "ci", 0); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	toks, err := a.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(toks) != 1 || toks[0].Label != "ci" {
		t.Fatalf("unexpected token list: %+v", toks)
	}
	if toks[0].Hash != "" {
		t.Fatalf("expected List to omit the stored hash, got %q", toks[0].Hash)
	}
}
