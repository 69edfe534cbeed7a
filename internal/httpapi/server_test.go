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

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/arlenwen/pmr/internal/catalog"
	"github.com/arlenwen/pmr/internal/pmrpath"
	"github.com/arlenwen/pmr/internal/supervisor"
	"github.com/arlenwen/pmr/internal/token"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	layout, err := pmrpath.New(filepath.Join(root, ".pmr"))
	if err != nil {
		t.Fatalf("pmrpath.New: %v", err)
	}
	store, err := catalog.Open(layout.DBFile)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	auth := token.New(store)
	minted, err := auth.Generate(context.Background(), "test", -1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	return &Server{
		Sup:  &supervisor.Supervisor{Store: store, Layout: layout},
		Auth: auth,
	}, minted.Secret
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestListProcessesRequiresBearerToken(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/processes")
	if err != nil {
		t.Fatalf("GET /api/processes: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}
}

func TestStartListAndStopViaHTTP(t *testing.T) {
	s, secret := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(startRequest{
		Name:    "web",
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 5"},
		Workdir: t.TempDir(),
	})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/processes", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+secret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/processes: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	defer s.Sup.Stop(context.Background(), "web", 0)

	listReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/processes", nil)
	listReq.Header.Set("Authorization", "Bearer "+secret)
	listResp, err := http.DefaultClient.Do(listReq)
	if err != nil {
		t.Fatalf("GET /api/processes: %v", err)
	}
	defer listResp.Body.Close()
	var recs []struct {
		Name   string `json:"Name"`
		Status string `json:"Status"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&recs); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(recs) != 1 || recs[0].Name != "web" {
		t.Fatalf("expected exactly one process named web, got %+v", recs)
	}

	stopReq, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/processes/web/stop", nil)
	stopReq.Header.Set("Authorization", "Bearer "+secret)
	stopResp, err := http.DefaultClient.Do(stopReq)
	if err != nil {
		t.Fatalf("PUT .../stop: %v", err)
	}
	stopResp.Body.Close()
	if stopResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", stopResp.StatusCode)
	}

	clearReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/processes/clear", nil)
	clearReq.Header.Set("Authorization", "Bearer "+secret)
	clearResp, err := http.DefaultClient.Do(clearReq)
	if err != nil {
		t.Fatalf("POST .../clear: %v", err)
	}
	defer clearResp.Body.Close()
	if clearResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", clearResp.StatusCode)
	}
	var removed []string
	if err := json.NewDecoder(clearResp.Body).Decode(&removed); err != nil {
		t.Fatalf("decode clear response: %v", err)
	}
	if len(removed) != 1 || removed[0] != "web" {
		t.Fatalf("expected web to be cleared, got %+v", removed)
	}
}

func TestStartThenDecodeErrorIsBadRequest(t *testing.T) {
	s, secret := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/processes", bytes.NewReader([]byte("not json")))
	req.Header.Set("Authorization", "Bearer "+secret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/processes: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed body, got %d", resp.StatusCode)
	}
}
