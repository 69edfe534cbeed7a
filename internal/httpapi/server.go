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

// Package httpapi is pmr's control-plane daemon: a single-port HTTP
// server exposing the supervisor operations over a Bearer-token-
// authenticated REST surface. Server holds a logger, a net/http.Server
// field, and Serve/Shutdown methods driven by a signal-handling loop in
// cmd/pmr/serve.go.
package httpapi

import (
	"context"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arlenwen/pmr/internal/supervisor"
	"github.com/arlenwen/pmr/internal/token"
)

// ReservedDaemonName is the process name pmrd registers itself under in
// the catalog, so that a second `pmr serve` invocation fails with
// pmrerr.ErrAlreadyRunning instead of silently binding a second listener:
// the daemon is itself a supervised entry under a reserved name.
const ReservedDaemonName = "__pmrd__"

// Server is pmr's HTTP control plane.
type Server struct {
	Sup  *supervisor.Supervisor
	Auth *token.Authenticator
	Log  *log.Logger

	srv http.Server
}

// Handler builds the full routed, authenticated request handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.logRequest(s.handleHealthz)).Methods(http.MethodGet)

	r.HandleFunc("/api/processes", s.logRequest(s.requireBearer(s.handleList))).Methods(http.MethodGet)
	r.HandleFunc("/api/processes", s.logRequest(s.requireBearer(s.handleStart))).Methods(http.MethodPost)
	// The literal /clear route must be registered ahead of the
	// parameterized {name} routes below so gorilla/mux's first-match
	// ordering picks it instead of treating "clear" as a process name.
	r.HandleFunc("/api/processes/clear", s.logRequest(s.requireBearer(s.handleClear))).Methods(http.MethodPost)
	r.HandleFunc("/api/processes/{name}", s.logRequest(s.requireBearer(s.handleStatus))).Methods(http.MethodGet)
	r.HandleFunc("/api/processes/{name}", s.logRequest(s.requireBearer(s.handleDelete))).Methods(http.MethodDelete)
	r.HandleFunc("/api/processes/{name}/stop", s.logRequest(s.requireBearer(s.handleStop))).Methods(http.MethodPut)
	r.HandleFunc("/api/processes/{name}/restart", s.logRequest(s.requireBearer(s.handleRestart))).Methods(http.MethodPut)
	r.HandleFunc("/api/processes/{name}/env", s.logRequest(s.requireBearer(s.handleSetEnv))).Methods(http.MethodPut)
	r.HandleFunc("/api/processes/{name}/clear", s.logRequest(s.requireBearer(s.handleClearEnv))).Methods(http.MethodPost)
	r.HandleFunc("/api/processes/{name}/logs", s.logRequest(s.requireBearer(s.handleLogs))).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Serve binds the router to ln and blocks until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.srv.Handler = s.Handler()
	return s.srv.Serve(ln)
}

// Shutdown gracefully stops the server, letting in-flight requests drain
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
