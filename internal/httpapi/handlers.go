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
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/arlenwen/pmr/internal/pmrerr"
	"github.com/arlenwen/pmr/internal/supervisor"
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Sup.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type startRequest struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Workdir string            `json:"workdir"`
	LogDir  string            `json:"log_dir"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pmrerr.Wrap(pmrerr.KindInvalidInput, "decode request body", err))
		return
	}
	rec, err := s.Sup.Start(r.Context(), supervisor.StartSpec{
		Name:    req.Name,
		Command: req.Command,
		Args:    req.Args,
		Env:     req.Env,
		Workdir: req.Workdir,
		LogDir:  req.LogDir,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	rec, err := s.Sup.Status(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.Sup.Delete(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.Sup.Stop(r.Context(), name, 0); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	rec, err := s.Sup.Restart(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type setEnvRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleSetEnv(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req setEnvRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pmrerr.Wrap(pmrerr.KindInvalidInput, "decode request body", err))
		return
	}
	rec, err := s.Sup.SetEnv(r.Context(), name, req.Key, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleClearEnv(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	rec, err := s.Sup.ClearEnv(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if r.URL.Query().Get("follow") == "true" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		fw := flushWriter{w: w, flusher: flusher}
		if err := s.Sup.LogsFollow(r.Context(), name, fw); err != nil && r.Context().Err() == nil {
			s.Log.Printf("logs follow %s: %v", name, err)
		}
		return
	}

	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			n = parsed
		}
	}
	rotated := r.URL.Query().Get("rotated") == "true"
	lines, err := s.Sup.Logs(r.Context(), name, n, rotated)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, strings.Join(lines, "\n"))
	if len(lines) > 0 {
		io.WriteString(w, "\n")
	}
}

type clearRequest struct {
	IncludeRunning bool `json:"include_running"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	includeRunning := r.URL.Query().Get("all") == "true"
	if r.Body != nil && r.ContentLength != 0 {
		var req clearRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, pmrerr.Wrap(pmrerr.KindInvalidInput, "decode request body", err))
			return
		}
		includeRunning = includeRunning || req.IncludeRunning
	}
	removed, err := s.Sup.Clear(r.Context(), includeRunning)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

// flushWriter flushes after every write so a streamed `logs --follow`
// response actually reaches the client incrementally instead of
// buffering until the handler returns.
type flushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return n, err
}
