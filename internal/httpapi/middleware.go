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
	"net/http"
	"strings"

	"github.com/arlenwen/pmr/internal/pmrerr"
)

// requireBearer wraps next so every request must carry a valid
// "Authorization: Bearer <token>" header, generalizing
// cmd/snellerd's (*server).getTenant bearer-token check from
// "turn a token into a db.Tenant" to "turn a token into an authorized
// request, or reject it".
func (s *Server) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			writeError(w, pmrerr.New(pmrerr.KindAuthError, "missing or malformed Authorization header"))
			return
		}
		if _, err := s.Auth.Validate(r.Context(), parts[1]); err != nil {
			writeError(w, err)
			return
		}
		next(w, r)
	}
}

// logRequest logs every request at the same granularity as
// cmd/snellerd's (*server).handle, minus the ELB-heartbeat special case
// this daemon has no need for (pmrd has no load balancer in front of it).
func (s *Server) logRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Log != nil {
			s.Log.Printf("%s %s", r.Method, r.URL.Path)
		}
		next(w, r)
	}
}
