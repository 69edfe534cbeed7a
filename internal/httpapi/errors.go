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
	"net/http"

	"github.com/arlenwen/pmr/internal/pmrerr"
)

// errorEnvelope is the JSON body written for every non-2xx response.
type errorEnvelope struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusFor maps a pmrerr.Kind to its HTTP status code.
func statusFor(kind pmrerr.Kind) int {
	switch kind {
	case pmrerr.KindInvalidInput:
		return http.StatusBadRequest
	case pmrerr.KindNotFound:
		return http.StatusNotFound
	case pmrerr.KindAlreadyExists, pmrerr.KindStateConflict:
		return http.StatusConflict
	case pmrerr.KindAuthError:
		return http.StatusUnauthorized
	case pmrerr.KindTimeout:
		return http.StatusGatewayTimeout
	case pmrerr.KindSpawnError, pmrerr.KindIoError, pmrerr.KindDbError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := pmrerr.KindOf(err)
	var env errorEnvelope
	env.Error.Kind = kind.String()
	env.Error.Message = err.Error()
	writeJSON(w, statusFor(kind), env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
