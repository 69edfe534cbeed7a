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

package supervisor

import (
	"context"
	"io"

	"github.com/arlenwen/pmr/internal/logpipe"
)

// Logs returns the last n lines of a process's log. When rotated is true
// the rotated segments are concatenated ahead of the primary log file
// rather than just the primary log file alone.
func (s *Supervisor) Logs(ctx context.Context, name string, n int, rotated bool) ([]string, error) {
	rec, err := s.Store.GetProcess(ctx, name)
	if err != nil {
		return nil, err
	}
	if rotated {
		return logpipe.TailAll(rec.LogDir, rec.Name, n)
	}
	return logpipe.Tail(rec.LogDir, rec.Name, n)
}

// LogsFollow streams newly appended lines to w until ctx is canceled. It
// is the only cancellable operation in the supervisor API.
func (s *Supervisor) LogsFollow(ctx context.Context, name string, w io.Writer) error {
	rec, err := s.Store.GetProcess(ctx, name)
	if err != nil {
		return err
	}
	return logpipe.Follow(ctx, rec.LogDir, rec.Name, w)
}

// LogsRotate forces the rotation chain regardless of current size.
func (s *Supervisor) LogsRotate(ctx context.Context, name string) error {
	rec, err := s.Store.GetProcess(ctx, name)
	if err != nil {
		return err
	}
	return logpipe.Rotate(rec.LogDir, rec.Name, s.logPolicy())
}
