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

package logpipe

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/arlenwen/pmr/internal/pmrerr"
)

// pollInterval is how often Follow checks the log file for new bytes.
// A filesystem-watcher library is overkill for a single append-only file
// polled by at most one CLI invocation at a time, so this stays a plain
// poll loop, consistent with the rest of the package avoiding additional
// dependencies for file-level log handling.
const pollInterval = 200 * time.Millisecond

// Follow writes newly appended lines of the primary log file to w as they
// arrive, until ctx is canceled. It is the only cancellable operation in
// the supervisor API: every other operation runs to completion or fails
// outright. Follow tolerates the log file not
// existing yet (a process that has not produced output), and re-opens
// the primary path from the start whenever the open file has become
// smaller than the bytes already streamed (it was truncated). A file
// renamed away by rotation is not detected: Follow keeps reading it
// through the descriptor it already holds.
func Follow(ctx context.Context, dir, procName string, w io.Writer) error {
	path := filepath.Join(dir, primaryName(procName))

	var (
		f   *os.File
		pos int64
	)
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if f == nil {
			opened, err := os.Open(path)
			if os.IsNotExist(err) {
				if err := sleepOrDone(ctx, pollInterval); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return pmrerr.Wrap(pmrerr.KindIoError, "open log file", err)
			}
			f = opened
			if _, err := f.Seek(pos, io.SeekStart); err != nil {
				return pmrerr.Wrap(pmrerr.KindIoError, "seek log file", err)
			}
		}

		info, err := f.Stat()
		if err != nil {
			return pmrerr.Wrap(pmrerr.KindIoError, "stat log file", err)
		}
		if info.Size() < pos {
			// Rotation replaced the file out from under us; reopen at 0.
			f.Close()
			f = nil
			pos = 0
			continue
		}

		n, err := io.Copy(w, bufio.NewReader(f))
		if err != nil {
			return pmrerr.Wrap(pmrerr.KindIoError, "stream log file", err)
		}
		pos += n

		if err := sleepOrDone(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
