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

// Package logpipe owns a process's primary log file and its rotation.
// Size-triggered rotation is checked only at the moments a process's log
// file is (re)opened — start and restart. The explicit manual Rotate call
// wired to the CLI's `logs --rotate` renames the primary file whether or
// not a running child still holds it open; such a child keeps writing to
// the renamed segment until it is restarted (see DESIGN.md, "Open
// Question resolution").
package logpipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/arlenwen/pmr/internal/pmrerr"
)

const (
	// DefaultMaxSize is the rotation threshold if a process does not
	// override it.
	DefaultMaxSize = 10 * 1024 * 1024
	// DefaultKeepCount is how many rotated segments are retained beyond
	// the primary log file.
	DefaultKeepCount = 5
)

// Policy configures rotation thresholds for a single process's log.
type Policy struct {
	MaxSize   int64
	KeepCount int
}

// DefaultPolicy returns the built-in rotation defaults.
func DefaultPolicy() Policy {
	return Policy{MaxSize: DefaultMaxSize, KeepCount: DefaultKeepCount}
}

// primaryName is the name of the always-current log file for a process.
func primaryName(procName string) string {
	return procName + ".log"
}

func segmentName(procName string, n int) string {
	return fmt.Sprintf("%s.%d.log", procName, n)
}

// Open ensures the rotation chain is within policy, then opens (creating
// if absent) the primary log file for append and returns it. This is the
// only entry point that performs size-triggered rotation (Rotate rotates
// unconditionally); callers invoke it once per start/restart.
func Open(dir, procName string, p Policy) (*os.File, error) {
	if err := rotateIfNeeded(dir, procName, p); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, primaryName(procName))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, pmrerr.Wrap(pmrerr.KindIoError, "open log file", err)
	}
	return f, nil
}

// Rotate forces the rename chain regardless of current size, for the
// explicit manual `logs --rotate` operation.
func Rotate(dir, procName string, p Policy) error {
	return rotate(dir, procName, p)
}

func rotateIfNeeded(dir, procName string, p Policy) error {
	path := filepath.Join(dir, primaryName(procName))
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return pmrerr.Wrap(pmrerr.KindIoError, "stat log file", err)
	}
	if info.Size() < p.MaxSize {
		return nil
	}
	return rotate(dir, procName, p)
}

// rotate shifts name.log -> name.1.log -> name.2.log -> ... discarding
// anything beyond KeepCount, then leaves the primary name free for the
// next Open to recreate.
func rotate(dir, procName string, p Policy) error {
	if p.KeepCount <= 0 {
		// Nothing retained: just drop the current primary log.
		path := filepath.Join(dir, primaryName(procName))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return pmrerr.Wrap(pmrerr.KindIoError, "discard log file", err)
		}
		return nil
	}

	oldest := filepath.Join(dir, segmentName(procName, p.KeepCount))
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return pmrerr.Wrap(pmrerr.KindIoError, "discard oldest log segment", err)
	}

	for n := p.KeepCount - 1; n >= 1; n-- {
		from := filepath.Join(dir, segmentName(procName, n))
		to := filepath.Join(dir, segmentName(procName, n+1))
		if err := renameIfExists(from, to); err != nil {
			return err
		}
	}

	primary := filepath.Join(dir, primaryName(procName))
	first := filepath.Join(dir, segmentName(procName, 1))
	return renameIfExists(primary, first)
}

func renameIfExists(from, to string) error {
	if _, err := os.Stat(from); os.IsNotExist(err) {
		return nil
	}
	if err := os.Rename(from, to); err != nil {
		return pmrerr.Wrap(pmrerr.KindIoError, fmt.Sprintf("rotate %s -> %s", from, to), err)
	}
	return nil
}

// Tail returns the last n lines of the primary log file, used by the
// `logs` operation (non-follow mode). A missing file yields an empty
// slice rather than an error: a process that has never produced output
// yet is not a fault.
func Tail(dir, procName string, n int) ([]string, error) {
	path := filepath.Join(dir, primaryName(procName))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pmrerr.Wrap(pmrerr.KindIoError, "read log file", err)
	}
	lines := splitLines(data)
	if n <= 0 || n >= len(lines) {
		return lines, nil
	}
	return lines[len(lines)-n:], nil
}

// TailAll returns the last n lines of the concatenation of every rotated
// segment (oldest first) followed by the primary log file, used by the
// `logs --rotated` operation. Segments are discovered on disk rather than
// assumed from a configured KeepCount, since a process's retention policy
// may have changed since the segments were written.
func TailAll(dir, procName string, n int) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, procName+".*.log"))
	if err != nil {
		return nil, pmrerr.Wrap(pmrerr.KindIoError, "glob log segments", err)
	}
	segs := make([]int, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		rest := strings.TrimPrefix(base, procName+".")
		rest = strings.TrimSuffix(rest, ".log")
		if idx, err := strconv.Atoi(rest); err == nil {
			segs = append(segs, idx)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(segs)))

	var lines []string
	for _, idx := range segs {
		path := filepath.Join(dir, segmentName(procName, idx))
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, pmrerr.Wrap(pmrerr.KindIoError, "read log segment", err)
		}
		lines = append(lines, splitLines(data)...)
	}

	primary, err := Tail(dir, procName, 0)
	if err != nil {
		return nil, err
	}
	lines = append(lines, primary...)

	if n <= 0 || n >= len(lines) {
		return lines, nil
	}
	return lines[len(lines)-n:], nil
}

func splitLines(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}
