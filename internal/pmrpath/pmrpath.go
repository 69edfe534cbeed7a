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

// Package pmrpath resolves and owns the on-disk directory layout: the
// data root holding the catalog database, and the default log root.
// Every directory it creates is owner-only (0700).
package pmrpath

import (
	"os"
	"path/filepath"
)

const dirMode = 0o700

// Layout is the resolved set of directories and files pmr uses.
type Layout struct {
	Root    string // ${HOME}/.pmr
	DBFile  string // Root/processes.db
	LogRoot string // Root/logs
}

// Default resolves the default layout rooted at ${HOME}/.pmr and ensures
// every directory in it exists with owner-only permissions. It does not
// create DBFile; the catalog package owns that file's lifecycle.
func Default() (*Layout, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return New(filepath.Join(home, ".pmr"))
}

// New resolves a layout rooted at root and ensures its directories exist.
func New(root string) (*Layout, error) {
	l := &Layout{
		Root:    root,
		DBFile:  filepath.Join(root, "processes.db"),
		LogRoot: filepath.Join(root, "logs"),
	}
	if err := os.MkdirAll(l.Root, dirMode); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.LogRoot, dirMode); err != nil {
		return nil, err
	}
	return l, nil
}

// LogDirFor returns (and creates) the per-process log directory under
// LogRoot, unless the caller supplied an explicit override.
func (l *Layout) LogDirFor(name, override string) (string, error) {
	dir := override
	if dir == "" {
		dir = filepath.Join(l.LogRoot, name)
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", err
	}
	return dir, nil
}
