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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/arlenwen/pmr/internal/catalog"
	"github.com/arlenwen/pmr/internal/config"
	"github.com/arlenwen/pmr/internal/logpipe"
	"github.com/arlenwen/pmr/internal/pmrerr"
	"github.com/arlenwen/pmr/internal/pmrlog"
	"github.com/arlenwen/pmr/internal/pmrpath"
	"github.com/arlenwen/pmr/internal/supervisor"
	"github.com/arlenwen/pmr/internal/token"
)

var (
	outputFormat string
	dataDirFlag  string
)

var rootCmd = &cobra.Command{
	Use:           "pmr",
	Short:         "pmr supervises long-lived processes and their logs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "override the default ${HOME}/.pmr data directory")
}

// loadedConfig resolves the layout and config.Config for this invocation,
// honoring --data-dir over ${HOME}/.pmr/config.yaml's data_root over the
// built-in default.
func loadedConfig() (*pmrpath.Layout, config.Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, config.Config{}, err
	}
	cfg, err := config.Load(filepath.Join(home, ".pmr", "config.yaml"))
	if err != nil {
		return nil, config.Config{}, err
	}

	root := dataDirFlag
	if root == "" {
		root = cfg.DataRoot
	}
	if root == "" {
		root = filepath.Join(home, ".pmr")
	}
	layout, err := pmrpath.New(root)
	if err != nil {
		return nil, config.Config{}, err
	}
	return layout, cfg, nil
}

// openSupervisor opens the catalog and returns a ready-to-use Supervisor
// plus a closer the caller must defer.
func openSupervisor() (*supervisor.Supervisor, func(), error) {
	layout, cfg, err := loadedConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := catalog.Open(layout.DBFile)
	if err != nil {
		return nil, nil, err
	}
	sup := &supervisor.Supervisor{
		Store:  store,
		Layout: layout,
		Log:    pmrlog.New("pmr"),
		LogPolicy: logpipe.Policy{
			MaxSize:   cfg.LogMaxSizeBytes,
			KeepCount: cfg.LogKeepCount,
		},
		StopGrace: time.Duration(cfg.StopGraceSeconds) * time.Second,
	}
	return sup, func() { store.Close() }, nil
}

func openAuthenticator() (*token.Authenticator, func(), error) {
	layout, _, err := loadedConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := catalog.Open(layout.DBFile)
	if err != nil {
		return nil, nil, err
	}
	return token.New(store), func() { store.Close() }, nil
}

// printResult renders v as a table (via the command-specific renderer in
// row) or as JSON, depending on --format.
func printResult(v any, row func()) error {
	if outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	row()
	return nil
}

// exitCodeFor maps a pmrerr.Kind to a process exit code.
func exitCodeFor(kind pmrerr.Kind) int {
	switch kind {
	case pmrerr.KindInvalidInput:
		return 2
	case pmrerr.KindNotFound:
		return 3
	case pmrerr.KindAlreadyExists:
		return 4
	case pmrerr.KindStateConflict:
		return 5
	case pmrerr.KindSpawnError:
		return 6
	case pmrerr.KindIoError:
		return 7
	case pmrerr.KindDbError:
		return 8
	case pmrerr.KindAuthError:
		return 9
	case pmrerr.KindTimeout:
		return 10
	default:
		return 1
	}
}

// reportAndExit is the single error path every subcommand funnels into:
// it prints the error in the selected --format and exits with a
// kind-specific status code.
func reportAndExit(err error) {
	kind := pmrerr.KindOf(err)
	if outputFormat == "json" {
		env := map[string]any{
			"error": map[string]string{
				"kind":    kind.String(),
				"message": err.Error(),
			},
		}
		enc := json.NewEncoder(os.Stderr)
		enc.Encode(env)
	} else {
		fmt.Fprintf(os.Stderr, "pmr: %s: %s\n", kind, err)
	}
	os.Exit(exitCodeFor(kind))
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
