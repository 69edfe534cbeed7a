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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arlenwen/pmr/internal/pmrerr"
	"github.com/arlenwen/pmr/internal/supervisor"
)

var (
	startEnvRaw   []string
	startWorkdir  string
	startLogDir   string
	stopGraceFlag string
	clearAll      bool
)

var startCmd = &cobra.Command{
	Use:   "start NAME -- COMMAND [ARGS...]",
	Short: "register and launch a new supervised process",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		command := args[1]
		cmdArgs := append([]string(nil), args[2:]...)

		env, err := parseEnvPairs(startEnvRaw)
		if err != nil {
			reportAndExit(err)
		}

		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		rec, err := sup.Start(cmd.Context(), supervisor.StartSpec{
			Name:    name,
			Command: command,
			Args:    cmdArgs,
			Env:     env,
			Workdir: startWorkdir,
			LogDir:  startLogDir,
		})
		if err != nil {
			reportAndExit(err)
		}
		printResult(rec, func() { printProcessDetail(rec) })
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list every registered process",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		recs, err := sup.List(cmd.Context())
		if err != nil {
			reportAndExit(err)
		}
		printResult(recs, func() { printProcessTable(recs) })
	},
}

var statusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "show a single process's current state",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		rec, err := sup.Status(cmd.Context(), args[0])
		if err != nil {
			reportAndExit(err)
		}
		printResult(rec, func() { printProcessDetail(rec) })
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop NAME",
	Short: "send SIGTERM, escalating to SIGKILL after a grace period",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		grace := parseDuration(stopGraceFlag, 0)
		if err := sup.Stop(cmd.Context(), args[0], grace); err != nil {
			reportAndExit(err)
		}
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart NAME",
	Short: "stop (if running) and relaunch with the stored configuration",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		rec, err := sup.Restart(cmd.Context(), args[0])
		if err != nil {
			reportAndExit(err)
		}
		printResult(rec, func() { printProcessDetail(rec) })
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "remove a process's registration (it must not be running)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		if err := sup.Delete(cmd.Context(), args[0]); err != nil {
			reportAndExit(err)
		}
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "bulk-remove stopped and failed processes",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		removed, err := sup.Clear(cmd.Context(), clearAll)
		if err != nil {
			reportAndExit(err)
		}
		printResult(removed, func() {
			for _, name := range removed {
				fmt.Println(name)
			}
		})
	},
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "manage a process's stored environment",
}

var envSetCmd = &cobra.Command{
	Use:   "set NAME KEY=VALUE",
	Short: "merge a key=value pair into a process's stored environment",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, value, ok := strings.Cut(args[1], "=")
		if !ok {
			reportAndExit(errInvalidEnvPair(args[1]))
		}

		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		rec, err := sup.SetEnv(cmd.Context(), args[0], key, value)
		if err != nil {
			reportAndExit(err)
		}
		printResult(rec, func() { printProcessDetail(rec) })
	},
}

var envClearCmd = &cobra.Command{
	Use:   "clear NAME",
	Short: "empty a process's stored environment",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		rec, err := sup.ClearEnv(cmd.Context(), args[0])
		if err != nil {
			reportAndExit(err)
		}
		printResult(rec, func() { printProcessDetail(rec) })
	},
}

func init() {
	startCmd.Flags().StringArrayVar(&startEnvRaw, "env", nil, "KEY=VALUE, may be repeated")
	startCmd.Flags().StringVar(&startWorkdir, "workdir", "", "working directory for the child process")
	startCmd.Flags().StringVar(&startLogDir, "log-dir", "", "override the default per-process log directory")
	stopCmd.Flags().StringVar(&stopGraceFlag, "grace", "", "SIGTERM-to-SIGKILL grace period, e.g. 10s (default: stop_grace_seconds from config.yaml, else 5s)")
	clearCmd.Flags().BoolVar(&clearAll, "all", false, "also stop and remove running processes")

	envCmd.AddCommand(envSetCmd, envClearCmd)

	rootCmd.AddCommand(startCmd, listCmd, statusCmd, stopCmd, restartCmd, deleteCmd, clearCmd, envCmd)
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, errInvalidEnvPair(p)
		}
		out[key] = value
	}
	return out, nil
}

func errInvalidEnvPair(p string) error {
	return pmrerr.New(pmrerr.KindIoError, "invalid KEY=VALUE pair: "+p)
}
