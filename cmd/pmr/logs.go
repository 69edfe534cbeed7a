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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	logsFollow  bool
	logsRotate  bool
	logsRotated bool
	logsLines   int
)

var logsCmd = &cobra.Command{
	Use:   "logs NAME",
	Short: "show or stream a process's log output",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		name := args[0]

		if logsRotate {
			if err := sup.LogsRotate(cmd.Context(), name); err != nil {
				reportAndExit(err)
			}
			return
		}

		if logsFollow {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := sup.LogsFollow(ctx, name, os.Stdout); err != nil && ctx.Err() == nil {
				reportAndExit(err)
			}
			return
		}

		lines, err := sup.Logs(cmd.Context(), name, logsLines, logsRotated)
		if err != nil {
			reportAndExit(err)
		}
		printResult(lines, func() {
			for _, l := range lines {
				fmt.Println(l)
			}
		})
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "stream newly appended lines until interrupted")
	logsCmd.Flags().BoolVar(&logsRotate, "rotate", false, "force log rotation regardless of current size")
	logsCmd.Flags().BoolVar(&logsRotated, "rotated", false, "include rotated log segments ahead of the primary log")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "number of trailing lines to show")
	rootCmd.AddCommand(logsCmd)
}
