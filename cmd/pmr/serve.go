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
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arlenwen/pmr/internal/catalog"
	"github.com/arlenwen/pmr/internal/httpapi"
	"github.com/arlenwen/pmr/internal/pmrerr"
	"github.com/arlenwen/pmr/internal/pmrlog"
	"github.com/arlenwen/pmr/internal/procexec"
	"github.com/arlenwen/pmr/internal/token"
)

var (
	serveAddr   string
	servePort   int
	serveDaemon bool
)

// serveCmd runs pmr's control-plane daemon. By default it runs in the
// foreground; --daemon re-execs itself detached (setsid, via procexec.Spawn)
// and returns immediately after printing the child's pid. It registers
// itself in the catalog under httpapi.ReservedDaemonName so a second
// invocation fails fast with pmrerr.ErrAlreadyRunning, and shuts down
// gracefully on SIGINT/SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP control-plane daemon",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg, err := loadedConfig()
		if err != nil {
			reportAndExit(err)
		}
		addr := serveAddr
		if addr == "" && servePort != 0 {
			addr = fmt.Sprintf(":%d", servePort)
		}
		if addr == "" {
			addr = cfg.ListenAddr
		}

		if serveDaemon {
			runServeDetached(addr)
			return
		}

		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		if _, err := sup.Store.GetProcess(cmd.Context(), httpapi.ReservedDaemonName); err == nil {
			reportAndExit(pmrerr.ErrAlreadyRunning)
		} else if !pmrerr.Is(err, pmrerr.KindNotFound) {
			reportAndExit(err)
		}

		sup.Reaper = procexec.NewReaper(procexec.DefaultReapInterval)
		go sup.Reaper.Run()
		defer sup.Reaper.Stop()

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			reportAndExit(pmrerr.Wrap(pmrerr.KindIoError, "bind listener", err))
		}

		logger := pmrlog.New("pmrd")
		server := &httpapi.Server{
			Sup:  sup,
			Auth: token.New(sup.Store),
			Log:  logger,
		}

		exe, err := os.Executable()
		if err != nil {
			reportAndExit(pmrerr.Wrap(pmrerr.KindIoError, "resolve executable path", err))
		}
		logDir, err := sup.Layout.LogDirFor(httpapi.ReservedDaemonName, "")
		if err != nil {
			reportAndExit(err)
		}
		pid := os.Getpid()
		now := time.Now().UTC()
		rec := pseudoDaemonRecord(pid, now, exe, addr, logDir)
		if err := sup.Store.InsertProcess(cmd.Context(), rec); err != nil {
			reportAndExit(err)
		}

		go func() {
			logger.Printf("pmrd listening on %s", ln.Addr())
			if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Fatal(err)
			}
		}()

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		sup.Store.DeleteProcess(context.Background(), httpapi.ReservedDaemonName)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overriding the configured default")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port on all interfaces, shorthand for --addr :PORT")
	serveCmd.Flags().BoolVar(&serveDaemon, "daemon", false, "re-exec detached and return immediately")
	rootCmd.AddCommand(serveCmd, serveStatusCmd, serveStopCmd, serveRestartCmd)
}

// runServeDetached re-execs the current binary as `serve --addr <addr>`
// (--daemon stripped) into a new session via procexec.Spawn, so the
// daemon keeps running after this invocation exits, and prints the
// child's pid.
func runServeDetached(addr string) {
	exe, err := os.Executable()
	if err != nil {
		reportAndExit(pmrerr.Wrap(pmrerr.KindIoError, "resolve executable path", err))
	}
	childArgs := []string{"serve"}
	if addr != "" {
		childArgs = append(childArgs, "--addr", addr)
	}
	pid, err := procexec.Spawn(procexec.Spec{
		Name:    httpapi.ReservedDaemonName,
		Command: exe,
		Args:    childArgs,
		Env:     os.Environ(),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	})
	if err != nil {
		reportAndExit(err)
	}
	fmt.Printf("pmrd started, pid %d\n", pid)
}

// pseudoDaemonRecord is the catalog entry pmrd registers itself under. Its
// Command/Args point back at this same binary's `serve` subcommand, so
// `pmr serve-restart` can relaunch the daemon through the ordinary
// Supervisor.Restart path: the daemon is itself a supervised entry under a
// reserved name.
func pseudoDaemonRecord(pid int, now time.Time, exe, addr, logDir string) *catalog.ProcessRecord {
	args := []string{"serve"}
	if addr != "" {
		args = append(args, "--addr", addr)
	}
	return &catalog.ProcessRecord{
		ID:        uuid.NewString(),
		Name:      httpapi.ReservedDaemonName,
		Command:   exe,
		Args:      args,
		LogDir:    logDir,
		PID:       pid,
		Status:    catalog.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

var serveStatusCmd = &cobra.Command{
	Use:   "serve-status",
	Short: "show whether the control-plane daemon is currently registered as running",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		rec, err := sup.Status(cmd.Context(), httpapi.ReservedDaemonName)
		if err != nil {
			reportAndExit(err)
		}
		printResult(rec, func() { printProcessDetail(rec) })
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "serve-stop",
	Short: "signal the running control-plane daemon to shut down",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		if err := sup.Stop(cmd.Context(), httpapi.ReservedDaemonName, 0); err != nil {
			reportAndExit(err)
		}
	},
}

var serveRestartCmd = &cobra.Command{
	Use:   "serve-restart",
	Short: "stop and relaunch the control-plane daemon, detached",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sup, closer, err := openSupervisor()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		rec, err := sup.Restart(cmd.Context(), httpapi.ReservedDaemonName)
		if err != nil {
			reportAndExit(err)
		}
		printResult(rec, func() { printProcessDetail(rec) })
	},
}
