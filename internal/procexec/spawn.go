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

// Package procexec is the spawner and liveness prober behind pmr. Spawn
// detaches a subprocess into its own session so it survives the exit of
// the tool that started it; Alive and the Reaper give the rest of the
// supervisor a way to ask whether a previously spawned pid is still alive
// without ever blocking on it.
package procexec

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/arlenwen/pmr/internal/pmrerr"
)

// Spec describes a process to launch.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Env     []string // exec.Cmd.Env convention: "KEY=VALUE", replaces the ambient environment verbatim
	Workdir string
	Stdout  *os.File
	Stderr  *os.File
}

// Spawn starts Command detached into a new session (setsid), with stdin
// bound to /dev/null and stdout/stderr redirected to the files in Spec.
// It returns the child's pid as soon as exec(2) has been invoked by the
// runtime; it does not wait for the child to run to completion.
//
// If the exec itself fails (binary missing, not executable, ...), the
// os/exec runtime reports that failure on this call, not asynchronously;
// callers never see a pid for a process that never started.
func Spawn(spec Spec) (pid int, err error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err != nil {
		return 0, pmrerr.Wrap(pmrerr.KindIoError, "open /dev/null", err)
	}
	defer devNull.Close()

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Workdir
	cmd.Stdin = devNull
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return 0, pmrerr.Wrap(pmrerr.KindSpawnError, fmt.Sprintf("spawn %s", spec.Name), err)
	}

	// The caller (a short-lived CLI invocation, or the long-running daemon)
	// never calls cmd.Wait(): the child is detached and outlives us. We
	// release the *os.Process handle so the Go runtime's internal SIGCHLD
	// bookkeeping for it is dropped immediately, mirroring the fact that
	// after this call returns we have no further interest in this exact
	// handle — future liveness checks go through Alive using the bare pid
	// persisted in the catalog.
	pid = cmd.Process.Pid
	cmd.Process.Release()
	return pid, nil
}
