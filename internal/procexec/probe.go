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

package procexec

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Alive reports whether pid refers to a live process, using a signal-0
// probe: sending signal 0 performs all of kill(2)'s permission and
// existence checks without actually delivering a signal.
// ESRCH means the pid no longer exists; EPERM means it exists but is
// owned by a different user, which still counts as alive for our
// purposes since pmr only ever probes pids it minted itself. An exited
// child that has not been reaped yet (a zombie, state 'Z' in
// /proc/<pid>/stat) counts as dead even though signal 0 still succeeds.
func Alive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		if data, rerr := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid)); rerr == nil {
			if i := bytes.LastIndexByte(data, ')'); i >= 0 && i+2 < len(data) && data[i+2] == 'Z' {
				return false, nil
			}
		}
		return true, nil
	}
	if errors.Is(err, unix.ESRCH) {
		return false, nil
	}
	if errors.Is(err, unix.EPERM) {
		return true, nil
	}
	return false, err
}

// Signal sends sig to pid and returns kill(2)'s error unchanged: a target
// that has already exited yields ESRCH, and a pid <= 0 is reported as
// ESRCH without calling kill.
func Signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	return unix.Kill(pid, sig)
}
