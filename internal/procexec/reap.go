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
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultReapInterval is how often a Reaper sweeps its tracked pids.
const DefaultReapInterval = 2 * time.Second

// Reaper periodically reclaims exited children of the current process with
// a non-blocking wait4, so the control-plane daemon (the one long-running
// process that stays the true parent of everything it spawns) never
// accumulates zombies. A short-lived CLI invocation has no need for one:
// it calls Spawn and exits, and the exited child is inherited and reaped
// by init, not by pmr.
//
// A single periodic sweep over tracked pids using WNOHANG reaps every
// exited child without blocking the daemon on any one of them; a
// per-child goroutine blocking on Wait would work just as well
// functionally, but would not scale to a large and changing set of
// supervised children the way one ticker-driven sweep does.
type Reaper struct {
	mu       sync.Mutex
	tracked  map[int]func()
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewReaper creates a Reaper with the given sweep interval (DefaultReapInterval if zero).
func NewReaper(interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{
		tracked:  make(map[int]func()),
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Track registers pid for periodic reaping. onExit, if non-nil, is called
// once a sweep has successfully reaped the pid. A pid that wait4 reports
// as not a child (ECHILD) stays tracked and its onExit is not called.
func (r *Reaper) Track(pid int, onExit func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracked[pid] = onExit
}

// Untrack stops tracking pid without invoking its onExit callback, used
// when the supervisor itself determines the pid is no longer relevant
// (Stop calls it after reaping the pid itself).
func (r *Reaper) Untrack(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tracked, pid)
}

// Run sweeps tracked pids every interval until Stop is called. It is meant
// to be launched with `go reaper.Run()` once per daemon lifetime.
func (r *Reaper) Run() {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.sweep()
		}
	}
}

// Stop ends a running Run loop. Safe to call multiple times.
func (r *Reaper) Stop() {
	r.once.Do(func() { close(r.stop) })
}

// Reap performs a blocking wait4 on pid, collecting its exit status so
// the kernel releases its zombie entry. Callers must only invoke it once
// a liveness probe has found pid no longer alive, or immediately after
// delivering a fatal signal to it; calling it on a still-live pid blocks
// until that child exits. ECHILD (pid was never a direct child, or was
// already reaped elsewhere, e.g. by a Reaper's periodic sweep) is not an
// error.
func Reap(pid int) error {
	if pid <= 0 {
		return nil
	}
	var status unix.WaitStatus
	_, err := unix.Wait4(pid, &status, 0, nil)
	if err != nil && err != unix.ECHILD {
		return err
	}
	return nil
}

func (r *Reaper) sweep() {
	r.mu.Lock()
	pids := make([]int, 0, len(r.tracked))
	for pid := range r.tracked {
		pids = append(pids, pid)
	}
	r.mu.Unlock()

	for _, pid := range pids {
		var status unix.WaitStatus
		wpid, err := unix.Wait4(pid, &status, unix.WNOHANG, nil)
		if err != nil || wpid == 0 {
			// err == ECHILD means it was never our child (e.g. already
			// reaped elsewhere); wpid == 0 means still running.
			continue
		}
		r.mu.Lock()
		onExit := r.tracked[pid]
		delete(r.tracked, pid)
		r.mu.Unlock()
		if onExit != nil {
			onExit()
		}
	}
}
