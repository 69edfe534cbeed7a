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

// Package supervisor is the one place that coordinates the catalog, the
// spawner/liveness prober, and the log pipeline into
// start/stop/restart/delete/status/list/logs/set_env/clear. It performs
// lazy reconciliation: a record's status is corrected at the moment
// something reads or mutates it, by consulting procexec.Alive; there is
// no background reconciler goroutine. The one exception is a Supervisor
// with a Reaper set (the daemon), whose sweep marks reaped pids stopped
// as soon as it collects them.
package supervisor

import (
	"context"
	"log"
	"time"

	"github.com/arlenwen/pmr/internal/catalog"
	"github.com/arlenwen/pmr/internal/logpipe"
	"github.com/arlenwen/pmr/internal/pmrerr"
	"github.com/arlenwen/pmr/internal/pmrpath"
	"github.com/arlenwen/pmr/internal/procexec"
	"github.com/google/uuid"
)

// StopGrace is the default interval between SIGTERM and SIGKILL escalation.
const StopGrace = 5 * time.Second

// stopPollInterval is how often Stop polls for exit during the grace period.
const stopPollInterval = 100 * time.Millisecond

// Supervisor coordinates process lifecycle operations against a single
// catalog.Store and directory Layout.
type Supervisor struct {
	Store  *catalog.Store
	Layout *pmrpath.Layout
	Log    *log.Logger

	// Reaper, if non-nil, is used to track pids for non-blocking zombie
	// reaping. It is only set when the Supervisor is owned
	// by the long-running control-plane daemon; a plain CLI invocation
	// leaves it nil, since the process exits right after Spawn and has no
	// further interest in reaping its now-orphaned child.
	Reaper *procexec.Reaper

	// LogPolicy overrides logpipe's rotation thresholds. A zero field
	// (MaxSize <= 0 or KeepCount <= 0) falls back to logpipe's own
	// built-in default for that field.
	LogPolicy logpipe.Policy

	// StopGrace overrides the package StopGrace default when nonzero.
	StopGrace time.Duration
}

// logPolicy resolves the effective rotation policy, filling in any unset
// field from logpipe's built-in defaults.
func (s *Supervisor) logPolicy() logpipe.Policy {
	p := s.LogPolicy
	if p.MaxSize <= 0 {
		p.MaxSize = logpipe.DefaultMaxSize
	}
	if p.KeepCount <= 0 {
		p.KeepCount = logpipe.DefaultKeepCount
	}
	return p
}

// StartSpec describes a new process registration.
type StartSpec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Workdir string
	LogDir  string // optional override
}

// Start registers and launches a new process. It fails with
// pmrerr.KindAlreadyExists if name is already registered, since name is a
// unique key — use Restart to relaunch an existing registration.
func (s *Supervisor) Start(ctx context.Context, spec StartSpec) (*catalog.ProcessRecord, error) {
	logDir, err := s.Layout.LogDirFor(spec.Name, spec.LogDir)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &catalog.ProcessRecord{
		ID:        uuid.NewString(),
		Name:      spec.Name,
		Command:   spec.Command,
		Args:      append([]string(nil), spec.Args...),
		Env:       cloneEnv(spec.Env),
		Workdir:   spec.Workdir,
		LogDir:    logDir,
		PID:       0,
		Status:    catalog.StatusStopped,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.InsertProcess(ctx, rec); err != nil {
		return nil, err
	}

	pid, spawnErr := s.spawn(rec)
	rec.PID = pid
	if spawnErr != nil {
		rec.Status = catalog.StatusFailed
	} else {
		rec.Status = catalog.StatusRunning
	}
	if _, err := s.Store.UpdateProcess(ctx, rec.Name, func(r *catalog.ProcessRecord) error {
		r.PID = rec.PID
		r.Status = rec.Status
		return nil
	}); err != nil {
		return nil, err
	}
	if spawnErr != nil {
		return nil, spawnErr
	}
	return rec, nil
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func (s *Supervisor) spawn(rec *catalog.ProcessRecord) (int, error) {
	logFile, err := logpipe.Open(rec.LogDir, rec.Name, s.logPolicy())
	if err != nil {
		return 0, err
	}
	defer logFile.Close()

	pid, err := procexec.Spawn(procexec.Spec{
		Name:    rec.Name,
		Command: rec.Command,
		Args:    rec.Args,
		Env:     envSlice(rec.Env),
		Workdir: rec.Workdir,
		Stdout:  logFile,
		Stderr:  logFile,
	})
	if err != nil {
		return 0, err
	}
	if s.Reaper != nil {
		name := rec.Name
		s.Reaper.Track(pid, func() {
			s.markExited(name, pid)
		})
	}
	return pid, nil
}

// markExited lazily records that a tracked pid was reaped, so a daemon
// with a live Reaper reflects exits immediately rather than waiting for
// the next read-time probe. A plain CLI invocation never calls this; its
// records still get reconciled correctly the next time anything reads
// them, via reconcile's procexec.Alive probe.
func (s *Supervisor) markExited(name string, pid int) {
	ctx := context.Background()
	s.Store.UpdateProcess(ctx, name, func(r *catalog.ProcessRecord) error {
		if r.PID != pid {
			return nil // already restarted under a new pid; nothing to do
		}
		r.Status = catalog.StatusStopped
		r.PID = 0
		return nil
	})
}

// reconcile probes a record's liveness and writes back any change. It
// only ever runs at read/mutate time; apart from markExited, called from
// a daemon's Reaper sweep, it is the only place a dead process's status
// gets corrected.
func (s *Supervisor) reconcile(ctx context.Context, rec *catalog.ProcessRecord) (*catalog.ProcessRecord, error) {
	if rec.Status != catalog.StatusRunning {
		return rec, nil
	}
	alive, err := procexec.Alive(rec.PID)
	if err != nil {
		return nil, pmrerr.Wrap(pmrerr.KindIoError, "probe liveness", err)
	}
	if alive {
		return rec, nil
	}
	return s.Store.UpdateProcess(ctx, rec.Name, func(r *catalog.ProcessRecord) error {
		if r.Status == catalog.StatusRunning {
			r.Status = catalog.StatusStopped
			r.PID = 0
		}
		return nil
	})
}

// Status returns a record's current state, reconciled against liveness.
func (s *Supervisor) Status(ctx context.Context, name string) (*catalog.ProcessRecord, error) {
	rec, err := s.Store.GetProcess(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, rec)
}

// List returns every record, each reconciled against liveness. There is
// no cross-record ordering guarantee beyond the catalog's own
// alphabetical-by-name listing.
func (s *Supervisor) List(ctx context.Context) ([]*catalog.ProcessRecord, error) {
	recs, err := s.Store.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*catalog.ProcessRecord, 0, len(recs))
	for _, rec := range recs {
		r, err := s.reconcile(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Stop sends SIGTERM, polls for exit across grace, and escalates to
// SIGKILL on timeout. It returns pmrerr.ErrNotRunning if the record is
// not currently running.
func (s *Supervisor) Stop(ctx context.Context, name string, grace time.Duration) error {
	if grace <= 0 {
		grace = s.StopGrace
	}
	if grace <= 0 {
		grace = StopGrace
	}
	rec, err := s.Status(ctx, name)
	if err != nil {
		return err
	}
	if rec.Status != catalog.StatusRunning {
		return pmrerr.ErrNotRunning
	}

	pid := rec.PID
	if err := procexec.Signal(pid, 15 /* SIGTERM */); err != nil {
		return pmrerr.Wrap(pmrerr.KindIoError, "send SIGTERM", err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		alive, err := procexec.Alive(pid)
		if err != nil {
			return pmrerr.Wrap(pmrerr.KindIoError, "probe liveness", err)
		}
		if !alive {
			break
		}
		time.Sleep(stopPollInterval)
	}
	if alive, _ := procexec.Alive(pid); alive {
		if err := procexec.Signal(pid, 9 /* SIGKILL */); err != nil {
			return pmrerr.Wrap(pmrerr.KindIoError, "send SIGKILL", err)
		}
	}

	// Reap before clearing pid: the child is our direct descendant and
	// must be waited on or it lingers as a zombie. Reap is safe to call
	// here because the child is already confirmed dead (or just
	// SIGKILLed); ECHILD (already reaped, e.g. by the daemon's periodic
	// sweep) is not an error.
	if err := procexec.Reap(pid); err != nil {
		return pmrerr.Wrap(pmrerr.KindIoError, "reap child", err)
	}
	if s.Reaper != nil {
		s.Reaper.Untrack(pid)
	}
	_, err = s.Store.UpdateProcess(ctx, name, func(r *catalog.ProcessRecord) error {
		r.Status = catalog.StatusStopped
		r.PID = 0
		return nil
	})
	return err
}

// Restart stops the process if running, then relaunches it with its
// stored command/args/env/workdir. The log file is (re)opened through
// logpipe.Open, which is also where size-triggered rotation is checked.
func (s *Supervisor) Restart(ctx context.Context, name string) (*catalog.ProcessRecord, error) {
	rec, err := s.Status(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec.Status == catalog.StatusRunning {
		if err := s.Stop(ctx, name, 0); err != nil {
			return nil, err
		}
	}

	pid, spawnErr := s.spawn(rec)
	status := catalog.StatusRunning
	if spawnErr != nil {
		status = catalog.StatusFailed
		pid = 0
	}
	updated, err := s.Store.UpdateProcess(ctx, name, func(r *catalog.ProcessRecord) error {
		r.PID = pid
		r.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	if spawnErr != nil {
		return nil, spawnErr
	}
	return updated, nil
}

// Delete removes a process's registration. It refuses to delete a
// currently running process; callers must Stop first.
func (s *Supervisor) Delete(ctx context.Context, name string) error {
	rec, err := s.Status(ctx, name)
	if err != nil {
		return err
	}
	if rec.Status == catalog.StatusRunning {
		return pmrerr.Wrap(pmrerr.KindStateConflict, "process is running; stop it first", nil)
	}
	return s.Store.DeleteProcess(ctx, name)
}

// SetEnv merges key=value into a process's stored environment. It fails
// with pmrerr.KindStateConflict while the record is running: a process's
// environment cannot be altered after exec(2), so the change only ever
// takes effect on the next Start/Restart of a non-running record.
func (s *Supervisor) SetEnv(ctx context.Context, name, key, value string) (*catalog.ProcessRecord, error) {
	rec, err := s.Status(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec.Status == catalog.StatusRunning {
		return nil, pmrerr.Wrap(pmrerr.KindStateConflict, "cannot mutate env while running", nil)
	}
	return s.Store.UpdateProcess(ctx, name, func(r *catalog.ProcessRecord) error {
		if r.Env == nil {
			r.Env = map[string]string{}
		}
		r.Env[key] = value
		return nil
	})
}

// ClearEnv empties a process's stored environment: afterward the process
// has no custom environment variables set, only whatever its next exec
// inherits by explicit assignment — which, since Env is always passed
// verbatim, means none. It fails with pmrerr.KindStateConflict while the
// record is running, for the same reason as SetEnv.
func (s *Supervisor) ClearEnv(ctx context.Context, name string) (*catalog.ProcessRecord, error) {
	rec, err := s.Status(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec.Status == catalog.StatusRunning {
		return nil, pmrerr.Wrap(pmrerr.KindStateConflict, "cannot mutate env while running", nil)
	}
	return s.Store.UpdateProcess(ctx, name, func(r *catalog.ProcessRecord) error {
		r.Env = map[string]string{}
		return nil
	})
}

// Clear performs a bulk removal: every stopped or failed record is
// deleted outright. If includeRunning is true, running records are
// stopped first and then deleted too; otherwise they are left alone. It
// returns the names actually removed.
func (s *Supervisor) Clear(ctx context.Context, includeRunning bool) ([]string, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, rec := range recs {
		switch rec.Status {
		case catalog.StatusRunning:
			if !includeRunning {
				continue
			}
			if err := s.Stop(ctx, rec.Name, s.StopGrace); err != nil {
				return removed, err
			}
			fallthrough
		case catalog.StatusStopped, catalog.StatusFailed:
			if err := s.Store.DeleteProcess(ctx, rec.Name); err != nil {
				return removed, err
			}
			removed = append(removed, rec.Name)
		}
	}
	return removed, nil
}
