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

package supervisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arlenwen/pmr/internal/catalog"
	"github.com/arlenwen/pmr/internal/pmrerr"
	"github.com/arlenwen/pmr/internal/pmrpath"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	root := t.TempDir()
	layout, err := pmrpath.New(filepath.Join(root, ".pmr"))
	if err != nil {
		t.Fatalf("pmrpath.New: %v", err)
	}
	store, err := catalog.Open(layout.DBFile)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &Supervisor{Store: store, Layout: layout}
}

func TestStartThenStatusRunning(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	rec, err := sup.Start(ctx, StartSpec{
		Name:    "sleeper",
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 5"},
		Workdir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Status != catalog.StatusRunning || rec.PID == 0 {
		t.Fatalf("expected running process with a pid, got %+v", rec)
	}
	t.Cleanup(func() { sup.Stop(ctx, "sleeper", time.Second) })

	got, err := sup.Status(ctx, "sleeper")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Status != catalog.StatusRunning {
		t.Fatalf("expected running, got %s", got.Status)
	}
}

func TestStartDuplicateNameFails(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()
	spec := StartSpec{Name: "once", Command: "/bin/sh", Args: []string{"-c", "sleep 5"}, Workdir: t.TempDir()}

	if _, err := sup.Start(ctx, spec); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	t.Cleanup(func() { sup.Stop(ctx, "once", time.Second) })

	_, err := sup.Start(ctx, spec)
	if !pmrerr.Is(err, pmrerr.KindAlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestStopEscalatesToSigkillOnIgnoredSigterm(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	// trap SIGTERM and ignore it, forcing Stop to escalate to SIGKILL.
	rec, err := sup.Start(ctx, StartSpec{
		Name:    "stubborn",
		Command: "/bin/sh",
		Args:    []string{"-c", "trap '' TERM; sleep 30"},
		Workdir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = rec

	start := time.Now()
	if err := sup.Stop(ctx, "stubborn", 300*time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if time.Since(start) < 300*time.Millisecond {
		t.Fatalf("expected Stop to wait out the grace period before escalating")
	}

	got, err := sup.Status(ctx, "stubborn")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Status != catalog.StatusStopped {
		t.Fatalf("expected stopped after SIGKILL escalation, got %s", got.Status)
	}
}

func TestDeleteRefusesRunningProcess(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := sup.Start(ctx, StartSpec{Name: "web", Command: "/bin/sh", Args: []string{"-c", "sleep 5"}, Workdir: t.TempDir()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { sup.Stop(ctx, "web", time.Second) })

	err := sup.Delete(ctx, "web")
	if !pmrerr.Is(err, pmrerr.KindStateConflict) {
		t.Fatalf("expected StateConflict deleting a running process, got %v", err)
	}
}

func TestClearEnvEmptiesEnvironment(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	rec, err := sup.Start(ctx, StartSpec{
		Name:    "withenv",
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 5"},
		Env:     map[string]string{"FOO": "bar"},
		Workdir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(rec.Env) != 1 {
		t.Fatalf("expected 1 env var before clear, got %+v", rec.Env)
	}
	// env may only be mutated on a stopped record.
	if err := sup.Stop(ctx, "withenv", time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	cleared, err := sup.ClearEnv(ctx, "withenv")
	if err != nil {
		t.Fatalf("ClearEnv: %v", err)
	}
	if len(cleared.Env) != 0 {
		t.Fatalf("expected empty env after clear, got %+v", cleared.Env)
	}
}

func TestClearRemovesStoppedAndFailedOnly(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := sup.Start(ctx, StartSpec{Name: "finished", Command: "/bin/sh", Args: []string{"-c", "true"}, Workdir: t.TempDir()}); err != nil {
		t.Fatalf("Start finished: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the short-lived child exit before Status reconciles it

	if _, err := sup.Start(ctx, StartSpec{Name: "running", Command: "/bin/sh", Args: []string{"-c", "sleep 5"}, Workdir: t.TempDir()}); err != nil {
		t.Fatalf("Start running: %v", err)
	}
	t.Cleanup(func() { sup.Stop(ctx, "running", time.Second) })

	removed, err := sup.Clear(ctx, false)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(removed) != 1 || removed[0] != "finished" {
		t.Fatalf("expected only the stopped process removed, got %v", removed)
	}
	if _, err := sup.Status(ctx, "running"); err != nil {
		t.Fatalf("expected running process to survive Clear(false): %v", err)
	}
}

func TestClearIncludeRunningStopsThenRemoves(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := sup.Start(ctx, StartSpec{Name: "running", Command: "/bin/sh", Args: []string{"-c", "sleep 5"}, Workdir: t.TempDir()}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	removed, err := sup.Clear(ctx, true)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(removed) != 1 || removed[0] != "running" {
		t.Fatalf("expected running process removed, got %v", removed)
	}
	if _, err := sup.Status(ctx, "running"); !pmrerr.Is(err, pmrerr.KindNotFound) {
		t.Fatalf("expected NotFound after Clear(true), got %v", err)
	}
}

func TestSetEnvConcurrentMutationNoLostUpdate(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()
	if _, err := sup.Start(ctx, StartSpec{Name: "web", Command: "/bin/sh", Args: []string{"-c", "sleep 5"}, Workdir: t.TempDir()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// env may only be mutated on a stopped record.
	if err := sup.Stop(ctx, "web", time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	done := make(chan error, 2)
	go func() { _, err := sup.SetEnv(ctx, "web", "RACE", "a"); done <- err }()
	go func() { _, err := sup.SetEnv(ctx, "web", "RACE", "b"); done <- err }()
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("SetEnv: %v", err)
		}
	}

	got, err := sup.Status(ctx, "web")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if v := got.Env["RACE"]; v != "a" && v != "b" {
		t.Fatalf("expected RACE to be exactly one of a/b, got %q", v)
	}
}
