package job

import (
	"testing"

	"github.com/corvidshell/corvid/internal/process"
)

func TestNewSetsFirstAndLastFlags(t *testing.T) {
	procs := []*process.Process{{}, {}, {}}
	j := New(1, procs, "a | b | c")
	if !procs[0].IsFirstInJob {
		t.Error("first process should have IsFirstInJob set")
	}
	if !procs[2].IsLastInJob {
		t.Error("last process should have IsLastInJob set")
	}
	if procs[1].IsFirstInJob || procs[1].IsLastInJob {
		t.Error("middle process should have neither flag set")
	}
}

func TestIDAllocatorReusesReleasedIDs(t *testing.T) {
	a := NewIDAllocator()
	id1 := a.Allocate()
	id2 := a.Allocate()
	if id1 == id2 {
		t.Fatal("expected distinct ids")
	}
	a.Release(id1)
	id3 := a.Allocate()
	if id3 != id1 {
		t.Errorf("Allocate() after Release(%d) = %d, want %d reused", id1, id3, id1)
	}
}

func TestIsCompleted(t *testing.T) {
	procs := []*process.Process{{Completed: true}, {Completed: false}}
	j := New(1, procs, "a | b")
	if j.IsCompleted() {
		t.Error("job should not be completed while a process is pending")
	}
	procs[1].Completed = true
	if !j.IsCompleted() {
		t.Error("job should be completed once every process is")
	}
}

func TestLastStatusHonorsNegate(t *testing.T) {
	procs := []*process.Process{{Status: process.Status{Exited: true, ExitCode: 0}}}
	j := New(1, procs, "true")
	if got := j.LastStatus(); got != 0 {
		t.Fatalf("LastStatus() = %d, want 0", got)
	}
	j.Flags |= Negate
	if got := j.LastStatus(); got != 1 {
		t.Errorf("negated success LastStatus() = %d, want 1", got)
	}
}
