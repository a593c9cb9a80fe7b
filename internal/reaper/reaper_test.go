package reaper

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/corvidshell/corvid/internal/corvidlog"
	"github.com/corvidshell/corvid/internal/events"
	"github.com/corvidshell/corvid/internal/job"
	"github.com/corvidshell/corvid/internal/process"
)

func spawnGroupLeader(t *testing.T, path string, args ...string) (*exec.Cmd, int) {
	t.Helper()
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start %s: %v", path, err)
	}
	return cmd, cmd.Process.Pid
}

func TestReapByGroupMarksCompleted(t *testing.T) {
	cmd, pid := spawnGroupLeader(t, "/bin/true")

	p := &process.Process{Type: process.External, Pid: pid}
	j := job.New(1, []*process.Process{p}, "true")
	j.Pgid = pid
	j.Flags = job.JobControl | job.Constructed

	r := New(NewWatcher(), events.NewStore(), corvidlog.Nop{})

	deadline := time.Now().Add(2 * time.Second)
	for !p.Completed && time.Now().Before(deadline) {
		r.Pass([]*job.Job{j}, false)
		time.Sleep(5 * time.Millisecond)
	}

	if !p.Completed {
		t.Fatal("expected process to be reaped as completed")
	}
	if !p.Status.Success() {
		t.Errorf("expected /bin/true to succeed, got status %v", p.Status)
	}
	cmd.Wait() // avoid leaking the exec.Cmd's own goroutine expectations
}

func TestShouldSkipWithoutSignal(t *testing.T) {
	r := New(NewWatcher(), events.NewStore(), corvidlog.Nop{})
	if !r.ShouldSkip(false) {
		t.Error("with no SIGCHLD seen and no forced block, a pass should be skippable")
	}
	if r.ShouldSkip(true) {
		t.Error("forcing a blocking foreground wait must never be skipped")
	}
}

func TestNotifyFiresJobExitAndRemovesCompletedJobs(t *testing.T) {
	p := &process.Process{Completed: true, Status: process.Status{Exited: true, ExitCode: 0}}
	j := job.New(1, []*process.Process{p}, "true")

	store := events.NewStore()
	store.Register(events.Handler{Description: events.Description{Kind: events.KindJobExit, JobID: 1}, FunctionName: "on_exit"})
	r := New(NewWatcher(), store, corvidlog.Nop{})
	var lines []string
	var fired []events.Event
	completed := r.Notify([]*job.Job{j}, 1, func(fn string, ev events.Event) {
		fired = append(fired, ev)
	}, func(s string) { lines = append(lines, s) })

	if len(completed) != 1 || completed[0] != j {
		t.Fatalf("expected the completed job to be returned, got %v", completed)
	}
	if len(fired) != 1 || fired[0].Kind != events.KindJobExit || fired[0].JobID != 1 {
		t.Errorf("expected one JobExit event for job 1, got %v", fired)
	}
}
