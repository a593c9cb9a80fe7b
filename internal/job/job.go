// Package job implements the job record (C4, §3): a pipeline of processes
// sharing a pgroup, its flags, job id, and terminal modes. Job id allocation
// is the "shared bitmap protected by a mutex" named in §5.
package job

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/corvidshell/corvid/internal/iochain"
	"github.com/corvidshell/corvid/internal/process"
)

// Flags is the job flag bitset (§3), replacing the source's intrusive
// integer flags with named constants per the §9 redesign note.
type Flags uint16

const (
	JobControl Flags = 1 << iota
	Foreground
	Negate
	Constructed
	Notified
	SkipNotification
	WaitByProcess
	Nested
	IsGroupRoot
	Disowned
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// InvalidPgid marks a job that has not yet become its own process group.
const InvalidPgid = -1

// Job is a pipeline: one or more Processes sharing a pgroup (§3).
type Job struct {
	ID    int
	Pgid  int
	Flags Flags

	Processes []*process.Process
	Command   string
	BlockIO   iochain.Chain

	Tmodes       *unix.Termios
	WantsTiming  bool
	InitialBackground bool

	startedAt time.Time
	endedAt   time.Time
	rusage    *unix.Rusage
}

// New constructs a job with the §3 invariant already satisfied: the first
// and last process flags are set from position.
func New(id int, processes []*process.Process, command string) *Job {
	if len(processes) > 0 {
		processes[0].IsFirstInJob = true
		processes[len(processes)-1].IsLastInJob = true
	}
	return &Job{
		ID:        id,
		Pgid:      InvalidPgid,
		Processes: processes,
		Command:   command,
	}
}

// MarkStarted/MarkEnded bracket wall-clock timing for the `time` decorator
// (§4.1 Design notes / SPEC_FULL timing summary).
func (j *Job) MarkStarted() { j.startedAt = time.Now() }
func (j *Job) MarkEnded(ru *unix.Rusage) {
	j.endedAt = time.Now()
	j.rusage = ru
}

// Timing returns the wall-clock duration and, if rusage was recorded,
// user/system CPU time, for the `time` decorator's summary line.
func (j *Job) Timing() (wall, user, sys time.Duration) {
	wall = j.endedAt.Sub(j.startedAt)
	if j.rusage == nil {
		return wall, 0, 0
	}
	user = time.Duration(j.rusage.Utime.Nano())
	sys = time.Duration(j.rusage.Stime.Nano())
	return wall, user, sys
}

// Disown removes this job from reaper notification while leaving it alive,
// the supplemented `disown` builtin behavior (SPEC_FULL, original_source
// src/builtin_disown.cpp).
func (j *Job) Disown() { j.Flags |= Disowned | SkipNotification }

// IsCompleted reports whether every process in the job has completed (§8
// invariant).
func (j *Job) IsCompleted() bool {
	for _, p := range j.Processes {
		if !p.Completed {
			return false
		}
	}
	return true
}

// IsStopped reports whether the job is stopped (no process completed, at
// least one stopped).
func (j *Job) IsStopped() bool {
	anyStopped := false
	for _, p := range j.Processes {
		if p.Completed {
			return false
		}
		if p.Stopped {
			anyStopped = true
		}
	}
	return anyStopped
}

// LastStatus returns the exit status code of the last process, used as the
// job's overall `$status` (honoring Negate).
func (j *Job) LastStatus() int {
	if len(j.Processes) == 0 {
		return process.StatusOk
	}
	code := j.Processes[len(j.Processes)-1].Status.Code()
	if j.Flags.Has(Negate) {
		if code == 0 {
			return 1
		}
		return 0
	}
	return code
}

// IDAllocator is the shared, mutex-protected small-integer id pool (§3, §5,
// §8): "released ids are available; the set of in-use ids equals the set of
// ids referenced by live jobs."
type IDAllocator struct {
	mu   sync.Mutex
	used map[int]bool
	next int
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{used: make(map[int]bool), next: 1}
}

// Allocate returns the smallest id not currently in use.
func (a *IDAllocator) Allocate() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		if !a.used[a.next] {
			a.used[a.next] = true
			id := a.next
			a.next++
			return id
		}
		a.next++
	}
}

// Release frees id for reuse by a later job.
func (a *IDAllocator) Release(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, id)
	// Rewind next so ids are reused rather than growing without bound,
	// matching the source's "small set of ids" design (§3).
	if id < a.next {
		a.next = id
	}
}

// InUse reports the current set of allocated ids, for the §8 invariant
// check in tests.
func (a *IDAllocator) InUse() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, 0, len(a.used))
	for id := range a.used {
		out = append(out, id)
	}
	return out
}
