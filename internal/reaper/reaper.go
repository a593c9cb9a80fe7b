package reaper

import (
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/corvidshell/corvid/internal/corvidlog"
	"github.com/corvidshell/corvid/internal/events"
	"github.com/corvidshell/corvid/internal/job"
)

// Reaper drives waitpid on behalf of the job list, coordinated with job
// control state (§4.6).
type Reaper struct {
	watcher  *Watcher
	lastSeen uint32
	dirty    bool

	events *events.Store
	log    corvidlog.Logger

	// Interactive controls whether SIGINT/SIGQUIT cancellation requests all
	// blocks (interactive) or reinstalls the default handler and re-raises
	// (non-interactive), per §4.6.
	Interactive bool

	// CancelAllBlocks is invoked when a reaped process of any job died from
	// SIGINT or SIGQUIT in an interactive session.
	CancelAllBlocks func()
}

func New(w *Watcher, store *events.Store, log corvidlog.Logger) *Reaper {
	return &Reaper{watcher: w, events: store, log: log, Interactive: true}
}

// ShouldSkip implements the §4.6 skip rule: if nothing changed and the
// caller isn't forcing a blocking wait on the foreground job, a pass can do
// no syscalls at all.
func (r *Reaper) ShouldSkip(mustBlockOnForeground bool) bool {
	gen := r.watcher.Generation()
	unchanged := gen == r.lastSeen
	skip := !r.dirty && unchanged && !mustBlockOnForeground
	r.lastSeen = gen
	if !skip {
		r.dirty = false
	}
	return skip
}

// Pass reaps every constructed job with a valid pgid (§4.6). blockOnFg
// requests a single blocking waitpid for the foreground, job-controlled job
// before falling back to non-blocking sweeps, per §4.6/§5 ("background
// reaping is always non-blocking").
func (r *Reaper) Pass(jobs []*job.Job, blockOnFg bool) {
	anySkipped := false
	for _, j := range jobs {
		if j.Pgid == job.InvalidPgid {
			anySkipped = true
			continue
		}
		if !j.Flags.Has(job.Constructed) {
			anySkipped = true
			continue
		}
		if j.Flags.Has(job.WaitByProcess) {
			r.reapByProcess(j)
			continue
		}
		r.reapByGroup(j, blockOnFg)
	}
	if anySkipped {
		// Force a full sweep next time: a job under construction may finish
		// between this pass and the next SIGCHLD (§4.6).
		r.dirty = true
	}
}

func (r *Reaper) reapByGroup(j *job.Job, blockOnFg bool) {
	blockedOnce := false
	wantBlocking := blockOnFg && j.Flags.Has(job.Foreground) && j.Flags.Has(job.JobControl) && !j.IsCompleted() && !j.IsStopped()
	for {
		var ws unix.WaitStatus
		var ru unix.Rusage
		flags := unix.WUNTRACED | unix.WNOHANG
		if wantBlocking && !blockedOnce {
			flags = unix.WUNTRACED
		}
		pid, err := unix.Wait4(-j.Pgid, &ws, flags, &ru)
		if wantBlocking && !blockedOnce {
			blockedOnce = true
		}
		if err != nil {
			if !errors.Is(err, unix.ECHILD) {
				r.log.Debug("reaper: wait4 error", "job", j.ID, "err", err)
			}
			return
		}
		if pid <= 0 {
			return
		}
		r.applyStatus(j, pid, ws, &ru)
	}
}

func (r *Reaper) reapByProcess(j *job.Job) {
	for _, p := range j.Processes {
		if p.Completed || p.Pid <= 0 {
			continue
		}
		var ws unix.WaitStatus
		var ru unix.Rusage
		pid, err := unix.Wait4(p.Pid, &ws, unix.WUNTRACED|unix.WNOHANG, &ru)
		if err != nil || pid <= 0 {
			continue
		}
		r.applyStatus(j, pid, ws, &ru)
	}
}

func (r *Reaper) applyStatus(j *job.Job, pid int, ws unix.WaitStatus, ru *unix.Rusage) {
	for _, p := range j.Processes {
		if p.Pid != pid {
			continue
		}
		p.ApplyWaitStatus(ws)
		j.MarkEnded(ru)
		if p.Status.Signaled && (p.Status.Signal == syscall.SIGINT || p.Status.Signal == syscall.SIGQUIT) {
			r.handleFatalSignal(j, p.Status.Signal)
		}
		r.events.Fire(events.Event{Kind: events.KindProcessExit, Pid: pid}, r.dispatchNoop)
		return
	}
}

func (r *Reaper) handleFatalSignal(j *job.Job, sig syscall.Signal) {
	if r.Interactive {
		if r.CancelAllBlocks != nil {
			r.CancelAllBlocks()
		}
		return
	}
	signalDefault(sig)
}

func (r *Reaper) dispatchNoop(string, events.Event) {}

// Notify implements the §4.6 notification/cleanup pass: "terminated by
// signal" lines, JOB_EXIT firing and job-list cleanup, and "stopped" lines.
// It returns jobs that are now fully completed and should be removed from
// the caller's job list.
func (r *Reaper) Notify(jobs []*job.Job, jobCount int, dispatch func(functionName string, ev events.Event), println func(string)) []*job.Job {
	var completed []*job.Job
	for _, j := range jobs {
		if j.Flags.Has(job.SkipNotification) {
			if j.IsCompleted() {
				completed = append(completed, j)
			}
			continue
		}
		for _, p := range j.Processes {
			if !p.Completed || !p.Status.Signaled {
				continue
			}
			if p.Status.Signal == syscall.SIGPIPE {
				continue
			}
			if isCrashSignal(p.Status.Signal) || !j.Flags.Has(job.Nested) {
				line := "Job "
				if jobCount > 1 {
					line += itoa(j.ID) + ", "
				}
				line += "'" + j.Command + "' terminated by signal " + p.Status.Signal.String()
				println(line)
				p.Status.Signaled = false
			}
		}
		if j.IsCompleted() {
			r.events.Fire(events.Event{Kind: events.KindJobExit, JobID: j.ID}, dispatch)
			completed = append(completed, j)
			continue
		}
		if j.IsStopped() && !j.Flags.Has(job.Notified) {
			println("Job " + itoa(j.ID) + ", '" + j.Command + "' has stopped")
			j.Flags |= job.Notified
		}
	}
	return completed
}

func isCrashSignal(sig syscall.Signal) bool {
	switch sig {
	case syscall.SIGABRT, syscall.SIGBUS, syscall.SIGFPE, syscall.SIGILL, syscall.SIGSEGV, syscall.SIGSYS:
		return true
	default:
		return false
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// signalDefault reinstalls the default disposition for sig and re-raises it
// to the shell itself (§4.6 non-interactive path).
func signalDefault(sig syscall.Signal) {
	signal.Reset(sig)
	unix.Kill(unix.Getpid(), sig)
}
