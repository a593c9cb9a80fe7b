package walker

import (
	"context"
	"fmt"

	"github.com/corvidshell/corvid/internal/ast"
	"github.com/corvidshell/corvid/internal/ctrlflow"
	"github.com/corvidshell/corvid/internal/events"
	"github.com/corvidshell/corvid/internal/job"
	"github.com/corvidshell/corvid/internal/process"
	"github.com/corvidshell/corvid/internal/trace"
)

// launchJob dispatches a fully constructed Job through the exec engine,
// then either blocks for its foreground result or registers it as a
// background job (§4.3, §4.5, §4.6).
func (w *Walker) launchJob(ctx context.Context, j *job.Job) (ctrlflow.EndReason, int) {
	j.Flags |= job.Constructed
	j.BlockIO = w.currentIO()

	if w.Term != nil {
		j.Flags |= job.JobControl
	}
	background := j.InitialBackground
	if !background {
		j.Flags |= job.Foreground
		if w.Term != nil {
			if err := w.Term.EnsureBlocking(); err != nil {
				w.log.Debug("walker: ensure blocking stdin failed", "err", err)
			}
		}
	}

	if j.WantsTiming {
		j.MarkStarted()
	}

	if err := w.Engine.Launch(ctx, j, w); err != nil {
		return w.reportError(trace.KindExecFail, sourceRangeOf(j), process.StatusExecFail, "%v", err)
	}

	if background {
		w.activeJobs = append(w.activeJobs, j)
		w.println(fmt.Sprintf("[%d] %d", j.ID, pgidOf(j)))
		return ctrlflow.Ok, 0
	}

	w.Reaper.Pass([]*job.Job{j}, true)
	w.finishForeground(j)

	if w.Term != nil {
		tmodes, err := w.Term.TakeTerminalBack()
		if tmodes != nil {
			j.Tmodes = tmodes
		}
		if err != nil {
			w.log.Debug("walker: take terminal back failed", "job", j.ID, "err", err)
		}
	}

	status := j.LastStatus()
	if w.Blocks.Returning() || w.anyProcessReturningError(j) {
		return w.reasonFromJob(j), status
	}
	return ctrlflow.Ok, status
}

// finishForeground runs the reaper's notification/cleanup pass for a single
// just-launched foreground job and releases its id once it's done (§4.6).
func (w *Walker) finishForeground(j *job.Job) {
	completed := w.Reaper.Notify([]*job.Job{j}, len(w.activeJobs)+1, w.dispatchEvent, w.println)
	for _, done := range completed {
		if done.ID == j.ID {
			w.jobIDs.Release(done.ID)
		}
	}
	if j.WantsTiming {
		j.MarkEnded(nil)
		wall, user, sys := j.Timing()
		w.println(fmt.Sprintf("\n________________________________________________________\nExecuted in %v\n   usr time %v\n   sys time %v", wall, user, sys))
	}
}

// anyProcessReturningError reports whether any internal process in j ended
// with ctrlflow.Error or ctrlflow.Cancelled, so launchJob can propagate that
// EndReason instead of flattening it to Ok (§4.1).
func (w *Walker) anyProcessReturningError(j *job.Job) bool {
	for _, p := range j.Processes {
		if p.EndReason == ctrlflow.Error || p.EndReason == ctrlflow.Cancelled {
			return true
		}
	}
	return false
}

func (w *Walker) reasonFromJob(j *job.Job) ctrlflow.EndReason {
	if w.Blocks.Returning() {
		return ctrlflow.ControlFlow
	}
	for _, p := range j.Processes {
		if p.EndReason == ctrlflow.Cancelled {
			return ctrlflow.Cancelled
		}
	}
	return ctrlflow.Error
}

// reapBackground non-blockingly reaps and notifies every tracked background
// job, removing finished ones (§4.6). Called at statement boundaries.
func (w *Walker) reapBackground() {
	if len(w.activeJobs) == 0 {
		return
	}
	w.Reaper.Pass(w.activeJobs, false)
	completed := w.Reaper.Notify(w.activeJobs, len(w.activeJobs), w.dispatchEvent, w.println)
	if len(completed) == 0 {
		return
	}
	done := make(map[int]bool, len(completed))
	for _, j := range completed {
		done[j.ID] = true
		w.jobIDs.Release(j.ID)
	}
	kept := w.activeJobs[:0]
	for _, j := range w.activeJobs {
		if !done[j.ID] {
			kept = append(kept, j)
		}
	}
	w.activeJobs = kept
}

// dispatchEvent is the callback events.Store.Fire and reaper.Notify invoke
// to actually run a registered handler function (§6).
func (w *Walker) dispatchEvent(functionName string, ev events.Event) {
	w.callFunction(functionName, nil)
}

// ActiveJobs returns the currently tracked background jobs, for the `jobs`
// builtin (original_source src/builtin_jobs.cpp).
func (w *Walker) ActiveJobs() []*job.Job { return w.activeJobs }

// DisownJob detaches a background job so the reaper stops notifying on it
// and it survives shell exit (job.Job.Disown, SPEC_FULL supplemented
// feature grounded on original_source src/builtin_disown.cpp). jobID zero
// disowns the most recently started background job, matching `disown` with
// no arguments. Reports whether a matching job was found.
func (w *Walker) DisownJob(jobID int) bool {
	if len(w.activeJobs) == 0 {
		return false
	}
	if jobID == 0 {
		w.activeJobs[len(w.activeJobs)-1].Disown()
		return true
	}
	for _, j := range w.activeJobs {
		if j.ID == jobID {
			j.Disown()
			return true
		}
	}
	return false
}

func pgidOf(j *job.Job) int {
	if j.Pgid == job.InvalidPgid && len(j.Processes) > 0 {
		return j.Processes[0].Pid
	}
	return j.Pgid
}

func sourceRangeOf(j *job.Job) ast.SourceRange { return ast.SourceRange{} }
