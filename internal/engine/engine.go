// Package engine implements the exec engine (C6, §4.3, §4.5): fork/spawn/
// dispatch per process, wiring IO and handling internal-vs-external
// processes. The External/Exec path runs through exec.Cmd rather than a raw
// fork(2), the same choice the teacher makes on non-darwin platforms
// (orospakr-spawnexec/spawn_other.go): Go cannot safely call fork() from a
// multi-goroutine runtime, so os/exec's ForkExec (itself a single clone+
// execve syscall, not a duplicated runtime) is the idiomatic stand-in for
// posix_spawn described in §4.3.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/corvidshell/corvid/internal/ast"
	"github.com/corvidshell/corvid/internal/block"
	"github.com/corvidshell/corvid/internal/corvidlog"
	"github.com/corvidshell/corvid/internal/ctrlflow"
	"github.com/corvidshell/corvid/internal/env"
	"github.com/corvidshell/corvid/internal/iochain"
	"github.com/corvidshell/corvid/internal/job"
	"github.com/corvidshell/corvid/internal/process"
	"github.com/corvidshell/corvid/internal/redir"
	"github.com/corvidshell/corvid/internal/terminal"
)

// BuiltinFunc is the calling contract for a builtin command (§1: "only
// their calling contract is specified"). Real builtins live outside the
// core.
type BuiltinFunc func(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, store env.Store) (status int, err error)

// BlockMeta carries the handful of fields the walker needs to push the
// right block.Block when the engine asks it to evaluate a Function or
// BlockNode process body (§4.3).
type BlockMeta struct {
	Type         block.Type
	FunctionName string
	FunctionArgs []string
	SrcFilename  string
	SrcLineno    int
}

// Evaluator is implemented by the tree walker (C9). It is the seam that
// lets the engine dispatch Function/BlockNode processes without importing
// the walker package (which itself drives the engine), avoiding an import
// cycle per the §9 redesign note on structuring runner control flow
// explicitly rather than via callbacks into a shared god-object.
type Evaluator interface {
	EvalBody(body *ast.JobList, meta BlockMeta, ambientIO iochain.Chain) (ctrlflow.EndReason, int)
}

// Engine dispatches every process in a job (§4.3).
type Engine struct {
	log       corvidlog.Logger
	Builtins  map[string]BuiltinFunc
	Store     env.Store
	BufferCap int // per-buffer truncation limit (§4.4)

	// Term is nil in non-interactive/subshell contexts, in which case no
	// pgroup/terminal handoff is attempted (§4.5).
	Term        *terminal.Controller
	Interactive bool
}

func New(log corvidlog.Logger, store env.Store) *Engine {
	return &Engine{log: log, Builtins: map[string]BuiltinFunc{}, Store: store, BufferCap: 10 << 20}
}

// Launch dispatches every process in j in pipeline order, applying the
// deferred-process reorder described in §4.3: the last internal process
// immediately preceding an external one launches last, so its output
// doesn't need to buffer against a blocked pipe.
func (e *Engine) Launch(ctx context.Context, j *job.Job, ev Evaluator) error {
	order := deferredOrder(j.Processes)
	pipes, err := makePipes(j.Processes)
	if err != nil {
		return fmt.Errorf("engine: create pipes: %w", err)
	}
	defer pipes.closeAll()

	// Internal (Builtin/Function/BlockNode/Eval) processes that write into a
	// live OS pipe run on a worker goroutine rather than blocking Launch's
	// own dispatch loop (§4.4 "internal process writer"): otherwise a
	// builtin dispatched before its downstream reader has launched would
	// deadlock the moment it filled the pipe buffer. Launch waits for all
	// of them before returning, once every stage (internal and external)
	// has been started.
	var g errgroup.Group

	handedOff := false
	for _, idx := range order {
		p := j.Processes[idx]
		chain, err := e.buildProcessIO(j, idx, pipes)
		if err != nil {
			return fmt.Errorf("engine: build io for process %d: %w", idx, err)
		}
		if err := e.dispatch(ctx, j, p, chain, ev, &g); err != nil {
			return err
		}
		pipes.closeParentSide(idx, j.Processes)

		// Hand the terminal to the job's pgroup as soon as it exists, so a
		// foreground job gets it before later pipeline stages start reading
		// from the tty (§4.5 steps 2-3).
		if !handedOff && e.Term != nil && j.Pgid != job.InvalidPgid &&
			j.Flags.Has(job.JobControl) && j.Flags.Has(job.Foreground) {
			if err := e.Term.GiveTerminalTo(j.Pgid, j.Tmodes); err != nil {
				e.log.Debug("engine: give terminal to job failed", "job", j.ID, "err", err)
			}
			handedOff = true
		}
	}
	return g.Wait()
}

// deferredOrder returns process indices in launch order: identical to
// pipeline order except that a trailing run of internal processes
// immediately before an external one is rotated so the last such internal
// process launches after the external process that follows it (§4.3, §9
// glossary "deferred process").
func deferredOrder(procs []*process.Process) []int {
	order := make([]int, len(procs))
	for i := range procs {
		order[i] = i
	}
	for i := 0; i < len(procs)-1; i++ {
		if procs[i].Type != process.External && procs[i+1].Type == process.External {
			// Defer procs[i]: launch everything else first, then it.
			rest := append(append([]int{}, order[:i]...), order[i+1:]...)
			order = append(rest, order[i])
			break
		}
	}
	return order
}

func (e *Engine) dispatch(ctx context.Context, j *job.Job, p *process.Process, chain iochain.Chain, ev Evaluator, g *errgroup.Group) error {
	switch p.Type {
	case process.External, process.Exec:
		return e.dispatchExternal(ctx, j, p, chain)
	case process.Builtin:
		return e.dispatchBuiltin(ctx, p, chain, g)
	case process.Function, process.BlockNode:
		return e.dispatchBlockOrFunction(ctx, p, chain, ev, g)
	case process.Eval:
		return e.dispatchEval(ctx, p, chain, ev, g)
	default:
		return fmt.Errorf("engine: unknown process type %v", p.Type)
	}
}

// needsWorker reports whether a process's stdout targets a live OS pipe
// (rather than an in-memory BufferFill), the condition under which an
// internal process must run on a worker goroutine to avoid deadlocking
// Launch's own dispatch loop (§4.4).
func needsWorker(chain iochain.Chain) bool {
	for _, item := range chain {
		if item.FD == 1 && item.Kind == iochain.ItemPipe && !item.IsInput {
			return true
		}
	}
	return false
}

// resolvedFiles maps fd 0/1/2 and any additional explicit fds to the
// *os.File objects exec.Cmd needs (Stdin/Stdout/Stderr/ExtraFiles). This is
// the documented simplification from DESIGN.md: arbitrary target
// fds beyond a contiguous ExtraFiles run are not supported, matching what
// os/exec itself can express without a raw fork+dup2 loop.
type resolvedFiles struct {
	stdin, stdout, stderr *os.File
	extra                 []*os.File // fd 3, 4, 5... in order

	// owned holds the *os.File wrappers around fds this call opened
	// specifically for this process (ItemFile entries). They are not
	// otherwise tracked by anyone (unlike ItemPipe fds, owned by the
	// pipes pairs, or ItemFd aliases onto an fd someone else owns), so the
	// caller must close them once the child has inherited them.
	owned []*os.File
}

func (e *Engine) resolveFiles(chain iochain.Chain) (resolvedFiles, []redir.Action, error) {
	resolved := redir.Resolve(chain)
	fds := map[int]*os.File{}
	// Build a lookup from "source fd" (as it exists in THIS process, the
	// parent) to *os.File, covering pipe ends and opened files.
	bySrc := map[int]*os.File{}
	var rf resolvedFiles
	for _, item := range chain {
		switch item.Kind {
		case iochain.ItemPipe:
			bySrc[item.PipeFD] = os.NewFile(uintptr(item.PipeFD), "pipe")
		case iochain.ItemFile:
			f := os.NewFile(uintptr(item.OldFD), item.Path)
			bySrc[item.OldFD] = f
			rf.owned = append(rf.owned, f)
		case iochain.ItemFd:
			bySrc[item.OldFD] = os.NewFile(uintptr(item.OldFD), "fd")
		}
	}
	want := []int{0, 1, 2}
	for _, item := range chain {
		if item.FD > 2 {
			want = append(want, item.FD)
		}
	}
	sort.Ints(want)
	for _, fd := range want {
		src := resolved.FdForTargetFD(fd)
		if f, ok := bySrc[src]; ok {
			fds[fd] = f
		}
	}
	rf.stdin, rf.stdout, rf.stderr = fds[0], fds[1], fds[2]
	for _, fd := range want {
		if fd > 2 {
			if f, ok := fds[fd]; ok {
				rf.extra = append(rf.extra, f)
			}
		}
	}
	return rf, resolved, nil
}

// closeOwned closes the fds resolveFiles opened on this process's behalf,
// once the child has them (or the spawn failed and they never will).
func (rf resolvedFiles) closeOwned() {
	for _, f := range rf.owned {
		f.Close()
	}
}

func closeDefault(role string) *os.File {
	f, err := os.OpenFile(os.DevNull, devNullFlag(role), 0)
	if err != nil {
		return nil
	}
	return f
}

func devNullFlag(role string) int {
	if role == "stdin" {
		return os.O_RDONLY
	}
	return os.O_WRONLY
}
