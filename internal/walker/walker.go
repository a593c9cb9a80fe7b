// Package walker implements the tree walker (C9, §4.1): the interpreter
// that drives the exec engine from a parsed AST. It owns the block stack,
// the job list, the job-id allocator, and the conjunction/statement
// dispatch rules; it is the single caller of engine.Engine.Launch and the
// sole implementer of engine.Evaluator, closing the loop the engine leaves
// open to avoid an import cycle (engine.go's doc comment on Evaluator).
package walker

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/corvidshell/corvid/internal/ast"
	"github.com/corvidshell/corvid/internal/block"
	"github.com/corvidshell/corvid/internal/corvidlog"
	"github.com/corvidshell/corvid/internal/ctrlflow"
	"github.com/corvidshell/corvid/internal/engine"
	"github.com/corvidshell/corvid/internal/env"
	"github.com/corvidshell/corvid/internal/events"
	"github.com/corvidshell/corvid/internal/iochain"
	"github.com/corvidshell/corvid/internal/job"
	"github.com/corvidshell/corvid/internal/reaper"
	"github.com/corvidshell/corvid/internal/terminal"
	"github.com/corvidshell/corvid/internal/trace"
)

// maxFunctionCallDepth is the stack-overflow guard's fixed limit (§4.1).
const maxFunctionCallDepth = 128

// Walker drives the tree (§4.1). It is single-threaded: every method is
// called from the main loop only (§5), matching block.Stack and env.Store.
type Walker struct {
	log    corvidlog.Logger
	Store  env.Store
	Funcs  env.FunctionStore
	Events *events.Store
	Engine *engine.Engine
	Blocks *block.Stack
	Term   *terminal.Controller
	Reaper *reaper.Reaper

	Stdout io.Writer
	Stderr io.Writer

	jobIDs     *job.IDAllocator
	activeJobs []*job.Job

	LastStatus int

	// SourceName is the filename attributed to blocks pushed without a more
	// specific source range (e.g. the interactive prompt, "-c" input).
	SourceName string

	cancelled bool
	activeCtx context.Context

	ioStack []iochain.Chain

	// blockNodeJobs maps a BlockNode process's body back to the original
	// for/while/begin BlockStatement it was wrapped from (runBlockNodeJob in
	// blocks.go), since engine.Evaluator.EvalBody only receives the body
	// JobList and a flat BlockMeta, not enough on its own to resume the
	// construct's own loop semantics.
	blockNodeJobs map[*ast.JobList]*ast.BlockStatement
}

// New wires a Walker against its collaborators. Builtins are registered on
// eng directly (engine.Engine.Builtins), since their implementations are
// out of scope (§1) — the walker only needs to know whether a name exists.
func New(log corvidlog.Logger, store env.Store, funcs env.FunctionStore, ev *events.Store, eng *engine.Engine, term *terminal.Controller, rp *reaper.Reaper) *Walker {
	w := &Walker{
		log:    log,
		Store:  store,
		Funcs:  funcs,
		Events: ev,
		Engine: eng,
		Blocks: block.NewStack(store),
		Term:   term,
		Reaper: rp,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		jobIDs: job.NewIDAllocator(),
		blockNodeJobs: make(map[*ast.JobList]*ast.BlockStatement),
	}
	w.Blocks.Push(&block.Block{Type: block.Top})
	return w
}

// expander returns a fresh env.Expander bound to the current store, built
// lazily since expansion never needs to carry state across calls (§6).
func (w *Walker) expander() *env.Expander { return env.NewExpander(w.Store) }

// Run evaluates a top-level script (§4.1 entry point `eval_node(JobList,
// enclosing_block)`), reaping finished background jobs opportunistically
// before and after.
func (w *Walker) Run(ctx context.Context, list *ast.JobList) (ctrlflow.EndReason, int) {
	w.reapBackground()
	reason, status := w.EvalJobList(ctx, list)
	w.reapBackground()
	return reason, status
}

// Cancel requests that check_end_execution-equivalent checks abort the
// next statement boundary (§5), e.g. from a SIGINT handler.
func (w *Walker) Cancel()        { w.cancelled = true }
func (w *Walker) ClearCancel()   { w.cancelled = false }
func (w *Walker) checkCancelled() bool {
	if w.cancelled {
		return true
	}
	select {
	case <-w.ctx().Done():
		return true
	default:
		return false
	}
}

// ctx returns the context passed to the innermost EvalJobList call, letting
// checkCancelled consult it without threading a parameter through every
// runner.
func (w *Walker) ctx() context.Context {
	if w.activeCtx != nil {
		return w.activeCtx
	}
	return context.Background()
}

// EvalJobList iterates a JobList (script or block body), honoring the
// `and`/`or` list decorators between conjunctions and stopping as soon as a
// conjunction reports anything other than ctrlflow.Ok (§4.1).
func (w *Walker) EvalJobList(ctx context.Context, list *ast.JobList) (ctrlflow.EndReason, int) {
	prev := w.activeCtx
	w.activeCtx = ctx
	defer func() { w.activeCtx = prev }()

	if list == nil {
		return ctrlflow.Ok, w.LastStatus
	}
	status := w.LastStatus
	for _, item := range list.Items {
		if w.checkCancelled() {
			return ctrlflow.Cancelled, status
		}
		switch item.Decorator {
		case ast.ListDecoratorAnd:
			if status != 0 {
				continue
			}
		case ast.ListDecoratorOr:
			if status == 0 {
				continue
			}
		}
		reason, st := w.evalConjunction(ctx, item.Conjunction)
		status = st
		w.LastStatus = status
		if reason != ctrlflow.Ok {
			return reason, status
		}
	}
	return ctrlflow.Ok, status
}

func (w *Walker) evalConjunction(ctx context.Context, jc *ast.JobConjunction) (ctrlflow.EndReason, int) {
	if jc == nil {
		return ctrlflow.Ok, w.LastStatus
	}
	reason, status := w.evalStatement(ctx, jc.Job, false)
	if reason != ctrlflow.Ok {
		return reason, status
	}
	for _, cont := range jc.Continuations {
		if w.checkCancelled() {
			return ctrlflow.Cancelled, status
		}
		switch cont.Decorator {
		case ast.AndOrAnd:
			if status != 0 {
				continue
			}
		case ast.AndOrOr:
			if status == 0 {
				continue
			}
		}
		reason, st := w.evalStatement(ctx, cont.Job, false)
		status = st
		if reason != ctrlflow.Ok {
			return reason, status
		}
	}
	return ctrlflow.Ok, status
}

// negateStatus applies a `not` wrapper's binary flip to a finished status
// (§4.1 NotStatement), used for statement kinds that don't carry their own
// job.Flags Negate bit.
func negateStatus(negate bool, status int) int {
	if !negate {
		return status
	}
	if status == 0 {
		return 1
	}
	return 0
}

// pushIO/popIO/currentIO track the ambient IO chain inherited from an
// enclosing Function/BlockNode body (§3 Job.block_io), so jobs constructed
// while evaluating that body pick up the right redirections/pipe without
// threading a parameter through every runner.
func (w *Walker) pushIO(c iochain.Chain) { w.ioStack = append(w.ioStack, c) }
func (w *Walker) popIO() {
	if len(w.ioStack) > 0 {
		w.ioStack = w.ioStack[:len(w.ioStack)-1]
	}
}
func (w *Walker) currentIO() iochain.Chain {
	if len(w.ioStack) == 0 {
		return nil
	}
	return w.ioStack[len(w.ioStack)-1]
}

// reportError builds a *trace.ShellError from the current block stack,
// prints it, sets $status, and returns the (Error, status) pair every
// runner needs to bubble up (§7).
func (w *Walker) reportError(kind trace.Kind, r ast.SourceRange, status int, format string, args ...any) (ctrlflow.EndReason, int) {
	pos := trace.Position{Filename: r.Filename, Line: r.Line, Column: r.Column}
	if pos.Filename == "" {
		pos.Filename = w.SourceName
	}
	err := trace.New(kind, pos, format, args...)
	err.Backtrace = w.Blocks.Frames()
	fmt.Fprintln(w.Stderr, err.Error())
	w.LastStatus = status
	return ctrlflow.Error, status
}

// println writes a plain notification line (job-control "stopped"/"done"
// lines, reaper.Notify's callback contract).
func (w *Walker) println(s string) { fmt.Fprintln(w.Stdout, s) }
