package walker

import (
	"context"

	"github.com/corvidshell/corvid/internal/ast"
	"github.com/corvidshell/corvid/internal/block"
	"github.com/corvidshell/corvid/internal/ctrlflow"
	"github.com/corvidshell/corvid/internal/engine"
	"github.com/corvidshell/corvid/internal/env"
	"github.com/corvidshell/corvid/internal/iochain"
	"github.com/corvidshell/corvid/internal/process"
	"github.com/corvidshell/corvid/internal/trace"
)

// EvalBody implements engine.Evaluator (§4.3): the engine calls back into
// the walker to run a Function/BlockNode/Eval process's body, handing it
// the ambient IO chain the process was dispatched with.
func (w *Walker) EvalBody(body *ast.JobList, meta engine.BlockMeta, ambientIO iochain.Chain) (ctrlflow.EndReason, int) {
	if meta.Type == block.FunctionCall || meta.Type == block.FunctionCallNoShadow {
		if caller := w.Blocks.Top(); caller != nil &&
			(caller.Type == block.FunctionCall || caller.Type == block.FunctionCallNoShadow) &&
			caller.FunctionName == meta.FunctionName &&
			firstCommandLiteral(body) == meta.FunctionName {
			return w.reportError(trace.KindInfiniteRecursion, body.Range(), process.StatusCmdError,
				"function '%s' calls itself immediately; not executing to avoid infinite recursion", meta.FunctionName)
		}
		if w.Blocks.FunctionCallDepth() >= maxFunctionCallDepth {
			return w.reportError(trace.KindStackOverflow, body.Range(), process.StatusCmdError, "the function call stack is too deep")
		}
	}

	w.pushIO(ambientIO)
	defer w.popIO()

	// A redirected for/while/begin block (runBlockNodeJob) carries its real
	// control-flow semantics in the original BlockStatement, keyed by body
	// identity, since the engine only hands EvalBody a flat JobList + a
	// generic Begin BlockMeta.
	if orig, ok := w.blockNodeJobs[body]; ok {
		delete(w.blockNodeJobs, body)
		return w.runBlockInline(w.ctx(), orig)
	}

	w.Blocks.Push(&block.Block{
		Type:         meta.Type,
		SrcFilename:  meta.SrcFilename,
		SrcLineno:    meta.SrcLineno,
		FunctionName: meta.FunctionName,
		FunctionArgs: meta.FunctionArgs,
	})
	defer w.Blocks.Pop()

	if meta.Type == block.FunctionCall || meta.Type == block.FunctionCallNoShadow {
		w.bindFunctionArgs(meta.FunctionArgs)
	}

	reason, status := w.EvalJobList(w.ctx(), body)

	if (meta.Type == block.FunctionCall || meta.Type == block.FunctionCallNoShadow) && w.Blocks.Returning() {
		w.Blocks.SetReturning(false)
		reason = ctrlflow.Ok
	}
	return reason, status
}

// firstCommandLiteral returns the literal command text of a job list's first
// decorated statement, with variable and command substitution left undone
// (the AST only ever carries raw token text), the same check the infinite-
// recursion guard in §4.1 runs before evaluating a function call.
func firstCommandLiteral(body *ast.JobList) string {
	if len(body.Items) == 0 {
		return ""
	}
	conj := body.Items[0].Conjunction
	if conj == nil {
		return ""
	}
	jn, ok := conj.Job.(*ast.JobNode)
	if !ok || len(jn.Processes) == 0 {
		return ""
	}
	return jn.Processes[0].Command.Text
}

// bindFunctionArgs binds $argv to the function's positional arguments,
// local to the just-pushed FunctionCall scope (§6).
func (w *Walker) bindFunctionArgs(args []string) {
	w.Store.Set("argv", env.ScopeLocal, false, false, args)
}

// evalBlockStatement runs a for/while/function/begin block reached as a
// direct job statement (§4.1). A BlockStatement carrying its own
// redirections is instead wrapped into a one-process BlockNode job and
// dispatched through the engine, so the redirection/pipe machinery built
// for pipeline stages applies uniformly rather than being duplicated here
// (§3 Process.type BlockNode).
func (w *Walker) evalBlockStatement(ctx context.Context, b *ast.BlockStatement, negate bool) (ctrlflow.EndReason, int) {
	if len(b.Redirections) > 0 {
		reason, status := w.runBlockNodeJob(ctx, b)
		if reason == ctrlflow.Ok {
			status = negateStatus(negate, status)
		}
		return reason, status
	}

	reason, status := w.runBlockInline(ctx, b)
	if reason == ctrlflow.Ok {
		status = negateStatus(negate, status)
	}
	return reason, status
}

func (w *Walker) runBlockInline(ctx context.Context, b *ast.BlockStatement) (ctrlflow.EndReason, int) {
	switch h := b.Header.(type) {
	case ast.ForHeader:
		return w.runForStatement(ctx, h, b)
	case ast.WhileHeader:
		return w.runWhileStatement(ctx, h, b)
	case ast.FunctionHeader:
		return w.runFunctionDefinition(h, b)
	case ast.BeginHeader:
		return w.runBeginStatement(ctx, b)
	default:
		return w.reportError(trace.KindControl, b.R, process.StatusCmdError, "unrecognized block header %T", h)
	}
}

// runBlockNodeJob wraps a redirected block into a one-stage pipeline and
// runs it through the ordinary job-construction/launch path (§4.2, §4.3),
// the same ProcessStmt.Block path a piped block (e.g. `begin;...;end |
// cat`) uses — a bare redirected block is just the single-stage case.
func (w *Walker) runBlockNodeJob(ctx context.Context, b *ast.BlockStatement) (ctrlflow.EndReason, int) {
	jn := &ast.JobNode{
		Command:   w.blockFile(b.R),
		Processes: []*ast.ProcessStmt{{Block: b, R: b.R}},
		R:         b.R,
	}
	j, reason, status := w.construct(jn)
	if reason != ctrlflow.Ok {
		return reason, status
	}
	return w.launchJob(ctx, j)
}

func blockName(h ast.BlockHeader) string {
	switch h.(type) {
	case ast.ForHeader:
		return "for"
	case ast.WhileHeader:
		return "while"
	case ast.FunctionHeader:
		return "function"
	case ast.BeginHeader:
		return "begin"
	default:
		return "block"
	}
}

// runForStatement implements `for VAR in ARGS; BODY; end` (§4.1): one
// EvalJobList pass per word, rebinding VAR each iteration, honoring
// break/continue via the pushed For block's LoopStatus.
func (w *Walker) runForStatement(ctx context.Context, h ast.ForHeader, b *ast.BlockStatement) (ctrlflow.EndReason, int) {
	texts := make([]string, len(h.Args))
	for i, a := range h.Args {
		texts[i] = a.Text
	}
	words, err := w.expander().Expand(texts, env.GlobFailglob)
	if err != nil {
		return w.reportError(trace.KindUnmatchedWildcard, b.R, process.StatusUnmatchedWildcard, "%v", err)
	}

	// §8: "for v in with zero expansions leaves $status==0 and does not
	// enter the body" — the initial value feeds the zero-iteration case,
	// not whatever $status happened to be beforehand.
	status := process.StatusOk
	for _, word := range words {
		if w.checkCancelled() {
			return ctrlflow.Cancelled, status
		}
		w.Blocks.Push(&block.Block{Type: block.For, SrcFilename: w.blockFile(b.R)})
		w.Store.Set(h.Var, env.ScopeLocal, false, false, []string{word})

		reason, st := w.EvalJobList(ctx, b.Body)
		status = st
		loopStatus := w.Blocks.Top().LoopStatus
		w.Blocks.Pop()

		if reason == ctrlflow.ControlFlow {
			if loopStatus == block.Break {
				return ctrlflow.Ok, status
			}
			if loopStatus == block.Continue {
				continue
			}
			// `return` propagating through the loop.
			return reason, status
		}
		if reason != ctrlflow.Ok {
			return reason, status
		}
	}
	return ctrlflow.Ok, status
}

// runWhileStatement implements `while COND; BODY; end` (§4.1).
func (w *Walker) runWhileStatement(ctx context.Context, h ast.WhileHeader, b *ast.BlockStatement) (ctrlflow.EndReason, int) {
	// §8: "while cmd; end with a failing first condition yields $status==0
	// (empty body rule)" — success if the body never ran, per §4.1.
	status := process.StatusOk
	for {
		if w.checkCancelled() {
			return ctrlflow.Cancelled, status
		}
		reason, condStatus := w.EvalJobList(ctx, h.Cond)
		if reason != ctrlflow.Ok {
			return reason, condStatus
		}
		if condStatus != 0 {
			return ctrlflow.Ok, status
		}

		w.Blocks.Push(&block.Block{Type: block.While, SrcFilename: w.blockFile(b.R)})
		bodyReason, st := w.EvalJobList(ctx, b.Body)
		status = st
		loopStatus := w.Blocks.Top().LoopStatus
		w.Blocks.Pop()

		if bodyReason == ctrlflow.ControlFlow {
			if loopStatus == block.Break {
				return ctrlflow.Ok, status
			}
			if loopStatus == block.Continue {
				continue
			}
			return bodyReason, status
		}
		if bodyReason != ctrlflow.Ok {
			return bodyReason, status
		}
	}
}

// runBeginStatement implements a bare `begin ... end` scope (§4.1): no
// looping or argument binding, just a lexical frame.
func (w *Walker) runBeginStatement(ctx context.Context, b *ast.BlockStatement) (ctrlflow.EndReason, int) {
	w.Blocks.Push(&block.Block{Type: block.Begin, SrcFilename: w.blockFile(b.R)})
	defer w.Blocks.Pop()
	return w.EvalJobList(ctx, b.Body)
}
