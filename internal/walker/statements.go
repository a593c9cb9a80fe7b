package walker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/corvidshell/corvid/internal/ast"
	"github.com/corvidshell/corvid/internal/block"
	"github.com/corvidshell/corvid/internal/ctrlflow"
	"github.com/corvidshell/corvid/internal/env"
	"github.com/corvidshell/corvid/internal/job"
	"github.com/corvidshell/corvid/internal/process"
	"github.com/corvidshell/corvid/internal/trace"
)

// evalStatement dispatches one Statement node (§4.1). negate carries a
// `not` wrapper down from an enclosing NotStatement.
func (w *Walker) evalStatement(ctx context.Context, s ast.Statement, negate bool) (ctrlflow.EndReason, int) {
	switch v := s.(type) {
	case *ast.NotStatement:
		return w.evalStatement(ctx, v.Inner, !negate)
	case *ast.JobNode:
		return w.evalJobNode(ctx, v, negate)
	case *ast.BlockStatement:
		reason, status := w.evalBlockStatement(ctx, v, negate)
		return reason, status
	case *ast.IfStatement:
		reason, status := w.runIfStatement(ctx, v)
		if reason == ctrlflow.Ok {
			status = negateStatus(negate, status)
		}
		return reason, status
	case *ast.SwitchStatement:
		reason, status := w.runSwitchStatement(ctx, v)
		if reason == ctrlflow.Ok {
			status = negateStatus(negate, status)
		}
		return reason, status
	default:
		return w.reportError(trace.KindControl, s.Range(), process.StatusCmdError, "unrecognized statement node %T", v)
	}
}

// evalJobNode runs one pipeline (§4.1, §4.2, §4.3). break/continue/return
// are intercepted here by literal command name, before any Process/Job is
// constructed: the engine's BuiltinFunc calling contract (§1) has no access
// to the block stack, so these three core control-flow primitives are the
// walker's own responsibility rather than real builtins (§4.7, §9 EndReason
// design note).
func (w *Walker) evalJobNode(ctx context.Context, jn *ast.JobNode, negate bool) (ctrlflow.EndReason, int) {
	if reason, status, handled := w.tryControlKeyword(jn); handled {
		return reason, status
	}

	assignments, err := w.collectAssignments(jn)
	if err != nil {
		return w.reportError(trace.KindExpand, jn.R, process.StatusExpandError, "%v", err)
	}
	if len(assignments) > 0 {
		w.Blocks.Push(&block.Block{Type: block.VariableAssignment, SrcFilename: w.blockFile(jn.R)})
		for _, a := range assignments {
			w.Store.Set(a.name, env.ScopeLocal, true, false, []string{a.value})
		}
		defer w.Blocks.Pop()
	}

	j, reason, status := w.construct(jn)
	if reason != ctrlflow.Ok {
		return reason, status
	}
	if negate {
		j.Flags |= job.Negate
	}

	return w.launchJob(ctx, j)
}

// tryControlKeyword recognizes a single bare `break`, `continue`, or
// `return [code]` job and handles it directly (§4.7).
func (w *Walker) tryControlKeyword(jn *ast.JobNode) (ctrlflow.EndReason, int, bool) {
	if len(jn.Processes) != 1 {
		return 0, 0, false
	}
	p := jn.Processes[0]
	if p.Decorator != ast.DecoratorNone || len(p.Redirections) != 0 || len(p.Assignments) != 0 {
		return 0, 0, false
	}
	name := p.Command.Text
	switch name {
	case "break", "continue":
		if len(p.Args) != 0 {
			return 0, 0, false
		}
		if !w.Blocks.InLoop() {
			reason, status := w.reportError(trace.KindControl, jn.R, process.StatusInvalidArgs, "%s: not inside a loop", name)
			return reason, status, true
		}
		if name == "break" {
			w.Blocks.SetLoopStatus(block.Break)
		} else {
			w.Blocks.SetLoopStatus(block.Continue)
		}
		return ctrlflow.ControlFlow, w.LastStatus, true
	case "return":
		if len(p.Args) > 1 {
			return 0, 0, false
		}
		status := w.LastStatus
		if len(p.Args) == 1 {
			text, err := w.expander().ExpandOne(p.Args[0].Text)
			if err == nil {
				if n, err := strconv.Atoi(text); err == nil {
					status = n
				}
			}
		}
		w.Blocks.SetReturning(true)
		w.LastStatus = status
		return ctrlflow.ControlFlow, status, true
	}
	return 0, 0, false
}

type assignment struct {
	name  string
	value string
}

// collectAssignments expands every process's pre-command assignments in a
// job. All assignments in a pipeline share one VariableAssignment block
// scoped to the whole job rather than per-process (SUPPLEMENTED/DESIGN.md
// simplification: our engine dispatches every pipeline stage through one
// synchronous Launch call with no per-process scope hook).
func (w *Walker) collectAssignments(jn *ast.JobNode) ([]assignment, error) {
	var out []assignment
	for _, p := range jn.Processes {
		for _, a := range p.Assignments {
			val, err := w.expander().ExpandOne(a.Value.Text)
			if err != nil {
				return nil, fmt.Errorf("assignment %s: %w", a.Name, err)
			}
			out = append(out, assignment{name: a.Name, value: val})
		}
	}
	return out, nil
}

func (w *Walker) blockFile(r ast.SourceRange) string {
	if r.Filename != "" {
		return r.Filename
	}
	return w.SourceName
}
