package walker

import (
	"os"
	"strconv"

	"github.com/corvidshell/corvid/internal/ast"
	"github.com/corvidshell/corvid/internal/ctrlflow"
	"github.com/corvidshell/corvid/internal/env"
	"github.com/corvidshell/corvid/internal/job"
	"github.com/corvidshell/corvid/internal/process"
	"github.com/corvidshell/corvid/internal/redir"
	"github.com/corvidshell/corvid/internal/trace"
)

// construct turns an *ast.JobNode into a runtime *job.Job (§4.2 population
// phase), expanding every process's command and arguments and resolving
// its type (External/Builtin/Function/Exec/Eval).
func (w *Walker) construct(jn *ast.JobNode) (*job.Job, ctrlflow.EndReason, int) {
	procs := make([]*process.Process, 0, len(jn.Processes))
	for _, stmt := range jn.Processes {
		p, reason, status := w.buildProcess(stmt)
		if reason != ctrlflow.Ok {
			return nil, reason, status
		}
		procs = append(procs, p)
	}
	j := job.New(w.jobIDs.Allocate(), procs, jn.Command)
	j.WantsTiming = jn.WantsTiming
	j.InitialBackground = jn.Background
	return j, ctrlflow.Ok, process.StatusOk
}

func (w *Walker) buildProcess(stmt *ast.ProcessStmt) (*process.Process, ctrlflow.EndReason, int) {
	if stmt.Block != nil {
		return w.buildBlockProcess(stmt)
	}
	cmd, err := w.expander().ExpandOne(stmt.Command.Text)
	if err != nil {
		reason, status := w.reportError(trace.KindUnmatchedWildcard, stmt.R, process.StatusUnmatchedWildcard, "%v", err)
		return nil, reason, status
	}
	if cmd == "" {
		reason, status := w.reportError(trace.KindIllegalCommand, stmt.R, process.StatusIllegalCmd, "the command name was empty after expansion")
		return nil, reason, status
	}

	globMode := env.GlobFailglob
	if cmd == "set" || cmd == "count" {
		globMode = env.GlobNullglob
	}
	texts := make([]string, len(stmt.Args))
	for i, a := range stmt.Args {
		texts[i] = a.Text
	}
	args, err := w.expander().Expand(texts, globMode)
	if err != nil {
		reason, status := w.reportError(trace.KindUnmatchedWildcard, stmt.R, process.StatusUnmatchedWildcard, "%v", err)
		return nil, reason, status
	}

	argv := append([]string{cmd}, args...)
	typ, funcProps, body := w.resolveProcessType(stmt.Decorator, cmd, len(stmt.Args) == 0 && len(stmt.Redirections) == 0, &argv)

	specs, reason, status := w.buildRedirections(stmt.Redirections)
	if reason != ctrlflow.Ok {
		return nil, reason, status
	}

	p := &process.Process{
		Type:         typ,
		Argv:         argv,
		Redirections: specs,
		MergeStderr:  stmt.MergeStderr,
		Body:         body,
		FuncProps:    funcProps,
		SourceName:   w.blockFile(stmt.R),
	}
	return p, ctrlflow.Ok, process.StatusOk
}

// buildBlockProcess builds a BlockNode process for a block used as a
// pipeline stage (§3 Process.type BlockNode). It registers the body with
// w.blockNodeJobs so EvalBody (blocks.go) recovers the construct's real
// loop/scope semantics instead of treating it as a generic Begin, the same
// mechanism a redirected-but-unpiped block job uses (runBlockNodeJob).
func (w *Walker) buildBlockProcess(stmt *ast.ProcessStmt) (*process.Process, ctrlflow.EndReason, int) {
	b := stmt.Block
	specs, reason, status := w.buildRedirections(b.Redirections)
	if reason != ctrlflow.Ok {
		return nil, reason, status
	}
	p := &process.Process{
		Type:         process.BlockNode,
		Argv:         []string{blockName(b.Header)},
		Redirections: specs,
		MergeStderr:  stmt.MergeStderr,
		Body:         b.Body,
		SourceName:   w.blockFile(b.R),
	}
	if w.blockNodeJobs == nil {
		w.blockNodeJobs = make(map[*ast.JobList]*ast.BlockStatement)
	}
	w.blockNodeJobs[b.Body] = b
	return p, ctrlflow.Ok, process.StatusOk
}

// resolveProcessType implements the §4.2/§4.1 decorator resolution rule
// (`none` falls back to function > builtin > external) plus the implicit
// `cd` special case. argv is rewritten in place for the implicit-cd case.
func (w *Walker) resolveProcessType(dec ast.Decorator, cmd string, bareWord bool, argv *[]string) (process.Type, *env.FunctionProperties, *ast.JobList) {
	switch dec {
	case ast.DecoratorCommand:
		return process.External, nil, nil
	case ast.DecoratorBuiltin:
		return process.Builtin, nil, nil
	case ast.DecoratorExec:
		return process.Exec, nil, nil
	}

	if cmd == "eval" {
		return process.Eval, nil, nil
	}
	if w.Funcs.Exists(cmd) {
		props, _ := w.Funcs.GetProperties(cmd)
		body, _ := props.Body.(*ast.JobList)
		return process.Function, &props, body
	}
	if w.builtinExists(cmd) {
		return process.Builtin, nil, nil
	}
	if bareWord {
		if fi, err := os.Stat(cmd); err == nil && fi.IsDir() {
			*argv = []string{"cd", cmd}
			if w.Funcs.Exists("cd") {
				props, _ := w.Funcs.GetProperties("cd")
				body, _ := props.Body.(*ast.JobList)
				return process.Function, &props, body
			}
			if w.builtinExists("cd") {
				return process.Builtin, nil, nil
			}
		}
	}
	// Resolution is deferred to $PATH lookup at spawn time; an unresolved
	// name surfaces there as StatusCmdUnknown (§4.3, §7 CommandNotFound).
	return process.External, nil, nil
}

func (w *Walker) builtinExists(name string) bool {
	_, ok := w.Engine.Builtins[name]
	return ok
}

// buildRedirections converts AST redirections into redir.Spec, expanding
// each target (§4.2 step 2).
func (w *Walker) buildRedirections(rs []ast.Redirection) ([]redir.Spec, ctrlflow.EndReason, int) {
	specs := make([]redir.Spec, 0, len(rs))
	for _, r := range rs {
		mode := convertRedirMode(r.Mode)
		target := r.Target.Text
		if target != "-" {
			expanded, err := w.expander().ExpandOne(target)
			if err != nil {
				reason, status := w.reportError(trace.KindRedirection, r.Range, process.StatusInvalidArgs, "%v", err)
				return nil, reason, status
			}
			target = expanded
		}
		if mode == redir.Fd && target != "-" {
			if _, err := strconv.Atoi(target); err != nil {
				reason, status := w.reportError(trace.KindRedirection, r.Range, process.StatusInvalidArgs, "invalid fd redirection target %q", target)
				return nil, reason, status
			}
		}
		specs = append(specs, redir.Spec{FD: r.Fd, Mode: mode, Target: target})
	}
	return specs, ctrlflow.Ok, process.StatusOk
}

func convertRedirMode(m ast.RedirMode) redir.Mode {
	switch m {
	case ast.RedirOverwrite:
		return redir.Overwrite
	case ast.RedirAppend:
		return redir.Append
	case ast.RedirInput:
		return redir.Input
	case ast.RedirFd:
		return redir.Fd
	case ast.RedirNoclobber:
		return redir.Noclobber
	default:
		return redir.Overwrite
	}
}

