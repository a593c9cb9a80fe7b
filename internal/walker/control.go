package walker

import (
	"context"
	"path/filepath"

	"github.com/corvidshell/corvid/internal/ast"
	"github.com/corvidshell/corvid/internal/ctrlflow"
	"github.com/corvidshell/corvid/internal/process"
	"github.com/corvidshell/corvid/internal/trace"
)

// runIfStatement implements `if COND; BODY; else if COND; BODY; else; BODY;
// end` (§4.1): clauses are tried in order, the first whose condition
// succeeds runs its body; otherwise the else body (if any) runs.
func (w *Walker) runIfStatement(ctx context.Context, s *ast.IfStatement) (ctrlflow.EndReason, int) {
	for _, clause := range s.Clauses {
		if w.checkCancelled() {
			return ctrlflow.Cancelled, w.LastStatus
		}
		reason, status := w.EvalJobList(ctx, clause.Cond)
		if reason != ctrlflow.Ok {
			return reason, status
		}
		if status == 0 {
			return w.EvalJobList(ctx, clause.Body)
		}
	}
	if s.ElseBody != nil {
		return w.EvalJobList(ctx, s.ElseBody)
	}
	// No clause matched and there's no else: §4.1 "status when no branch
	// matched is 0", not whatever $status happened to be beforehand.
	return ctrlflow.Ok, process.StatusOk
}

// runSwitchStatement implements `switch VALUE; case PAT...; BODY; end`
// (§4.1): the scrutinee is expanded to exactly one word, then matched
// against each case's glob patterns in order (filepath.Match, the stdlib
// equivalent of fnmatch(3) the original wildcard_match uses).
func (w *Walker) runSwitchStatement(ctx context.Context, s *ast.SwitchStatement) (ctrlflow.EndReason, int) {
	value, err := w.expander().ExpandOne(s.Scrutinee.Text)
	if err != nil {
		return w.reportError(trace.KindExpand, s.R, process.StatusExpandError, "%v", err)
	}
	for _, c := range s.Cases {
		for _, pat := range c.Patterns {
			patText, err := w.expander().ExpandOne(pat.Text)
			if err != nil {
				continue
			}
			if matched, _ := filepath.Match(patText, value); matched {
				return w.EvalJobList(ctx, c.Body)
			}
		}
	}
	// §8: "switch x; case; end with no matching case yields $status==0".
	return ctrlflow.Ok, process.StatusOk
}
