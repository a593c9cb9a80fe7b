package walker

import (
	"github.com/corvidshell/corvid/internal/ast"
	"github.com/corvidshell/corvid/internal/block"
	"github.com/corvidshell/corvid/internal/ctrlflow"
	"github.com/corvidshell/corvid/internal/engine"
	"github.com/corvidshell/corvid/internal/env"
	"github.com/corvidshell/corvid/internal/events"
	"github.com/corvidshell/corvid/internal/process"
)

// runFunctionDefinition implements `function NAME [opts]; BODY; end`:
// registering NAME into the function store and wiring any -e/-s/-v
// handlers into the event store (§6). Defining a function is itself a
// statement that always succeeds; it never runs the body.
func (w *Walker) runFunctionDefinition(h ast.FunctionHeader, b *ast.BlockStatement) (ctrlflow.EndReason, int) {
	props := env.FunctionProperties{
		Name:           h.Name,
		Args:           h.Options.Args,
		Body:           b.Body,
		Description:    h.Options.Description,
		DefinitionFile: w.blockFile(b.R),
		DefinitionLine: b.R.Line,
		NoScopeShadow:  h.Options.NoScopeShadow,
	}
	if len(h.Options.InheritVars) > 0 {
		props.InheritVars = make(map[string][]string, len(h.Options.InheritVars))
		for _, name := range h.Options.InheritVars {
			if v, ok := w.Store.Get(name, env.ScopeLocal); ok {
				props.InheritVars[name] = v.Values
			}
		}
	}
	w.Funcs.Add(h.Name, props)
	w.registerFunctionEvents(h.Name, h.Options)
	w.LastStatus = process.StatusOk
	return ctrlflow.Ok, process.StatusOk
}

func (w *Walker) registerFunctionEvents(name string, opts ast.FunctionOptions) {
	w.Events.Unregister(name)
	for _, generic := range opts.OnEvent {
		w.Events.Register(events.Handler{
			Description:  events.Description{Kind: events.KindGeneric, Name: generic},
			FunctionName: name,
		})
	}
	for _, sig := range opts.OnSignal {
		w.Events.Register(events.Handler{
			Description:  events.Description{Kind: events.KindSignal, Signal: signalNumber(sig)},
			FunctionName: name,
		})
	}
	for _, v := range opts.OnVariable {
		w.Events.Register(events.Handler{
			Description:  events.Description{Kind: events.KindVariable, Variable: v},
			FunctionName: name,
		})
	}
	if opts.OnJobExit != 0 {
		w.Events.Register(events.Handler{
			Description:  events.Description{Kind: events.KindJobExit, Pid: opts.OnJobExit},
			FunctionName: name,
		})
	}
	if opts.OnProcessExit != 0 {
		w.Events.Register(events.Handler{
			Description:  events.Description{Kind: events.KindProcessExit, Pid: opts.OnProcessExit},
			FunctionName: name,
		})
	}
}

// callFunction runs a registered function by name with args directly
// through EvalBody, the path event dispatch (jobs.go dispatchEvent) uses to
// invoke a handler outside of any pipeline, with the same scoping and
// EndReason handling an ordinary function-process dispatch gets (§6).
func (w *Walker) callFunction(name string, args []string) int {
	props, ok := w.Funcs.GetProperties(name)
	if !ok {
		return process.StatusCmdUnknown
	}
	body, _ := props.Body.(*ast.JobList)
	meta := engine.BlockMeta{
		Type:         block.FunctionCall,
		FunctionName: name,
		FunctionArgs: args,
		SrcFilename:  props.DefinitionFile,
		SrcLineno:    props.DefinitionLine,
	}
	if props.NoScopeShadow {
		meta.Type = block.FunctionCallNoShadow
	}
	_, status := w.EvalBody(body, meta, w.currentIO())
	return status
}

func signalNumber(name string) int {
	if n, ok := signalNames[name]; ok {
		return n
	}
	return 0
}

var signalNames = map[string]int{
	"HUP": 1, "INT": 2, "QUIT": 3, "KILL": 9, "TERM": 15,
	"USR1": 10, "USR2": 12, "CHLD": 17, "CONT": 18, "STOP": 19,
	"TSTP": 20, "WINCH": 28,
}
