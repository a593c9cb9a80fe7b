package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/corvidshell/corvid/internal/block"
	"github.com/corvidshell/corvid/internal/ctrlflow"
	"github.com/corvidshell/corvid/internal/iochain"
	"github.com/corvidshell/corvid/internal/process"
	"github.com/corvidshell/corvid/internal/script"
)

// dispatchBuiltin invokes a BuiltinFunc (§4.3 Builtin dispatch, §4.4
// internal-process output). Output bound for a live pipe runs on the
// worker group so Launch's own dispatch loop never blocks on it; output
// bound for an in-memory buffer (command substitution, a later internal
// stage) or a real file/fd runs inline since neither can deadlock Launch.
func (e *Engine) dispatchBuiltin(ctx context.Context, p *process.Process, chain iochain.Chain, g *errgroup.Group) error {
	fn, ok := e.Builtins[argv0(p)]
	if !ok {
		p.MarkFailedSpawn(process.StatusCmdUnknown)
		p.Stderr = []byte(fmt.Sprintf("corvid: unknown command: %s\n", argv0(p)))
		return nil
	}

	stdin, stdout, stderr, outFill, errFill := e.builtinIO(chain)

	run := func() error {
		status, runErr := fn(ctx, p.Argv, stdin, stdout, stderr, e.Store)
		if runErr != nil {
			e.log.Debug("engine: builtin error", "argv0", argv0(p), "err", runErr)
			status = process.StatusCmdError
		}
		if outFill != nil {
			p.Stdout = capBytes(outFill.Buf, e.BufferCap, &p.Status.ReadTooMuch)
		}
		if errFill != nil {
			p.Stderr = capBytes(errFill.Buf, e.BufferCap, &p.Status.ReadTooMuch)
		}
		p.MarkFailedSpawn(status)
		return nil
	}

	if needsWorker(chain) {
		g.Go(run)
		return nil
	}
	return run()
}

// dispatchBlockOrFunction evaluates a Function or BlockNode process body
// through the tree walker (§4.3). Its ambient IO is handed through
// unchanged; the walker is responsible for pushing/popping its own block.
func (e *Engine) dispatchBlockOrFunction(ctx context.Context, p *process.Process, chain iochain.Chain, ev Evaluator, g *errgroup.Group) error {
	if p.Body == nil {
		p.MarkFailedSpawn(process.StatusOk)
		return nil
	}
	meta := BlockMeta{SrcFilename: p.SourceName, Type: block.Begin}
	if p.Type == process.Function && p.FuncProps != nil {
		meta.Type = block.FunctionCall
		if p.FuncProps.NoScopeShadow {
			meta.Type = block.FunctionCallNoShadow
		}
		meta.FunctionName = p.FuncProps.Name
		if len(p.Argv) > 1 {
			meta.FunctionArgs = p.Argv[1:]
		}
	}
	run := func() error {
		reason, status := ev.EvalBody(p.Body, meta, chain)
		p.MarkFailedSpawn(status)
		p.SetEndReason(reason)
		if reason == ctrlflow.Error {
			e.log.Debug("engine: block/function body returned an error", "argv0", argv0(p))
		}
		return nil
	}
	if needsWorker(chain) {
		g.Go(run)
		return nil
	}
	return run()
}

// dispatchEval implements the `eval` builtin's decorator form (§4.3, §9
// open question): concatenate argv with a leading space (matching fish's
// own `eval` wrapper_wrapper string, so `$IFS` word-splitting during
// expansion behaves the same as typing the words at a prompt), and run the
// result as a one-off job list sharing this process's ambient IO. A bare
// `eval` with no arguments is a no-op that succeeds.
func (e *Engine) dispatchEval(ctx context.Context, p *process.Process, chain iochain.Chain, ev Evaluator, g *errgroup.Group) error {
	if len(p.Argv) <= 1 {
		p.MarkFailedSpawn(process.StatusOk)
		return nil
	}
	if p.Body == nil {
		body, err := script.Parse(p.SourceName, " "+strings.Join(p.Argv[1:], " "))
		if err != nil {
			p.Stderr = []byte(fmt.Sprintf("corvid: eval: %v\n", err))
			p.MarkFailedSpawn(process.StatusInvalidArgs)
			return nil
		}
		p.Body = body
	}
	meta := BlockMeta{SrcFilename: p.SourceName}
	run := func() error {
		reason, status := ev.EvalBody(p.Body, meta, chain)
		p.MarkFailedSpawn(status)
		p.SetEndReason(reason)
		return nil
	}
	if needsWorker(chain) {
		g.Go(run)
		return nil
	}
	return run()
}

// builtinIO resolves a chain into the reader/writers a BuiltinFunc needs,
// per §4.4: a BufferFill target wins over a real fd, since it means a
// later internal stage (or command substitution) consumes the output
// in-memory rather than through the kernel.
func (e *Engine) builtinIO(chain iochain.Chain) (stdin io.Reader, stdout, stderr io.Writer, outFill, errFill *iochain.BufferFill) {
	var fillOut, fillErr *iochain.BufferFill
	for _, item := range chain {
		if item.Kind != iochain.ItemBufferFill {
			continue
		}
		switch item.FD {
		case 1:
			fillOut = item.Fill
		case 2:
			fillErr = item.Fill
		}
	}

	rf, _, _ := e.resolveFiles(chain)

	stdin = orDefault(rf.stdin, os.Stdin)
	if fillOut != nil {
		stdout = fillOut
	} else {
		stdout = orDefault(rf.stdout, os.Stdout)
	}
	if fillErr != nil {
		stderr = fillErr
	} else {
		stderr = orDefault(rf.stderr, os.Stderr)
	}
	return stdin, stdout, stderr, fillOut, fillErr
}

// capBytes truncates buf to n bytes, flipping *truncated when it had to.
func capBytes(buf []byte, n int, truncated *bool) []byte {
	if n <= 0 || len(buf) <= n {
		return buf
	}
	*truncated = true
	return buf[:n]
}
