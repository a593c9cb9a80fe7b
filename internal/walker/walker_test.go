package walker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidshell/corvid/internal/builtin"
	"github.com/corvidshell/corvid/internal/corvidlog"
	"github.com/corvidshell/corvid/internal/ctrlflow"
	"github.com/corvidshell/corvid/internal/engine"
	"github.com/corvidshell/corvid/internal/env"
	"github.com/corvidshell/corvid/internal/events"
	"github.com/corvidshell/corvid/internal/reaper"
	"github.com/corvidshell/corvid/internal/script"
	"github.com/corvidshell/corvid/internal/walker"
)

// newTestWalker wires the same collaborators cmd/corvid.run does, minus the
// terminal controller (non-interactive, no pgroup/tty handoff needed to
// drive the §8 end-to-end scenarios).
func newTestWalker(t *testing.T) *walker.Walker {
	t.Helper()
	log := corvidlog.Nop{}
	store := env.NewMemStore()
	funcs := env.NewMemFunctionStore()
	evStore := events.NewStore()
	eng := engine.New(log, store)
	watcher := reaper.NewWatcher()
	rp := reaper.New(watcher, evStore, log)
	w := walker.New(log, store, funcs, evStore, eng, nil, rp)
	builtin.Register(eng, w)
	return w
}

func run(t *testing.T, w *walker.Walker, src string) (ctrlflow.EndReason, int) {
	t.Helper()
	list, err := script.Parse(t.Name(), src)
	require.NoError(t, err)
	return w.Run(context.Background(), list)
}

// 1. Simple pipeline (§8 scenario 1): echo hello | tr a-z A-Z, captured via
// an explicit redirection so the assertion doesn't depend on swapping
// os.Stdout out from under a concurrently dispatched external process.
func TestEndToEndSimplePipeline(t *testing.T) {
	w := newTestWalker(t)
	out := filepath.Join(t.TempDir(), "out.txt")

	_, status := run(t, w, "echo hello | tr a-z A-Z > "+out)

	require.Equal(t, 0, status)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "HELLO\n", string(got))
}

// 2. Redirection with append (§8 scenario 2).
func TestEndToEndRedirectionWithAppend(t *testing.T) {
	w := newTestWalker(t)
	f := filepath.Join(t.TempDir(), "t1.txt")

	_, status := run(t, w, "echo a > "+f+"\necho b >> "+f)

	require.Equal(t, 0, status)
	got, err := os.ReadFile(f)
	require.NoError(t, err)
	require.Equal(t, "a\nb\n", string(got))
}

// 3. Stderr->stdout merge (§8 scenario 3): the merge is applied on `end`
// itself, then piped to `cat`, exactly as spec.md phrases it; `cat`'s
// output is captured to a file so the assertion is deterministic.
func TestEndToEndStderrMergePreservesOrder(t *testing.T) {
	w := newTestWalker(t)
	out := filepath.Join(t.TempDir(), "out.txt")

	src := "begin\n" +
		"echo out\n" +
		"echo err 1>&2\n" +
		"end 2>&1 | cat > " + out

	_, status := run(t, w, src)

	require.Equal(t, 0, status)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "out\nerr\n", string(got))
}

// 4. for loop with break (§8 scenario 4): break fires before the loop body's
// echo on the iteration that trips it, so 3 and 4 never print.
func TestEndToEndForLoopWithBreak(t *testing.T) {
	w := newTestWalker(t)
	out := filepath.Join(t.TempDir(), "out.txt")

	src := "for i in 1 2 3 4\n" +
		"if test $i -eq 3\n" +
		"break\n" +
		"end\n" +
		"echo $i\n" +
		"end > " + out

	_, status := run(t, w, src)

	require.Equal(t, 0, status)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "1\n2\n", string(got))
}

// 5. Function with local variable assignment on the call (§8 scenario 5):
// `X=hello show` makes $X visible inside show's body (block.Stack's
// VariableAssignment-to-FunctionCall carryover) but not after the call
// returns, so the trailing `echo done $X` sees $X unset and it vanishes
// from argv entirely (the $UNSET vanishing rule in env/expand.go), printing "done"
// with no trailing space.
func TestEndToEndFunctionLocalAssignmentScopedToCall(t *testing.T) {
	w := newTestWalker(t)
	out := filepath.Join(t.TempDir(), "out.txt")

	src := "function show\n" +
		"echo $X\n" +
		"end\n" +
		"begin\n" +
		"X=hello show\n" +
		"echo done $X\n" +
		"end > " + out

	_, status := run(t, w, src)

	require.Equal(t, 0, status)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "hello\ndone\n", string(got))
}

// 6. Infinite recursion guard (§8 scenario 6): a function that immediately
// calls itself is refused rather than crashing the process.
func TestEndToEndInfiniteRecursionGuard(t *testing.T) {
	w := newTestWalker(t)
	var stderr errorCapture
	w.Stderr = &stderr

	src := "function r\nr\nend\nr"

	reason, status := run(t, w, src)

	require.Equal(t, ctrlflow.Error, reason)
	require.NotEqual(t, 0, status)
	require.Contains(t, stderr.String(), "r")
	require.Len(t, stderr.lines(), 1)
}

// errorCapture is a minimal io.Writer that remembers what was written, good
// enough to assert the infinite-recursion guard prints exactly one line.
type errorCapture struct {
	buf []byte
}

func (e *errorCapture) Write(p []byte) (int, error) {
	e.buf = append(e.buf, p...)
	return len(p), nil
}

func (e *errorCapture) String() string { return string(e.buf) }

func (e *errorCapture) lines() []string {
	s := string(e.buf)
	if s == "" {
		return nil
	}
	if s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
