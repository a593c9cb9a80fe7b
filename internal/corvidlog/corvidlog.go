// Package corvidlog wires the ambient structured-logging stack (SPEC_FULL
// AMBIENT STACK): a zerolog.Logger, console-formatted when stderr is a tty
// (detected with github.com/mattn/go-isatty, the same pairing used by
// porkg-porkg in the retrieval pack) and JSON lines otherwise.
package corvidlog

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger is the narrow logging surface consumed by the engine, reaper,
// terminal controller, and tree walker. Only job lifecycle events log at
// debug level; the walker logs only failed terminal handoffs and otherwise
// reports through internal/trace on the Error path.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
}

type zlogger struct {
	z zerolog.Logger
}

// New builds a Logger writing to w. If w is an *os.File open on a tty, it
// uses zerolog's human-readable console writer; otherwise plain JSON lines.
func New(w io.Writer) Logger {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w = zerolog.ConsoleWriter{Out: f, NoColor: false}
	}
	return &zlogger{z: zerolog.New(w).With().Timestamp().Logger()}
}

// Default logs to os.Stderr.
func Default() Logger { return New(os.Stderr) }

func withKV(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		e = e.Interface(key, kv[i+1])
	}
	return e
}

func (l *zlogger) Debug(msg string, kv ...any) { withKV(l.z.Debug(), kv).Msg(msg) }
func (l *zlogger) Info(msg string, kv ...any)  { withKV(l.z.Info(), kv).Msg(msg) }
func (l *zlogger) Warn(msg string, kv ...any)  { withKV(l.z.Warn(), kv).Msg(msg) }
func (l *zlogger) Error(msg string, err error, kv ...any) {
	withKV(l.z.Error().Err(err), kv).Msg(msg)
}

// Nop is a Logger that discards everything, used in tests that don't care
// about log output.
type Nop struct{}

func (Nop) Debug(string, ...any)        {}
func (Nop) Info(string, ...any)         {}
func (Nop) Warn(string, ...any)         {}
func (Nop) Error(string, error, ...any) {}
