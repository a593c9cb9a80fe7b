// Command corvid is the CLI front-end binding together the execution
// engine, tree walker, and job-control collaborators into a runnable
// shell (§6 CLI surface), in the teacher's manner of wiring a cobra root
// command with pflag-backed shorthand flags (orospakr-spawnexec has no CLI
// of its own; the pattern is grounded on aledsdavies-opal/cmd/devcmd).
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/corvidshell/corvid/internal/builtin"
	"github.com/corvidshell/corvid/internal/corvidlog"
	"github.com/corvidshell/corvid/internal/ctrlflow"
	"github.com/corvidshell/corvid/internal/engine"
	"github.com/corvidshell/corvid/internal/env"
	"github.com/corvidshell/corvid/internal/events"
	"github.com/corvidshell/corvid/internal/process"
	"github.com/corvidshell/corvid/internal/reaper"
	"github.com/corvidshell/corvid/internal/script"
	"github.com/corvidshell/corvid/internal/terminal"
	"github.com/corvidshell/corvid/internal/walker"
)

// flags mirrors the §6 CLI surface summary.
var flags struct {
	command      string
	interactive  bool
	loginShell   bool
	noExec       bool
	profilePath  string
	debugLevel   int
	debugFrames  int
	printVersion bool
}

const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:           "corvid [script]",
		Short:         "corvid is a shell execution engine front-end",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	fs := root.Flags()
	fs.StringVarP(&flags.command, "command", "c", "", "run CMD instead of reading a script")
	fs.BoolVarP(&flags.interactive, "interactive", "i", false, "run in interactive mode")
	fs.BoolVarP(&flags.loginShell, "login", "l", false, "act as a login shell")
	fs.BoolVarP(&flags.noExec, "no-execute", "n", false, "parse but do not execute (no-exec)")
	fs.StringVarP(&flags.profilePath, "profile", "p", "", "write profiling data to FILE")
	fs.IntVarP(&flags.debugLevel, "debug", "d", 0, "debug category level")
	fs.IntVarP(&flags.debugFrames, "debug-stack-frames", "D", 0, "debug stack frames to print")
	fs.BoolVarP(&flags.printVersion, "version", "v", false, "print version and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "corvid:", err)
		os.Exit(process.StatusCmdError)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flags.printVersion {
		fmt.Fprintf(cmd.OutOrStdout(), "corvid %s\n", version)
		return nil
	}

	log := corvidlog.Logger(corvidlog.Nop{})
	if flags.debugLevel > 0 {
		log = corvidlog.New(os.Stderr)
	}
	if flags.profilePath != "" {
		log.Info("profiling requested but not implemented by this front-end", "path", flags.profilePath)
	}

	store := env.NewMemStore()
	seedEnv(store)
	if flags.loginShell {
		store.Set("__corvid_login_shell", env.ScopeGlobal, false, false, []string{"1"})
	}
	funcs := env.NewMemFunctionStore()
	evStore := events.NewStore()
	eng := engine.New(log, store)
	eng.Interactive = flags.interactive

	stdinFD := int(os.Stdin.Fd())
	isTTY := isatty.IsTerminal(uintptr(stdinFD))
	var term *terminal.Controller
	if flags.interactive && isTTY {
		term = terminal.NewController(stdinFD, os.Getpid(), log)
		eng.Term = term
	}

	watcher := reaper.NewWatcher()
	rp := reaper.New(watcher, evStore, log)

	w := walker.New(log, store, funcs, evStore, eng, term, rp)
	builtin.Register(eng, w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sigCh {
			w.Cancel()
		}
	}()

	go watcher.Run(ctx)

	switch {
	case flags.command != "":
		w.SourceName = "-c"
		return runSource(ctx, w, "-c", flags.command, flags.noExec)
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		w.SourceName = args[0]
		return runSource(ctx, w, args[0], string(data), flags.noExec)
	default:
		w.SourceName = "stdin"
		return runInteractive(ctx, w, flags.noExec)
	}
}

// seedEnv copies the process environment into the global scope, the
// boundary crossing described in §6 env.Store.export_arr's inverse.
func seedEnv(store env.Store) {
	for _, kv := range os.Environ() {
		name, value := splitEnviron(kv)
		store.Set(name, env.ScopeGlobal, true, false, []string{value})
	}
}

func splitEnviron(kv string) (string, string) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:]
		}
	}
	return kv, ""
}

// runSource parses one complete script and runs it once (§6 `-c` / script
// file forms).
func runSource(ctx context.Context, w *walker.Walker, filename, src string, noExec bool) error {
	list, err := script.Parse(filename, src)
	if err != nil {
		return err
	}
	if noExec {
		return nil
	}
	_, status := w.Run(ctx, list)
	if status != 0 {
		os.Exit(status)
	}
	return nil
}

// runInteractive reads one line at a time from stdin and runs each as its
// own top-level script, the minimal REPL loop this front-end needs to
// drive the walker from a terminal or piped stdin (§6 no `-c`/file form).
func runInteractive(ctx context.Context, w *walker.Walker, noExec bool) error {
	reader := bufio.NewReader(os.Stdin)
	lastStatus := 0
	for {
		line, err := readLine(reader)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if line == "" {
			continue
		}
		list, perr := script.Parse("stdin", line)
		if perr != nil {
			fmt.Fprintln(os.Stderr, "corvid:", perr)
			lastStatus = 2
			continue
		}
		if noExec {
			continue
		}
		reason, status := w.Run(ctx, list)
		lastStatus = status
		if reason == ctrlflow.Cancelled {
			break
		}
	}
	if lastStatus != 0 {
		os.Exit(lastStatus)
	}
	return nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}
