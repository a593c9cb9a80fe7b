// Package builtin supplies a working set of builtin commands against the
// engine.BuiltinFunc calling contract (§1: "only their calling contract is
// specified" — implementations are a collaborator, not core). The core
// doesn't need these to be complete to exercise every SPEC_FULL.md
// operation, but a shell that can't run `test`, `set`, or `cd` can't drive
// any of the §8 end-to-end scenarios, so this package gives cmd/corvid a
// real, if modest, standard set, grounded where original_source has a
// matching builtin_*.cpp.
package builtin

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/corvidshell/corvid/internal/engine"
	"github.com/corvidshell/corvid/internal/env"
	"github.com/corvidshell/corvid/internal/process"
	"github.com/corvidshell/corvid/internal/walker"
)

// Register wires the standard set onto eng.Builtins. `status`/`jobs`/
// `disown` need the block stack and background-job list, neither reachable
// through the env.Store the BuiltinFunc signature carries, so their
// closures capture w directly rather than widening the contract (§1
// calling-contract note).
func Register(eng *engine.Engine, w *walker.Walker) {
	eng.Builtins["echo"] = echoBuiltin
	eng.Builtins["true"] = trueBuiltin
	eng.Builtins["false"] = falseBuiltin
	eng.Builtins["pwd"] = pwdBuiltin
	eng.Builtins["cd"] = cdBuiltin
	eng.Builtins["set"] = setBuiltin
	eng.Builtins["count"] = countBuiltin
	eng.Builtins["test"] = testBuiltin
	eng.Builtins["["] = testBuiltin
	eng.Builtins["exit"] = exitBuiltin
	eng.Builtins["status"] = func(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, store env.Store) (int, error) {
		return statusBuiltin(args, stdout, w)
	}
	eng.Builtins["jobs"] = func(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, store env.Store) (int, error) {
		return jobsBuiltin(stdout, w)
	}
	eng.Builtins["disown"] = func(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, store env.Store) (int, error) {
		return disownBuiltin(args, stderr, w)
	}
}

func echoBuiltin(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, store env.Store) (int, error) {
	newline := true
	words := args[1:]
	for len(words) > 0 && words[0] == "-n" {
		newline = false
		words = words[1:]
	}
	fmt.Fprint(stdout, strings.Join(words, " "))
	if newline {
		fmt.Fprintln(stdout)
	}
	return process.StatusOk, nil
}

func trueBuiltin(context.Context, []string, io.Reader, io.Writer, io.Writer, env.Store) (int, error) {
	return process.StatusOk, nil
}

func falseBuiltin(context.Context, []string, io.Reader, io.Writer, io.Writer, env.Store) (int, error) {
	return process.StatusCmdError, nil
}

func pwdBuiltin(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, store env.Store) (int, error) {
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(stderr, "pwd:", err)
		return process.StatusCmdError, nil
	}
	fmt.Fprintln(stdout, dir)
	return process.StatusOk, nil
}

// cdBuiltin chdirs the whole process, not just this builtin's goroutine:
// PWD is process-global in the C9/C6 split, matching how the teacher's
// External dispatch inherits cwd from os.Getwd at spawn time.
func cdBuiltin(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, store env.Store) (int, error) {
	target := ""
	if len(args) > 1 {
		target = args[1]
	} else if home, ok := store.Get("HOME", env.ScopeGlobal); ok && len(home.Values) > 0 {
		target = home.Values[0]
	}
	if target == "" {
		fmt.Fprintln(stderr, "cd: no home directory set")
		return process.StatusCmdError, nil
	}
	if err := os.Chdir(target); err != nil {
		fmt.Fprintln(stderr, "cd:", err)
		return process.StatusCmdError, nil
	}
	if wd, err := os.Getwd(); err == nil {
		store.Set("PWD", env.ScopeGlobal, true, false, []string{wd})
	}
	return process.StatusOk, nil
}

// setBuiltin implements the common case of `set NAME VALUE...` and `set -e
// NAME` (original_source src/builtin_set.cpp covers far more: scopes,
// listing, --query; this is the slice the §8 scenarios exercise).
func setBuiltin(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, store env.Store) (int, error) {
	rest := args[1:]
	scope := env.ScopeGlobal
	exported := false
	erase := false
	for len(rest) > 0 && strings.HasPrefix(rest[0], "-") {
		switch rest[0] {
		case "-l", "--local":
			scope = env.ScopeLocal
		case "-g", "--global":
			scope = env.ScopeGlobal
		case "-x", "--export":
			exported = true
		case "-e", "--erase":
			erase = true
		default:
			fmt.Fprintf(stderr, "set: unknown flag %q\n", rest[0])
			return process.StatusInvalidArgs, nil
		}
		rest = rest[1:]
	}
	if len(rest) == 0 {
		for _, name := range store.Names(env.ScopeGlobal) {
			v, _ := store.Get(name, env.ScopeGlobal)
			fmt.Fprintf(stdout, "%s %s\n", name, strings.Join(v.Values, " "))
		}
		return process.StatusOk, nil
	}
	name := rest[0]
	if erase {
		if store.Remove(name, scope) != env.SetOk {
			return process.StatusCmdError, nil
		}
		return process.StatusOk, nil
	}
	status := store.Set(name, scope, exported, false, rest[1:])
	if status != env.SetOk {
		return process.StatusCmdError, nil
	}
	return process.StatusOk, nil
}

func countBuiltin(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, store env.Store) (int, error) {
	n := len(args) - 1
	fmt.Fprintln(stdout, n)
	if n == 0 {
		return process.StatusCmdError, nil
	}
	return process.StatusOk, nil
}

func exitBuiltin(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, store env.Store) (int, error) {
	code := process.StatusOk
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			code = n
		}
	}
	os.Exit(code)
	return code, nil // unreachable
}

func statusBuiltin(args []string, stdout io.Writer, w *walker.Walker) (int, error) {
	sub := ""
	if len(args) > 1 {
		sub = strings.TrimPrefix(args[1], "--")
		sub = strings.TrimPrefix(sub, "-")
	}
	switch sub {
	case "b", "is-block", "":
		if w.Blocks.IsBlockScope() {
			return process.StatusOk, nil
		}
		return process.StatusCmdError, nil
	default:
		fmt.Fprintf(stdout, "status: unsupported subcommand %q\n", args[1])
		return process.StatusInvalidArgs, nil
	}
}

func jobsBuiltin(stdout io.Writer, w *walker.Walker) (int, error) {
	jobs := w.ActiveJobs()
	if len(jobs) == 0 {
		return process.StatusCmdError, nil
	}
	for _, j := range jobs {
		fmt.Fprintf(stdout, "[%d]\t%s\n", j.ID, j.Command)
	}
	return process.StatusOk, nil
}

// testBuiltin implements the common one- and three-argument forms of POSIX
// test(1)/[(1): string/numeric comparisons and a few file predicates. `[`
// requires (and strips) a trailing `]`.
func testBuiltin(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, store env.Store) (int, error) {
	cmdArgs := args[1:]
	if args[0] == "[" {
		if len(cmdArgs) == 0 || cmdArgs[len(cmdArgs)-1] != "]" {
			fmt.Fprintln(stderr, "[: missing closing ']'")
			return process.StatusInvalidArgs, nil
		}
		cmdArgs = cmdArgs[:len(cmdArgs)-1]
	}

	ok, err := evalTest(cmdArgs)
	if err != nil {
		fmt.Fprintln(stderr, "test:", err)
		return process.StatusInvalidArgs, nil
	}
	if ok {
		return process.StatusOk, nil
	}
	return process.StatusCmdError, nil
}

func evalTest(args []string) (bool, error) {
	switch len(args) {
	case 0:
		return false, nil
	case 1:
		return args[0] != "", nil
	case 2:
		switch args[0] {
		case "-z":
			return args[1] == "", nil
		case "-n":
			return args[1] != "", nil
		case "-e", "-f":
			_, err := os.Stat(args[1])
			return err == nil, nil
		case "-d":
			fi, err := os.Stat(args[1])
			return err == nil && fi.IsDir(), nil
		case "-x":
			fi, err := os.Stat(args[1])
			return err == nil && fi.Mode()&0111 != 0, nil
		case "!":
			ok, err := evalTest(args[1:])
			return !ok, err
		default:
			return false, fmt.Errorf("unknown unary operator %q", args[0])
		}
	case 3:
		lhs, op, rhs := args[0], args[1], args[2]
		switch op {
		case "=", "==":
			return lhs == rhs, nil
		case "!=":
			return lhs != rhs, nil
		case "-eq", "-ne", "-lt", "-le", "-gt", "-ge":
			l, err := strconv.Atoi(lhs)
			if err != nil {
				return false, fmt.Errorf("%q is not a number", lhs)
			}
			r, err := strconv.Atoi(rhs)
			if err != nil {
				return false, fmt.Errorf("%q is not a number", rhs)
			}
			switch op {
			case "-eq":
				return l == r, nil
			case "-ne":
				return l != r, nil
			case "-lt":
				return l < r, nil
			case "-le":
				return l <= r, nil
			case "-gt":
				return l > r, nil
			default:
				return l >= r, nil
			}
		default:
			return false, fmt.Errorf("unknown binary operator %q", op)
		}
	default:
		return false, fmt.Errorf("too many arguments")
	}
}

func disownBuiltin(args []string, stderr io.Writer, w *walker.Walker) (int, error) {
	id := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(strings.TrimPrefix(args[1], "%"))
		if err != nil {
			fmt.Fprintf(stderr, "disown: invalid job id %q\n", args[1])
			return process.StatusInvalidArgs, nil
		}
		id = n
	}
	if !w.DisownJob(id) {
		fmt.Fprintln(stderr, "disown: no such job")
		return process.StatusCmdError, nil
	}
	return process.StatusOk, nil
}
