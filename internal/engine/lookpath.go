package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/corvidshell/corvid/internal/process"
)

// ErrNotFound is returned by lookPath when no entry in PATH names an
// executable file, adapted from the teacher's package-level ErrNotFound
// (orospakr-spawnexec/error.go).
var ErrNotFound = errors.New("engine: executable file not found in $PATH")

// lookupError classifies a failed command-name resolution, the engine's
// equivalent of the teacher's *Error (orospakr-spawnexec/error.go), folded
// down to the single field the engine cares about: the name that failed.
type lookupError struct {
	Name string
	Err  error
}

func (e *lookupError) Error() string { return "exec: " + e.Name + ": " + e.Err.Error() }
func (e *lookupError) Unwrap() error { return e.Err }

// lookPath resolves name against path (in PATH-list form), the same search
// order as the teacher's LookPath (orospakr-spawnexec/lookpath.go) but fed
// from the shell's own $PATH variable rather than os.Getenv, since a
// variable the shell has locally exported may not be reflected in the
// Go process's own environment.
func lookPath(name string, path []string) (string, error) {
	if strings.Contains(name, "/") {
		if err := findExecutable(name); err != nil {
			return "", &lookupError{Name: name, Err: err}
		}
		return name, nil
	}
	for _, dir := range path {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		if err := findExecutable(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", &lookupError{Name: name, Err: ErrNotFound}
}

// LookupExternal resolves name against $PATH, the public form of lookPath
// the tree walker's construction phase uses for the implicit-`cd` check and
// upfront command resolution (§4.2).
func (e *Engine) LookupExternal(name string) (string, error) {
	return lookPath(name, e.pathList())
}

func findExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	m := fi.Mode()
	if m.IsDir() {
		return os.ErrPermission
	}
	if m&0111 != 0 {
		return nil
	}
	return os.ErrPermission
}

// classifyExecError maps a failed command resolution or spawn to the §6
// exit-status vocabulary (SUPPLEMENTED FEATURES: exec-failure
// classification, grounded on fish's errno switch in exec.cpp and adapted
// here onto Go's os.IsNotExist/os.IsPermission classifiers).
func classifyExecError(err error) int {
	var le *lookupError
	if errors.As(err, &le) {
		if errors.Is(le.Err, ErrNotFound) || os.IsNotExist(le.Err) {
			return process.StatusCmdUnknown
		}
		if os.IsPermission(le.Err) {
			return process.StatusNotExecutable
		}
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return process.StatusCmdUnknown
	case errors.Is(err, os.ErrPermission):
		return process.StatusNotExecutable
	default:
		return process.StatusExecFail
	}
}
