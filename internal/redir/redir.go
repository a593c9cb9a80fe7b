// Package redir implements the redirection resolver (C1, §4, §8): turning
// declarative redirection specs into an ordered list of dup2/close actions.
// Grounded on the teacher's SysProcAttr (orospakr-spawnexec/cmd.go) and the
// original fish implementation's src/redirection.h.
package redir

import (
	"strconv"

	"golang.org/x/sys/unix"
)

// Mode is the redirection mode (§3).
type Mode int

const (
	Overwrite Mode = iota
	Append
	Input
	Fd
	Noclobber
)

// Spec is one declarative redirection, e.g. `2>&1` or `< in.txt` (§3).
type Spec struct {
	FD     int
	Mode   Mode
	Target string // path for Overwrite/Append/Input/Noclobber; fd or "-" for Fd
}

// Oflags returns the open(2) flag set for file-backed modes. Fd-mode specs
// have no oflags (IsClose or a dup instead).
func (s Spec) Oflags() int {
	switch s.Mode {
	case Overwrite:
		return unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC
	case Append:
		return unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND
	case Input:
		return unix.O_RDONLY
	case Noclobber:
		return unix.O_WRONLY | unix.O_CREAT | unix.O_EXCL
	}
	return 0
}

// IsClose reports whether this is an `fd>&-`-style close spec.
func (s Spec) IsClose() bool {
	return s.Mode == Fd && s.Target == "-"
}

// DupTarget parses a Fd-mode target as an integer fd. Only valid when
// Mode==Fd and !IsClose.
func (s Spec) DupTarget() (int, error) {
	return strconv.Atoi(s.Target)
}

// Action is one entry of a resolved dup2 action list (§3). Target<0 means
// close(Src).
type Action struct {
	Src    int
	Target int
}

// Chain is the resolved, ordered dup2 action list for one process.
type Chain []Action

// FdForTargetFD walks the chain forward, tracking what a given child fd
// ultimately resolves to — used to locate where a builtin should write
// stdout when later dup2s remap it (§3). Idempotent: re-walking the same
// chain yields the same answer (§8).
func (c Chain) FdForTargetFD(target int) int {
	m := map[int]int{}
	resolve := func(fd int) int {
		if s, ok := m[fd]; ok {
			return s
		}
		return fd
	}
	for _, a := range c {
		if a.Target >= 0 {
			m[a.Target] = resolve(a.Src)
		}
	}
	return resolve(target)
}
