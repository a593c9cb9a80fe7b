// Package terminal implements the terminal controller (C8, §4.5): giving
// and taking the controlling terminal to/from a job, and saving/restoring
// terminal modes. Grounded on the teacher's raw golang.org/x/sys/unix usage
// (orospakr-spawnexec uses unix.Wait4/unix.Kill directly rather than cgo);
// tty detection follows porkg-porkg's use of github.com/mattn/go-isatty.
package terminal

import (
	"errors"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"

	"github.com/corvidshell/corvid/internal/corvidlog"
)

// Controller owns the shell's relationship with its controlling terminal.
type Controller struct {
	StdinFD  int
	ShellPgid int
	log      corvidlog.Logger
}

func NewController(stdinFD, shellPgid int, log corvidlog.Logger) *Controller {
	return &Controller{StdinFD: stdinFD, ShellPgid: shellPgid, log: log}
}

// IsTTY reports whether StdinFD is a controlling terminal, via isatty.
func (c *Controller) IsTTY() bool {
	return isatty.IsTerminal(uintptr(c.StdinFD))
}

// EnsureBlocking clears O_NONBLOCK on stdin before launching a foreground
// job (§4.5 step 1).
func (c *Controller) EnsureBlocking() error {
	flags, err := unix.FcntlInt(uintptr(c.StdinFD), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	if flags&unix.O_NONBLOCK == 0 {
		return nil
	}
	_, err = unix.FcntlInt(uintptr(c.StdinFD), unix.F_SETFL, flags&^unix.O_NONBLOCK)
	return err
}

// ErrGroupGone is returned by GiveTerminalTo when the target pgroup no
// longer exists (§4.5 step 2, EINVAL/dead-group case).
var ErrGroupGone = errors.New("terminal: process group no longer exists")

// GiveTerminalTo transfers the controlling terminal to pgid (§4.5 steps
// 2-3). It retries on EPERM while the group still exists (probed with a
// non-blocking waitpid), per the teacher's retry-on-EPERM/EINTR texture in
// its own setpgid handling (spawn_other.go/spawn_darwin.go).
func (c *Controller) GiveTerminalTo(pgid int, savedTmodes *unix.Termios) error {
	if !c.IsTTY() {
		return nil
	}
	for attempt := 0; attempt < 100; attempt++ {
		err := unix.IoctlSetPointerInt(c.StdinFD, unix.TIOCSPGRP, pgid)
		switch {
		case err == nil:
			if savedTmodes != nil {
				if err := unix.IoctlSetTermios(c.StdinFD, tcsetsReq(), savedTmodes); err != nil {
					c.log.Debug("terminal: restore tmodes failed", "err", err)
				}
			}
			return nil
		case errors.Is(err, unix.EPERM):
			var ws unix.WaitStatus
			_, werr := unix.Wait4(-pgid, &ws, unix.WNOHANG, nil)
			if errors.Is(werr, unix.ECHILD) {
				return ErrGroupGone
			}
			time.Sleep(time.Millisecond)
			continue
		case errors.Is(err, unix.EINVAL):
			return ErrGroupGone
		case errors.Is(err, unix.ENOTTY):
			return err
		default:
			return err
		}
	}
	return errors.New("terminal: tcsetpgrp retry limit exceeded")
}

// TakeTerminalBack saves the job's tmodes and restores shell ownership
// (§4.5 step 4).
func (c *Controller) TakeTerminalBack() (*unix.Termios, error) {
	if !c.IsTTY() {
		return nil, nil
	}
	tmodes, err := unix.IoctlGetTermios(c.StdinFD, tcgetsReq())
	if err != nil {
		return nil, err
	}
	if err := unix.IoctlSetPointerInt(c.StdinFD, unix.TIOCSPGRP, c.ShellPgid); err != nil {
		return tmodes, err
	}
	return tmodes, nil
}

// AcquireForBuiltin/ReleaseAfterBuiltin implement §4.5 step 5: a builtin
// like `read` that needs the terminal temporarily only takes ownership if
// the current foreground pgrp already matches the job's pgrp.
func (c *Controller) AcquireForBuiltin(jobPgid int) (bool, error) {
	cur, err := c.foregroundPgid()
	if err != nil {
		return false, err
	}
	if cur != jobPgid {
		return false, nil
	}
	return true, nil
}

func (c *Controller) ReleaseAfterBuiltin(jobPgid int) error {
	return unix.IoctlSetPointerInt(c.StdinFD, unix.TIOCSPGRP, jobPgid)
}

func (c *Controller) foregroundPgid() (int, error) {
	return unix.IoctlGetInt(c.StdinFD, unix.TIOCGPGRP)
}

// OwnsTerminal reports tcgetpgrp(stdin)==shell_pgrp, the §8 post-foreground
// invariant.
func (c *Controller) OwnsTerminal() bool {
	if !c.IsTTY() {
		return true
	}
	pgid, err := c.foregroundPgid()
	if err != nil {
		return false
	}
	return pgid == c.ShellPgid
}

// tcgetsReq/tcsetsReq isolate the platform-specific ioctl request number so
// the rest of the package reads the same on every unix target.
func tcgetsReq() uint {
	return unix.TCGETS
}

func tcsetsReq() uint {
	return unix.TCSETS
}
