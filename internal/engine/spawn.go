package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/corvidshell/corvid/internal/env"
	"github.com/corvidshell/corvid/internal/iochain"
	"github.com/corvidshell/corvid/internal/job"
	"github.com/corvidshell/corvid/internal/process"
)

// dispatchExternal spawns an External or Exec process (§4.3, §4.5). It runs
// through exec.Cmd rather than a raw fork(2)+dup2+execve sequence, per the
// package doc comment: Go's runtime cannot safely fork across goroutines,
// and exec.Cmd.Start is itself a single clone+execve (os.StartProcess ->
// syscall.ForkExec), the same shape the teacher falls back to on non-darwin
// platforms (orospakr-spawnexec/spawn_other.go).
func (e *Engine) dispatchExternal(ctx context.Context, j *job.Job, p *process.Process, chain iochain.Chain) error {
	path, err := e.resolveCommand(p)
	if err != nil {
		p.MarkFailedSpawn(classifyExecError(err))
		e.log.Debug("engine: command resolution failed", "argv0", argv0(p), "err", err)
		return nil
	}

	cmd := exec.Command(path, p.Argv[1:]...)
	cmd.Env = e.Store.ExportArray()

	rf, _, err := e.resolveFiles(chain)
	if err != nil {
		p.MarkFailedSpawn(process.StatusExecFail)
		return nil
	}
	if rf.stdin != nil {
		cmd.Stdin = rf.stdin
	} else if !j.Flags.Has(job.Foreground) {
		// A background job never reads the controlling terminal unless the
		// user explicitly redirected its stdin (common shell convention,
		// avoids two jobs fighting over the same tty input).
		if devnull := closeDefault("stdin"); devnull != nil {
			cmd.Stdin = devnull
			defer devnull.Close()
		}
	} else {
		cmd.Stdin = os.Stdin
	}
	cmd.Stdout = orDefault(rf.stdout, os.Stdout)
	cmd.Stderr = orDefault(rf.stderr, os.Stderr)
	cmd.ExtraFiles = rf.extra

	cmd.SysProcAttr = e.sysProcAttr(j, p)

	startErr := cmd.Start()
	rf.closeOwned()
	if startErr != nil {
		p.MarkFailedSpawn(classifyExecError(startErr))
		e.log.Debug("engine: spawn failed", "argv0", argv0(p), "err", startErr)
		return nil
	}

	p.MarkSpawned(cmd.Process.Pid)
	if j.Pgid == job.InvalidPgid {
		j.Pgid = cmd.Process.Pid
	}

	if p.Type == process.Exec {
		// `exec` does not replace the shell: the command is launched like
		// any other external process and the shell keeps running after it
		// (§3 Decorator.Exec).
		e.log.Debug("engine: exec-decorated process launched, shell continues as supervisor", "pid", cmd.Process.Pid)
	}

	// cmd.Wait is never called here: reaping is centralized in
	// internal/reaper so every process, external or not, goes through one
	// wait4 sweep per §4.6. Detach the *exec.Cmd's own bookkeeping by
	// releasing the process handle.
	if cmd.Process != nil {
		cmd.Process.Release()
	}
	return nil
}

// resolveCommand returns the executable path for p, resolving against PATH
// if p.ActualCmd wasn't already set by an earlier decorator-resolution
// pass.
func (e *Engine) resolveCommand(p *process.Process) (string, error) {
	if p.ActualCmd != "" {
		return p.ActualCmd, nil
	}
	name := argv0(p)
	if name == "" {
		return "", errors.New("engine: empty command")
	}
	return lookPath(name, e.pathList())
}

func (e *Engine) pathList() []string {
	if e.Store == nil {
		return filepath.SplitList(os.Getenv("PATH"))
	}
	v, ok := e.Store.Get("PATH", env.ScopeGlobal)
	if !ok || len(v.Values) == 0 {
		return filepath.SplitList(os.Getenv("PATH"))
	}
	return v.Values
}

func argv0(p *process.Process) string {
	if len(p.Argv) == 0 {
		return ""
	}
	return p.Argv[0]
}

func orDefault(f *os.File, def *os.File) *os.File {
	if f != nil {
		return f
	}
	return def
}

// sysProcAttr builds the job-control attributes for a spawned process
// (§4.5): Setpgid joins (or creates) the job's pgroup, Ctty/Foreground hand
// the controlling terminal to a newly created foreground, job-controlled
// pgroup at fork time rather than via a second tcsetpgrp race.
func (e *Engine) sysProcAttr(j *job.Job, p *process.Process) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{}
	if !j.Flags.Has(job.JobControl) || e.Term == nil {
		return attr
	}
	attr.Setpgid = true
	if j.Pgid != job.InvalidPgid {
		attr.Pgid = j.Pgid
	}
	if j.Flags.Has(job.Foreground) && p.IsFirstInJob && e.Term.IsTTY() {
		attr.Foreground = true
		attr.Setctty = true
		attr.Ctty = 0 // index into the child's fd table: stdin, the tty
	}
	return attr
}
