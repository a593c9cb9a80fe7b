// Package process implements the process record (C3, §3): one stage of a
// pipeline, its resolved redirections, and its decoded exit status. The
// status decoding and signal delivery are grounded on the teacher's
// ProcessState (orospakr-spawnexec/process.go), generalized from a single
// os/exec-style command to the six process types a shell pipeline stage
// can be (§3 Process.type).
package process

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/corvidshell/corvid/internal/ast"
	"github.com/corvidshell/corvid/internal/ctrlflow"
	"github.com/corvidshell/corvid/internal/env"
	"github.com/corvidshell/corvid/internal/redir"
)

// Type is the process kind (§3).
type Type int

const (
	External Type = iota
	Builtin
	Function
	BlockNode
	Exec
	Eval
)

func (t Type) String() string {
	switch t {
	case External:
		return "external"
	case Builtin:
		return "builtin"
	case Function:
		return "function"
	case BlockNode:
		return "block"
	case Exec:
		return "exec"
	case Eval:
		return "eval"
	default:
		return "unknown"
	}
}

// Exit codes used throughout (§6).
const (
	StatusOk                = 0
	StatusCmdError          = 1
	StatusInvalidArgs       = 2
	StatusReadTooMuch       = 122
	StatusExpandError       = 121
	StatusUnmatchedWildcard = 124
	StatusIllegalCmd        = 123
	StatusNotExecutable     = 126
	StatusCmdUnknown        = 127
	StatusExecFail          = 125
)

// Status is the decoded exit status sum type (§3): ExitCode(u8) or
// Signaled(sig), plus a success flag.
type Status struct {
	Exited     bool
	ExitCode   int
	Signaled   bool
	Signal     syscall.Signal
	Stopped    bool
	StopSignal syscall.Signal
	ReadTooMuch bool
}

// Success reports whether the process succeeded: exited with code 0 and
// was not signaled or truncated.
func (s Status) Success() bool {
	return s.Exited && s.ExitCode == 0 && !s.Signaled && !s.ReadTooMuch
}

// Code returns the effective `$status` value: exit code if exited, 128+sig
// if signaled, StatusReadTooMuch if truncated (§8).
func (s Status) Code() int {
	switch {
	case s.ReadTooMuch:
		return StatusReadTooMuch
	case s.Signaled:
		return 128 + int(s.Signal)
	case s.Exited:
		return s.ExitCode
	}
	return StatusOk
}

// FromWaitStatus decodes a unix.WaitStatus into a Status, the Go-native
// equivalent of the teacher's ProcessState decoding (process.go).
func FromWaitStatus(ws unix.WaitStatus) Status {
	switch {
	case ws.Exited():
		return Status{Exited: true, ExitCode: ws.ExitStatus()}
	case ws.Signaled():
		return Status{Signaled: true, Signal: ws.Signal()}
	case ws.Stopped():
		return Status{Stopped: true, StopSignal: ws.StopSignal()}
	default:
		return Status{}
	}
}

// Process is one stage of a pipeline (§3).
type Process struct {
	Type Type

	Argv       []string
	ActualCmd  string // resolved executable path, External/Exec only
	Redirections []redir.Spec
	MergeStderr  bool // `&|`/`&>`: implicit 2>&1 applied after Redirections

	PipeWriteFD int

	Status    Status
	Pid       int
	Completed bool
	Stopped   bool

	IsFirstInJob bool
	IsLastInJob  bool

	// BlockNode/Function payload.
	Body       *ast.JobList
	SourceName string
	FuncProps  *env.FunctionProperties

	// Internal-process output, populated for Builtin/Function/BlockNode/Eval
	// (§4.3, §4.4).
	Stdout []byte
	Stderr []byte

	// EndReason carries the tree walker's sum-type result out of a
	// Function/BlockNode/Eval dispatch (§4.1, §9), since MarkFailedSpawn only
	// records the numeric $status. Zero value ctrlflow.Ok is correct for
	// every process type that never runs through the walker.
	EndReason ctrlflow.EndReason
}

// SetEndReason records the walker's EndReason for a Function/BlockNode/Eval
// process, alongside the $status MarkFailedSpawn already recorded.
func (p *Process) SetEndReason(r ctrlflow.EndReason) { p.EndReason = r }

// MarkSpawned records a successful fork/spawn (§3 invariant: type=External
// implies pid>0 once launched).
func (p *Process) MarkSpawned(pid int) { p.Pid = pid }

// MarkFailedSpawn marks a process that never launched as completed without
// ever having a pid, per the §3 invariant carve-out.
func (p *Process) MarkFailedSpawn(code int) {
	p.Completed = true
	p.Status = Status{Exited: true, ExitCode: code}
}

// ApplyWaitStatus updates Completed/Stopped/Status from a reaped wait
// status (§4.6).
func (p *Process) ApplyWaitStatus(ws unix.WaitStatus) {
	st := FromWaitStatus(ws)
	switch {
	case st.Exited || st.Signaled:
		p.Completed = true
		p.Stopped = false
	case st.Stopped:
		p.Stopped = true
	}
	p.Status = st
}

// Signal sends sig to the process, mirroring the teacher's Process.Signal
// (orospakr-spawnexec/process.go) but operating on a pid already tracked by
// this record rather than owning the pid itself.
func (p *Process) Signal(sig syscall.Signal) error {
	if p.Pid <= 0 {
		return fmt.Errorf("process: no pid to signal")
	}
	return unix.Kill(p.Pid, sig)
}

// Kill sends SIGKILL.
func (p *Process) Kill() error { return p.Signal(syscall.SIGKILL) }

// String renders a human-readable status line, e.g. for the "terminated by
// signal" notification (§4.6).
func (s Status) String() string {
	switch {
	case s.Signaled:
		return "Signal: " + s.Signal.String()
	case s.Stopped:
		return "Stopped: " + s.StopSignal.String()
	case s.Exited && s.ExitCode != 0:
		return fmt.Sprintf("exit %d", s.ExitCode)
	case s.Exited:
		return "Done"
	default:
		return "Running"
	}
}
