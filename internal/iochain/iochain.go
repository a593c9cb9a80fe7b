// Package iochain implements the IO chain (C2, §3, §4.3): the ordered list
// of pipes, file-backed fds, buffer-fills, and close actions attached to a
// job or process, plus resolution into a redir.Chain of dup2/close actions.
package iochain

import (
	"fmt"
	"os"

	"github.com/corvidshell/corvid/internal/redir"
)

// ItemKind tags one entry of the chain (§3).
type ItemKind int

const (
	ItemPipe ItemKind = iota
	ItemFile
	ItemFd
	ItemClose
	ItemBufferFill
)

// BufferFill is an in-memory capture sink (§4.4): stdout piped into a later
// stage internally, or captured for command substitution.
type BufferFill struct {
	Buf []byte
}

func (b *BufferFill) Write(p []byte) (int, error) {
	b.Buf = append(b.Buf, p...)
	return len(p), nil
}

// Item is one tagged entry of an IO chain.
type Item struct {
	Kind ItemKind

	FD int // child fd this item targets

	// ItemPipe
	PipeFD  int
	IsInput bool

	// ItemFile
	Path  string
	Flags int

	// ItemFd
	OldFD        int
	UserSupplied bool

	// ItemBufferFill
	Fill *BufferFill
}

// Chain is the ordered list of IO items attached to a job or process. Later
// items targeting the same child fd win (§3 invariant), honored by dup2
// sequencing in Resolve.
type Chain []Item

// Clone returns a shallow copy safe to extend without mutating the parent
// (block_io inheritance, §3 Job.block_io).
func (c Chain) Clone() Chain {
	out := make(Chain, len(c))
	copy(out, c)
	return out
}

// PushPipeWrite appends the write end of a pipe as the process's fd (usually
// 1), for all but the last stage of a pipeline (§4.3).
func (c Chain) PushPipeWrite(fd, pipeFD int) Chain {
	return append(c, Item{Kind: ItemPipe, FD: fd, PipeFD: pipeFD, IsInput: false})
}

// PushPipeRead appends the read end of a pipe as the process's stdin, for
// all but the first stage (§4.3).
func (c Chain) PushPipeRead(fd, pipeFD int) Chain {
	return append(c, Item{Kind: ItemPipe, FD: fd, PipeFD: pipeFD, IsInput: true})
}

// PushClose appends an explicit close, used to keep deferred-process pipe
// fds from leaking into unrelated children (§4.3).
func (c Chain) PushClose(fd int) Chain {
	return append(c, Item{Kind: ItemClose, FD: fd})
}

// PushBufferFill attaches a capture sink to fd (§4.3 Function/BlockNode,
// §4.4 elision).
func (c Chain) PushBufferFill(fd int, fill *BufferFill) Chain {
	return append(c, Item{Kind: ItemBufferFill, FD: fd, Fill: fill})
}

// AppendFromSpecs converts redirection specs into IO items by opening files,
// per §3 `append_from_specs`. On failure, every file already opened by this
// call is closed before returning the error (§5 resource model).
func (c Chain) AppendFromSpecs(specs []redir.Spec) (Chain, error) {
	var opened []*os.File
	closeOpened := func() {
		for _, f := range opened {
			f.Close()
		}
	}
	for _, s := range specs {
		switch s.Mode {
		case redir.Fd:
			if s.IsClose() {
				c = c.PushClose(s.FD)
				continue
			}
			old, err := s.DupTarget()
			if err != nil {
				closeOpened()
				return nil, fmt.Errorf("invalid fd redirection target %q: %w", s.Target, err)
			}
			// `fd>&N` dups whatever N resolves to at THIS point in the list
			// (POSIX dup2 ordering), so resolve it against the chain built so
			// far rather than storing the symbolic target number: Resolve's
			// single forward pass only ever sees concrete source fds.
			resolvedOld := Resolve(c).FdForTargetFD(old)
			c = append(c, Item{Kind: ItemFd, FD: s.FD, OldFD: resolvedOld, UserSupplied: true})
		default:
			f, err := os.OpenFile(s.Target, s.Oflags(), 0644)
			if err != nil {
				closeOpened()
				return nil, fmt.Errorf("open %q: %w", s.Target, err)
			}
			opened = append(opened, f)
			c = append(c, Item{Kind: ItemFile, FD: s.FD, Path: s.Target, Flags: s.Oflags(), OldFD: int(f.Fd())})
		}
	}
	return c, nil
}

// Resolve computes the forward-pass dup2 action list (§3, §4.3). File items
// were already opened by AppendFromSpecs and carry the opened fd in OldFD;
// Resolve schedules a dup2 from that fd to the target, then a close of the
// now-redundant opened fd. Pipe/Fd items behave the same way modulo where
// the source fd comes from.
func Resolve(c Chain) redir.Chain {
	var actions redir.Chain
	var transientCloses []int
	for _, item := range c {
		switch item.Kind {
		case ItemPipe:
			actions = append(actions, redir.Action{Src: item.PipeFD, Target: item.FD})
			if item.PipeFD != item.FD {
				transientCloses = append(transientCloses, item.PipeFD)
			}
		case ItemFile:
			actions = append(actions, redir.Action{Src: item.OldFD, Target: item.FD})
			if item.OldFD != item.FD {
				transientCloses = append(transientCloses, item.OldFD)
			}
		case ItemFd:
			actions = append(actions, redir.Action{Src: item.OldFD, Target: item.FD})
		case ItemClose:
			actions = append(actions, redir.Action{Src: item.FD, Target: -1})
		case ItemBufferFill:
			// Handled entirely in-process by the exec engine; no dup2 needed.
		}
	}
	for _, fd := range transientCloses {
		actions = append(actions, redir.Action{Src: fd, Target: -1})
	}
	return actions
}

// StdinFD returns the effective child fd 0 resolves to after applying c, for
// builtins that need to read their input directly (§4.3 Builtin dispatch).
// Returns -1 if fd 0 was closed.
func StdinFD(c Chain) int {
	resolved := Resolve(c)
	closed := false
	for _, a := range resolved {
		switch {
		case a.Target == 0:
			closed = false
		case a.Target < 0 && a.Src == 0:
			closed = true
		}
	}
	if closed {
		return -1
	}
	return resolved.FdForTargetFD(0)
}
