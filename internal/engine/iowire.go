package engine

import (
	"os"

	"github.com/corvidshell/corvid/internal/iochain"
	"github.com/corvidshell/corvid/internal/job"
	"github.com/corvidshell/corvid/internal/process"
	"github.com/corvidshell/corvid/internal/redir"
)

// pipePair is one inter-stage pipe: readFD feeds the next process's stdin,
// writeFD is this process's stdout.
type pipePair struct {
	readFD, writeFD int
	readF, writeF   *os.File
}

// pipes holds one pipePair per pipeline junction (len(processes)-1 of them).
type pipes struct {
	pairs []pipePair
}

// makePipes creates one OS pipe per junction between pipeline stages (§4.3).
func makePipes(procs []*process.Process) (*pipes, error) {
	p := &pipes{}
	for i := 0; i < len(procs)-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			p.closeAll()
			return nil, err
		}
		p.pairs = append(p.pairs, pipePair{
			readFD: int(r.Fd()), writeFD: int(w.Fd()), readF: r, writeF: w,
		})
	}
	return p, nil
}

func (p *pipes) closeAll() {
	for _, pr := range p.pairs {
		pr.readF.Close()
		pr.writeF.Close()
	}
}

// closeParentSide closes the fds the parent no longer needs once process
// idx has launched: the read end it fed to idx's stdin (idx-1's pair) isn't
// closed here since idx+1 still needs to read it is wrong direction — we
// close the ends THIS process, now launched, owned exclusively: its own
// write end (pair idx) stays open for later stages to inherit via dup2 in
// their own io chain build, but the parent's copy must close once every
// process that needed it has launched, to avoid leaking read-side EOF
// detection. For simplicity and correctness we close a pair's fds from the
// parent's side only after BOTH of its endpoints' owning processes have
// been dispatched.
func (p *pipes) closeParentSide(idx int, procs []*process.Process) {
	if idx > 0 {
		pr := p.pairs[idx-1]
		if procs[idx-1].Pid > 0 || procs[idx-1].Completed {
			// idx has now consumed pair idx-1's read end via its io chain;
			// the parent can drop its own handle to the read end once the
			// consuming process has launched or run in-process.
			pr.readF.Close()
		}
	}
	if idx < len(p.pairs) {
		pr := p.pairs[idx]
		pr.writeF.Close()
	}
}

// buildProcessIO assembles the IO chain for processes[idx] (§4.3): start
// from job.BlockIO, push a write-pipe if not last, append explicit
// redirections, push a read-pipe if not first, and close deferred-process
// pipe fds that don't belong to this process.
func (e *Engine) buildProcessIO(j *job.Job, idx int, p *pipes) (iochain.Chain, error) {
	chain := j.BlockIO.Clone()
	n := len(j.Processes)
	proc := j.Processes[idx]

	if idx < n-1 {
		chain = chain.PushPipeWrite(1, p.pairs[idx].writeFD)
	}

	var err error
	chain, err = chain.AppendFromSpecs(proc.Redirections)
	if err != nil {
		return nil, err
	}
	if proc.MergeStderr {
		// Implicit 2->1 merge from `&|`/`&>`, applied after the explicit
		// redirection list (§4.2 step 2, §6). Resolve fd 1 against the chain
		// built so far so Resolve's forward pass gets a concrete source fd
		// rather than a symbolic target number.
		stdoutFD := redir.Resolve(chain).FdForTargetFD(1)
		chain = append(chain, iochain.Item{Kind: iochain.ItemFd, FD: 2, OldFD: stdoutFD})
	}

	if idx > 0 {
		chain = chain.PushPipeRead(0, p.pairs[idx-1].readFD)
	}

	for i, pr := range p.pairs {
		if i == idx || i == idx-1 {
			continue
		}
		chain = chain.PushClose(pr.readFD)
		chain = chain.PushClose(pr.writeFD)
	}

	return chain, nil
}
