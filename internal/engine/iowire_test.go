package engine

import (
	"testing"

	"github.com/corvidshell/corvid/internal/iochain"
	"github.com/corvidshell/corvid/internal/job"
	"github.com/corvidshell/corvid/internal/process"
)

func TestBuildProcessIOMiddleStageGetsBothPipeEnds(t *testing.T) {
	procs := []*process.Process{
		{Type: process.External},
		{Type: process.External},
		{Type: process.External},
	}
	j := job.New(1, procs, "a | b | c")
	p, err := makePipes(procs)
	if err != nil {
		t.Fatalf("makePipes: %v", err)
	}
	defer p.closeAll()

	e := &Engine{}
	chain, err := e.buildProcessIO(j, 1, p)
	if err != nil {
		t.Fatalf("buildProcessIO: %v", err)
	}

	var sawRead, sawWrite bool
	for _, item := range chain {
		if item.Kind == iochain.ItemPipe && item.FD == 0 && item.IsInput {
			sawRead = true
		}
		if item.Kind == iochain.ItemPipe && item.FD == 1 && !item.IsInput {
			sawWrite = true
		}
	}
	if !sawRead || !sawWrite {
		t.Fatalf("expected middle stage to have both a pipe read and a pipe write, chain=%+v", chain)
	}
}

func TestBuildProcessIOFirstStageHasNoPipeRead(t *testing.T) {
	procs := []*process.Process{{Type: process.External}, {Type: process.External}}
	j := job.New(1, procs, "a | b")
	p, err := makePipes(procs)
	if err != nil {
		t.Fatalf("makePipes: %v", err)
	}
	defer p.closeAll()

	e := &Engine{}
	chain, err := e.buildProcessIO(j, 0, p)
	if err != nil {
		t.Fatalf("buildProcessIO: %v", err)
	}
	for _, item := range chain {
		if item.Kind == iochain.ItemPipe && item.IsInput {
			t.Fatalf("first stage should not read from a pipe, chain=%+v", chain)
		}
	}
}

func TestBuildProcessIOMergeStderr(t *testing.T) {
	procs := []*process.Process{{Type: process.External, MergeStderr: true}}
	j := job.New(1, procs, "a 2>&1")
	p, err := makePipes(procs)
	if err != nil {
		t.Fatalf("makePipes: %v", err)
	}
	defer p.closeAll()

	e := &Engine{}
	chain, err := e.buildProcessIO(j, 0, p)
	if err != nil {
		t.Fatalf("buildProcessIO: %v", err)
	}
	found := false
	for _, item := range chain {
		if item.Kind == iochain.ItemFd && item.FD == 2 {
			found = true
			if item.OldFD != 1 {
				t.Errorf("expected fd 2 to dup from fd 1, got OldFD=%d", item.OldFD)
			}
		}
	}
	if !found {
		t.Fatal("expected a merge-stderr item targeting fd 2")
	}
}
