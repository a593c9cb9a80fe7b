package redir

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestSpecOflags(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		want int
	}{
		{"overwrite", Overwrite, unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC},
		{"append", Append, unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND},
		{"input", Input, unix.O_RDONLY},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Spec{Mode: tt.mode}
			if got := s.Oflags(); got != tt.want {
				t.Errorf("Oflags() = %#o, want %#o", got, tt.want)
			}
		})
	}
}

func TestIsClose(t *testing.T) {
	if !(Spec{Mode: Fd, Target: "-"}).IsClose() {
		t.Error("expected fd>&- to be a close spec")
	}
	if (Spec{Mode: Fd, Target: "2"}).IsClose() {
		t.Error("fd>&2 should not be a close spec")
	}
}

func TestDupTarget(t *testing.T) {
	got, err := (Spec{Mode: Fd, Target: "3"}).DupTarget()
	if err != nil || got != 3 {
		t.Fatalf("DupTarget() = %d, %v, want 3, nil", got, err)
	}
	if _, err := (Spec{Mode: Fd, Target: "-"}).DupTarget(); err == nil {
		t.Error("expected error parsing \"-\" as fd")
	}
}

func TestFdForTargetFD(t *testing.T) {
	// pipeline stage: stdout(1) is first dup'd to the write end of a pipe
	// (fd 5), then the user redirects stderr onto stdout (2>&1), implemented
	// as dup2(1, 2) *after* fd 1 already points at the pipe.
	chain := Chain{
		{Src: 5, Target: 1}, // pipe write end becomes fd 1
		{Src: 1, Target: 2}, // fd 2 now mirrors whatever fd 1 is
	}
	if got := chain.FdForTargetFD(2); got != 5 {
		t.Errorf("FdForTargetFD(2) = %d, want 5 (the pipe fd backing stdout)", got)
	}
	if got := chain.FdForTargetFD(1); got != 5 {
		t.Errorf("FdForTargetFD(1) = %d, want 5", got)
	}
	if got := chain.FdForTargetFD(9); got != 9 {
		t.Errorf("FdForTargetFD(9) = %d, want 9 (untouched fd resolves to itself)", got)
	}
}

func TestFdForTargetFDIdempotent(t *testing.T) {
	chain := Chain{{Src: 9, Target: 1}, {Src: 1, Target: 2}, {Src: 2, Target: 1}}
	a := chain.FdForTargetFD(1)
	b := chain.FdForTargetFD(1)
	if a != b {
		t.Errorf("FdForTargetFD is not idempotent: %d != %d", a, b)
	}
}
