package process

import (
	"syscall"
	"testing"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		st   Status
		want int
	}{
		{"exit zero", Status{Exited: true, ExitCode: 0}, 0},
		{"exit nonzero", Status{Exited: true, ExitCode: 7}, 7},
		{"signaled", Status{Signaled: true, Signal: syscall.SIGINT}, 128 + int(syscall.SIGINT)},
		{"read too much", Status{ReadTooMuch: true}, StatusReadTooMuch},
		{"never ran", Status{}, StatusOk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.Code(); got != tt.want {
				t.Errorf("Code() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStatusSuccess(t *testing.T) {
	if !(Status{Exited: true, ExitCode: 0}).Success() {
		t.Error("exit 0 should be success")
	}
	if (Status{Exited: true, ExitCode: 1}).Success() {
		t.Error("exit 1 should not be success")
	}
	if (Status{Signaled: true, Signal: syscall.SIGTERM}).Success() {
		t.Error("signaled should not be success")
	}
}

func TestMarkFailedSpawn(t *testing.T) {
	p := &Process{Type: External}
	p.MarkFailedSpawn(StatusExecFail)
	if !p.Completed {
		t.Error("expected Completed after failed spawn")
	}
	if p.Pid != 0 {
		t.Errorf("pid = %d, want 0 (never launched) per the §3 invariant carve-out", p.Pid)
	}
	if p.Status.Code() != StatusExecFail {
		t.Errorf("status = %d, want %d", p.Status.Code(), StatusExecFail)
	}
}
