package engine

import (
	"testing"

	"github.com/corvidshell/corvid/internal/process"
)

func TestDeferredOrderRotatesLastInternalBeforeExternal(t *testing.T) {
	procs := []*process.Process{
		{Type: process.Builtin},
		{Type: process.Builtin},
		{Type: process.External},
		{Type: process.External},
	}
	order := deferredOrder(procs)
	if got, want := order, ([]int{0, 2, 3, 1}); !equalInts(got, want) {
		t.Fatalf("deferredOrder = %v, want %v", got, want)
	}
}

func TestDeferredOrderNoRotationWithoutExternal(t *testing.T) {
	procs := []*process.Process{{Type: process.Builtin}, {Type: process.Builtin}}
	order := deferredOrder(procs)
	if !equalInts(order, []int{0, 1}) {
		t.Fatalf("deferredOrder = %v, want identity", order)
	}
}

func TestCapBytesTruncates(t *testing.T) {
	var truncated bool
	out := capBytes([]byte("hello world"), 5, &truncated)
	if string(out) != "hello" || !truncated {
		t.Fatalf("capBytes = %q truncated=%v", out, truncated)
	}
}

func TestCapBytesNoTruncationUnderLimit(t *testing.T) {
	var truncated bool
	out := capBytes([]byte("hi"), 5, &truncated)
	if string(out) != "hi" || truncated {
		t.Fatalf("capBytes = %q truncated=%v", out, truncated)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
