package terminal

import (
	"os"
	"testing"

	"github.com/corvidshell/corvid/internal/corvidlog"
)

func TestIsTTYFalseForPipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	c := NewController(int(r.Fd()), os.Getpid(), corvidlog.Nop{})
	if c.IsTTY() {
		t.Error("a pipe fd should never report as a tty")
	}
}

func TestGiveTerminalToNoopWithoutTTY(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	c := NewController(int(r.Fd()), os.Getpid(), corvidlog.Nop{})
	if err := c.GiveTerminalTo(os.Getpid(), nil); err != nil {
		t.Errorf("GiveTerminalTo on a non-tty stdin should be a no-op, got %v", err)
	}
}

func TestOwnsTerminalTrueWithoutTTY(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	c := NewController(int(r.Fd()), os.Getpid(), corvidlog.Nop{})
	if !c.OwnsTerminal() {
		t.Error("OwnsTerminal should vacuously hold when stdin is not a tty")
	}
}
