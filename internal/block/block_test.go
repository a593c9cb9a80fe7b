package block

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/corvidshell/corvid/internal/env"
	"github.com/corvidshell/corvid/internal/trace"
)

func TestPushPopRestoresScope(t *testing.T) {
	store := env.NewMemStore()
	stack := NewStack(store)

	store.Set("x", env.ScopeLocal, false, false, []string{"outer"})

	stack.Push(&Block{Type: FunctionCall, FunctionName: "f"})
	store.Set("x", env.ScopeLocal, false, false, []string{"inner"})
	v, _ := store.Get("x", env.ScopeLocal)
	if v.Values[0] != "inner" {
		t.Fatalf("expected inner scope value, got %v", v.Values)
	}
	stack.Pop()

	v, _ = store.Get("x", env.ScopeLocal)
	if v.Values[0] != "outer" {
		t.Errorf("after pop, expected outer scope value, got %v", v.Values)
	}
}

func TestSkipInheritance(t *testing.T) {
	store := env.NewMemStore()
	stack := NewStack(store)

	top := &Block{Type: Top}
	stack.Push(top)
	top.Skip = true

	inner := &Block{Type: Begin}
	stack.Push(inner)
	if !stack.Top().Skip {
		t.Error("Begin block should inherit Skip=true from its parent")
	}
}

func TestTopAndSubstNeverSkip(t *testing.T) {
	store := env.NewMemStore()
	stack := NewStack(store)
	parent := &Block{Type: Begin, Skip: true}
	stack.Push(parent)

	subst := &Block{Type: Subst}
	stack.Push(subst)
	if stack.Top().Skip {
		t.Error("Subst block must never skip regardless of parent")
	}
}

func TestIsBlockScope(t *testing.T) {
	store := env.NewMemStore()
	stack := NewStack(store)
	stack.Push(&Block{Type: Top})
	if stack.IsBlockScope() {
		t.Error("a bare Top block should not count as block scope")
	}
	stack.Push(&Block{Type: Begin})
	if !stack.IsBlockScope() {
		t.Error("a Begin block should count as block scope")
	}
}

func TestFunctionCallInheritsPrecedingVariableAssignment(t *testing.T) {
	store := env.NewMemStore()
	stack := NewStack(store)

	stack.Push(&Block{Type: VariableAssignment})
	store.Set("X", env.ScopeLocal, true, false, []string{"hello"})

	stack.Push(&Block{Type: FunctionCall, FunctionName: "show"})
	v, ok := store.Get("X", env.ScopeLocal)
	if !ok || v.Values[0] != "hello" {
		t.Fatalf("function call should see its pre-command assignment, got %v ok=%v", v.Values, ok)
	}
	stack.Pop() // FunctionCall

	stack.Pop() // VariableAssignment
	if _, ok := store.Get("X", env.ScopeLocal); ok {
		t.Error("X must not survive past the VariableAssignment block it belonged to")
	}
}

func TestFunctionCallDoesNotInheritUnrelatedLocal(t *testing.T) {
	store := env.NewMemStore()
	stack := NewStack(store)

	stack.Push(&Block{Type: Begin})
	store.Set("Y", env.ScopeLocal, false, false, []string{"outer"})

	stack.Push(&Block{Type: FunctionCall, FunctionName: "f"})
	if _, ok := store.Get("Y", env.ScopeLocal); ok {
		t.Error("a function call must not see an ordinary enclosing local, only a directly preceding VariableAssignment")
	}
}

func TestFramesOrdersInnermostFirstWithParams(t *testing.T) {
	store := env.NewMemStore()
	stack := NewStack(store)

	stack.Push(&Block{Type: Source, SourceFile: "conf.fish", SrcFilename: "init.fish", SrcLineno: 3})
	stack.Push(&Block{
		Type:         FunctionCall,
		FunctionName: "show",
		FunctionArgs: []string{"a", "b"},
		SrcFilename:  "conf.fish",
		SrcLineno:    12,
	})

	got := stack.Frames()
	want := []trace.Frame{
		{Description: "in function 'show'", CalledAt: "called on line 12 of file conf.fish", Params: []string{"a", "b"}},
		{Description: "from sourcing file conf.fish", CalledAt: "called on line 3 of file init.fish"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Frames() mismatch (-want +got):\n%s", diff)
	}
}

func TestSetLoopStatusStopsAtFunctionBoundary(t *testing.T) {
	store := env.NewMemStore()
	stack := NewStack(store)
	stack.Push(&Block{Type: While})
	stack.Push(&Block{Type: FunctionCall, FunctionName: "f"})

	stack.SetLoopStatus(Break)

	// The While block predates the FunctionCall boundary in this (contrived)
	// stack, so SetLoopStatus must not reach across it.
	var whileBlock *Block
	for _, b := range stack.blocks {
		if b.Type == While {
			whileBlock = b
		}
	}
	if whileBlock.LoopStatus == Break {
		t.Error("break inside a nested function call must not affect an outer loop")
	}
}
