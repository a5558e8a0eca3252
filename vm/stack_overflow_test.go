package vm

import (
	"context"
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Stack overflow protection
// ---------------------------------------------------------------------------
//
// Exceeding Options.MaxDepth is fatal: the running context terminates and
// the host receives a *StackOverflowError. Script code cannot rescue it.
// The next host call starts on a fresh root context.
// ---------------------------------------------------------------------------

// downMethod builds "def down(n) = down(n + 1) + 1", which never returns.
func downMethod(vm *VM) *Irep {
	b := method(vm, Aspec{Req: 1}, 2)
	b.Emit(OpMOVE, 3, 1)
	b.Emit(OpADDI, 3, 1)
	b.SSend(2, "down", 1)
	b.Emit(OpADDI, 2, 1)
	b.Emit(OpRETURN, 2)
	return b.Build()
}

func TestRecursionOverflows(t *testing.T) {
	vm, _ := newTestVM(t, Options{MaxDepth: 64})

	b := NewIrepBuilder(vm.Symbols)
	defMethod(b, 1, "down", downMethod(vm))
	b.LoadInt(2, 0)
	b.SSend(1, "down", 1)
	b.Emit(OpRETURN, 1)

	_, err := vm.Run(context.Background(), b.Build())
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("err = %v, want ErrStackOverflow", err)
	}
	var so *StackOverflowError
	if !errors.As(err, &so) {
		t.Fatalf("err = %T, want *StackOverflowError", err)
	}
	if so.Depth != 64 || so.Mid != "down" {
		t.Errorf("StackOverflowError = %+v", so)
	}
	var re *RaiseError
	if errors.As(err, &re) {
		t.Error("stack overflow surfaced as a script exception")
	}
}

func TestStackOverflowIsNotRescued(t *testing.T) {
	vm, _ := newTestVM(t, Options{MaxDepth: 32})

	b := NewIrepBuilder(vm.Symbols)
	defMethod(b, 1, "down", downMethod(vm))
	begin, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(begin)
	b.LoadInt(2, 0)
	b.SSend(1, "down", 1)
	b.Mark(end)
	b.Emit(OpRETURN, 1)
	b.Mark(handler)
	b.LoadString(1, "rescued")
	b.Emit(OpRETURN, 1)
	b.Catch(CatchRescue, begin, end, handler, "Exception")

	_, err := vm.Run(context.Background(), b.Build())
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("err = %v, want ErrStackOverflow", err)
	}
}

func TestRecoveryAfterOverflow(t *testing.T) {
	vm, _ := newTestVM(t, Options{MaxDepth: 32})

	b := NewIrepBuilder(vm.Symbols)
	defMethod(b, 1, "down", downMethod(vm))
	b.LoadInt(2, 0)
	b.SSend(1, "down", 1)
	b.Emit(OpRETURN, 1)

	dead := vm.Root()
	if _, err := vm.Run(context.Background(), b.Build()); !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("err = %v", err)
	}
	if dead.Status() != ContextTerminated {
		t.Errorf("status = %s, want terminated", dead.Status())
	}

	b = NewIrepBuilder(vm.Symbols)
	b.LoadInt(1, 5)
	b.Emit(OpADDI, 1, 5)
	b.Emit(OpRETURN, 1)
	wantInt(t, vm, mustRun(t, vm, b.Build()), 10)
	if vm.Root() == dead {
		t.Error("terminated root context reused")
	}
	if !vm.RespondTo(vm.Main(), vm.Intern("down")) {
		t.Error("definitions lost with the dead context")
	}
}

func TestDeepButBoundedRecursion(t *testing.T) {
	vm, _ := newTestVM(t, Options{MaxDepth: 512})

	b := NewIrepBuilder(vm.Symbols)
	defMethod(b, 1, "fib", fibMethod(vm))
	b.LoadInt(2, 15)
	b.SSend(1, "fib", 1)
	b.Emit(OpRETURN, 1)

	wantInt(t, vm, mustRun(t, vm, b.Build()), 610)
}
