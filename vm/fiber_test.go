package vm

import (
	"context"
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Fibers
// ---------------------------------------------------------------------------

// newFiber runs "Fiber.new(&body)" and returns the fiber.
func newFiber(t *testing.T, vm *VM, body *Irep) Value {
	t.Helper()
	b := NewIrepBuilder(vm.Symbols)
	b.Emit(OpGETCONST, 1, b.Sym("Fiber"))
	b.Emit(OpBLOCK, 2, b.Child(body))
	b.SendB(1, "new", 0)
	b.Emit(OpRETURN, 1)
	f := mustRun(t, vm, b.Build())
	if _, ok := f.ref.(*RFiber); !ok {
		t.Fatalf("Fiber.new returned %s", vm.Inspect(f))
	}
	return f
}

// echoBody builds "{ |x| y = Fiber.yield(x + 1); y * 2 }".
func echoBody(vm *VM) *Irep {
	b := method(vm, Aspec{Req: 1}, 2)
	b.Emit(OpGETCONST, 3, b.Sym("Fiber"))
	b.Emit(OpMOVE, 4, 1)
	b.Emit(OpADDI, 4, 1)
	b.Send(3, "yield", 1)
	b.LoadInt(4, 2)
	b.Emit(OpMUL, 3)
	b.Emit(OpRETURN, 3)
	return b.Build()
}

func resume(t *testing.T, vm *VM, f Value, args ...Value) Value {
	t.Helper()
	v, err := vm.Funcall(context.Background(), f, "resume", args...)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	return v
}

func TestFiberResumeAndYield(t *testing.T) {
	vm, _ := newTestVM(t, Options{})
	f := newFiber(t, vm, echoBody(vm))
	fiber := f.ref.(*RFiber)

	if fiber.Context().Status() != ContextCreated {
		t.Errorf("status before first resume = %s", fiber.Context().Status())
	}
	wantInt(t, vm, resume(t, vm, f, IntValue(10)), 11)
	if !fiber.Alive() || fiber.Context().Status() != ContextSuspended {
		t.Fatalf("after yield: alive=%v status=%s", fiber.Alive(), fiber.Context().Status())
	}

	wantInt(t, vm, resume(t, vm, f, IntValue(5)), 10)
	alive, err := vm.Funcall(context.Background(), f, "alive?")
	if err != nil {
		t.Fatal(err)
	}
	if alive.Truthy() {
		t.Error("alive? = true after the body returned")
	}

	_, err = vm.Funcall(context.Background(), f, "resume")
	var re *RaiseError
	if !errors.As(err, &re) || re.Class != "FiberError" || re.Message != "dead fiber called" {
		t.Fatalf("resume of a dead fiber: %v", err)
	}
}

func TestFiberYieldValues(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	// { Fiber.yield; Fiber.yield(1, 2); :done }
	body := method(vm, Aspec{}, 1)
	body.Emit(OpGETCONST, 2, body.Sym("Fiber"))
	body.Send(2, "yield", 0)
	body.Emit(OpGETCONST, 2, body.Sym("Fiber"))
	body.LoadInt(3, 1)
	body.LoadInt(4, 2)
	body.Send(2, "yield", 2)
	body.LoadSym(2, "done")
	body.Emit(OpRETURN, 2)

	f := newFiber(t, vm, body.Build())
	if v := resume(t, vm, f); !v.IsNil() {
		t.Errorf("bare yield = %s, want nil", vm.Inspect(v))
	}
	if got := vm.Inspect(resume(t, vm, f)); got != "[1, 2]" {
		t.Errorf("yield(1, 2) = %s", got)
	}
	if got := vm.Inspect(resume(t, vm, f)); got != ":done" {
		t.Errorf("final value = %s", got)
	}
}

func TestFiberExceptionReachesResumer(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	body := method(vm, Aspec{}, 1)
	body.LoadString(3, "inner")
	body.SSend(2, "raise", 1)
	body.Emit(OpRETURN, 2)

	f := newFiber(t, vm, body.Build())
	_, err := vm.Funcall(context.Background(), f, "resume")
	var re *RaiseError
	if !errors.As(err, &re) || re.Class != "RuntimeError" || re.Message != "inner" {
		t.Fatalf("err = %v", err)
	}
	if f.ref.(*RFiber).Alive() {
		t.Error("fiber alive after an escaped exception")
	}

	// the root context is unaffected
	wantInt(t, vm, resumeRootSum(t, vm), 3)
}

func TestFiberOverflowTerminatesResumer(t *testing.T) {
	vm, _ := newTestVM(t, Options{MaxDepth: 32})

	def := NewIrepBuilder(vm.Symbols)
	defMethod(def, 1, "down", downMethod(vm))
	def.Emit(OpRETURN, 1)
	mustRun(t, vm, def.Build())

	// { down(0) }
	body := method(vm, Aspec{}, 1)
	body.LoadInt(3, 0)
	body.SSend(2, "down", 1)
	body.Emit(OpRETURN, 2)
	f := newFiber(t, vm, body.Build())

	dead := vm.Root()
	_, err := vm.Funcall(context.Background(), f, "resume")
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("err = %v, want ErrStackOverflow", err)
	}
	if dead.Status() != ContextTerminated || dead.Depth() != 0 {
		t.Errorf("resumer after overflow: status %s depth %d", dead.Status(), dead.Depth())
	}

	wantInt(t, vm, resumeRootSum(t, vm), 3)
	if root := vm.Root(); root == dead || root.Depth() != 0 {
		t.Errorf("next call ran on a stale context (depth %d)", root.Depth())
	}
}

func resumeRootSum(t *testing.T, vm *VM) Value {
	t.Helper()
	v, err := vm.Funcall(context.Background(), IntValue(1), "+", IntValue(2))
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestYieldFromRootFiber(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	_, err := vm.Funcall(context.Background(), ObjectValue(vm.FiberClass), "yield")
	var re *RaiseError
	if !errors.As(err, &re) || re.Class != "FiberError" || re.Message != "can't yield from root fiber" {
		t.Fatalf("err = %v", err)
	}
}

func TestFiberNewRequiresBlock(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	_, err := vm.Funcall(context.Background(), ObjectValue(vm.FiberClass), "new")
	var re *RaiseError
	if !errors.As(err, &re) || re.Class != "ArgumentError" {
		t.Fatalf("err = %v", err)
	}
}

func TestCloseKillsSuspendedFibers(t *testing.T) {
	vm := New(Options{})

	// { loop { Fiber.yield } }
	inner := method(vm, Aspec{}, 1)
	inner.Emit(OpGETCONST, 2, inner.Sym("Fiber"))
	inner.Send(2, "yield", 0)
	inner.Emit(OpRETURN, 2)

	body := method(vm, Aspec{}, 1)
	body.Emit(OpBLOCK, 3, body.Child(inner.Build()))
	body.SSendB(2, "loop", 0)
	body.Emit(OpRETURN, 2)

	var fibers []*RFiber
	for i := 0; i < 3; i++ {
		f := newFiber(t, vm, body.Build())
		resume(t, vm, f)
		fibers = append(fibers, f.ref.(*RFiber))
	}
	// one fiber never started
	unstarted := newFiber(t, vm, body.Build()).ref.(*RFiber)

	if err := vm.Close(); err != nil {
		t.Fatal(err)
	}
	for i, f := range fibers {
		if f.Alive() {
			t.Errorf("fiber %d still alive after Close", i)
		}
	}
	if !unstarted.Alive() {
		t.Error("Close touched a fiber that never ran")
	}
}

func TestFiberInsideFiber(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	// inner = Fiber.new { Fiber.yield(1); 2 }
	innerBody := method(vm, Aspec{}, 1)
	innerBody.Emit(OpGETCONST, 2, innerBody.Sym("Fiber"))
	innerBody.LoadInt(3, 1)
	innerBody.Send(2, "yield", 1)
	innerBody.LoadInt(2, 2)
	innerBody.Emit(OpRETURN, 2)
	inner := newFiber(t, vm, innerBody.Build())
	vm.GlobalSet("$inner", inner)

	// outer = Fiber.new { a = $inner.resume; Fiber.yield(a * 10); $inner.resume * 100 }
	outerBody := method(vm, Aspec{}, 1)
	outerBody.Emit(OpGETGV, 2, outerBody.Sym("$inner"))
	outerBody.Send(2, "resume", 0)
	outerBody.LoadInt(3, 10)
	outerBody.Emit(OpMUL, 2)
	outerBody.Emit(OpMOVE, 4, 2)
	outerBody.Emit(OpGETCONST, 3, outerBody.Sym("Fiber"))
	outerBody.Send(3, "yield", 1)
	outerBody.Emit(OpGETGV, 2, outerBody.Sym("$inner"))
	outerBody.Send(2, "resume", 0)
	outerBody.LoadInt(3, 100)
	outerBody.Emit(OpMUL, 2)
	outerBody.Emit(OpRETURN, 2)
	outer := newFiber(t, vm, outerBody.Build())

	wantInt(t, vm, resume(t, vm, outer), 10)
	wantInt(t, vm, resume(t, vm, outer), 200)
	if inner.ref.(*RFiber).Alive() || outer.ref.(*RFiber).Alive() {
		t.Error("fibers alive after their bodies returned")
	}
}
