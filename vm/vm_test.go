package vm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// newTestVM creates an engine whose output goes to the returned buffer.
func newTestVM(t *testing.T, opts Options) (*VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts.Stdout = &out
	vm := New(opts)
	t.Cleanup(func() { vm.Close() })
	return vm, &out
}

// mustRun runs ir and fails the test on any error.
func mustRun(t *testing.T, vm *VM, ir *Irep) Value {
	t.Helper()
	v, err := vm.Run(context.Background(), ir)
	if err != nil {
		var re *RaiseError
		if errors.As(err, &re) {
			t.Fatalf("Run: %s", re.Detail())
		}
		t.Fatalf("Run: %v", err)
	}
	return v
}

// runRaise runs ir and returns the escaped exception.
func runRaise(t *testing.T, vm *VM, ir *Irep) *RaiseError {
	t.Helper()
	v, err := vm.Run(context.Background(), ir)
	var re *RaiseError
	if !errors.As(err, &re) {
		t.Fatalf("Run = %s, %v; want a RaiseError", vm.Inspect(v), err)
	}
	return re
}

// defMethod emits "def name ... end" on the current target class, using
// R[reg] and R[reg+1].
func defMethod(b *IrepBuilder, reg int, name string, body *Irep) {
	b.Emit(OpTCLASS, reg)
	b.Emit(OpMETHOD, reg+1, b.Child(body))
	b.Emit(OpDEF, reg, b.Sym(name))
}

// method starts a method body taking as and reserving locals slots
// (self included), with ENTER already emitted.
func method(vm *VM, as Aspec, locals int) *IrepBuilder {
	b := NewIrepBuilder(vm.Symbols)
	b.SetAspec(as)
	b.SetLocals(locals)
	b.Emit(OpENTER)
	return b
}

func wantInt(t *testing.T, vm *VM, got Value, want int64) {
	t.Helper()
	if !got.IsInteger() || got.Int() != want {
		t.Fatalf("got %s, want %d", vm.Inspect(got), want)
	}
}

func wantString(t *testing.T, vm *VM, got Value, want string) {
	t.Helper()
	s, ok := StringOf(got)
	if !ok || s != want {
		t.Fatalf("got %s, want %q", vm.Inspect(got), want)
	}
}

// ---------------------------------------------------------------------------
// Host interface
// ---------------------------------------------------------------------------

func TestNewAppliesDefaults(t *testing.T) {
	vm := New(Options{StepLimit: 100})
	defer vm.Close()

	opts := vm.Options()
	d := DefaultOptions()
	if opts.MaxDepth != d.MaxDepth || opts.StackSize != d.StackSize {
		t.Errorf("Options = %+v, want defaults", opts)
	}
	if vm.checkInterval != 100 {
		t.Errorf("checkInterval = %d, want it lowered to the step limit", vm.checkInterval)
	}
	if vm.Root() == nil || vm.Root().Status() != ContextCreated {
		t.Errorf("root context not created")
	}
}

func TestRunReturnsValue(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	b := NewIrepBuilder(vm.Symbols)
	b.LoadInt(1, 40)
	b.Emit(OpADDI, 1, 2)
	b.Emit(OpRETURN, 1)

	wantInt(t, vm, mustRun(t, vm, b.Build()), 42)
}

func TestRunStopReturnsNil(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	b := NewIrepBuilder(vm.Symbols)
	b.LoadInt(1, 1)
	b.Emit(OpSTOP)

	if v := mustRun(t, vm, b.Build()); !v.IsNil() {
		t.Errorf("STOP returned %s, want nil", vm.Inspect(v))
	}
}

func TestRunSelfIsMain(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	b := NewIrepBuilder(vm.Symbols)
	b.Emit(OpLOADSELF, 1)
	b.Emit(OpRETURN, 1)

	v := mustRun(t, vm, b.Build())
	if !v.Same(vm.Main()) {
		t.Fatalf("self = %s, want main", vm.Inspect(v))
	}
	s, err := vm.Funcall(context.Background(), v, "to_s")
	if err != nil {
		t.Fatal(err)
	}
	wantString(t, vm, s, "main")
}

func TestFuncallFromHost(t *testing.T) {
	vm, _ := newTestVM(t, Options{})
	ctx := context.Background()

	v, err := vm.Funcall(ctx, IntValue(6), "*", IntValue(7))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, vm, v, 42)

	_, err = vm.Funcall(ctx, IntValue(1), "no_such_method")
	var re *RaiseError
	if !errors.As(err, &re) || re.Class != "NoMethodError" {
		t.Fatalf("err = %v, want NoMethodError", err)
	}
	if !strings.Contains(re.Message, "no_such_method") {
		t.Errorf("message = %q", re.Message)
	}
}

func TestCallProcFromHost(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	// lambda { |x| x * 2 }
	body := method(vm, Aspec{Req: 1}, 2)
	body.Emit(OpMOVE, 2, 1)
	body.LoadInt(3, 2)
	body.Emit(OpMUL, 2)
	body.Emit(OpRETURN, 2)

	b := NewIrepBuilder(vm.Symbols)
	b.Emit(OpLAMBDA, 1, b.Child(body.Build()))
	b.Emit(OpRETURN, 1)
	proc := mustRun(t, vm, b.Build())

	v, err := vm.Call(context.Background(), proc, IntValue(21))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, vm, v, 42)

	if _, err := vm.Call(context.Background(), IntValue(1)); err == nil {
		t.Error("Call on a non-proc succeeded")
	}
}

func TestGlobalsAndConstants(t *testing.T) {
	vm, _ := newTestVM(t, Options{})
	vm.GlobalSet("$answer", IntValue(42))

	b := NewIrepBuilder(vm.Symbols)
	b.Emit(OpGETGV, 1, b.Sym("$answer"))
	b.Emit(OpSETCONST, 1, b.Sym("ANSWER"))
	b.LoadString(2, "set")
	b.Emit(OpSETGV, 2, b.Sym("$out"))
	b.Emit(OpGETCONST, 1, b.Sym("ANSWER"))
	b.Emit(OpRETURN, 1)

	wantInt(t, vm, mustRun(t, vm, b.Build()), 42)
	wantString(t, vm, vm.GlobalGet("$out"), "set")
	if v, ok := vm.ConstGetName("ANSWER"); !ok || v.Int() != 42 {
		t.Errorf("ANSWER = %s, %v", vm.Inspect(v), ok)
	}
}

func TestUninitializedConstant(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	b := NewIrepBuilder(vm.Symbols)
	b.Emit(OpGETCONST, 1, b.Sym("Missing"))
	b.Emit(OpRETURN, 1)

	re := runRaise(t, vm, b.Build())
	if re.Class != "NameError" || re.Message != "uninitialized constant Missing" {
		t.Fatalf("got %s", re)
	}
}

func TestPutsWritesToStdout(t *testing.T) {
	vm, out := newTestVM(t, Options{})

	b := NewIrepBuilder(vm.Symbols)
	b.LoadString(2, "hello")
	b.LoadInt(3, 42)
	b.Emit(OpLOADNIL, 4)
	b.Emit(OpARRAY, 4, 0)
	b.SSend(1, "puts", 3)
	b.LoadString(2, "x")
	b.SSend(1, "p", 1)
	b.Emit(OpRETURN, 1)
	mustRun(t, vm, b.Build())

	want := "hello\n42\n\n\"x\"\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

// ---------------------------------------------------------------------------
// Interrupts
// ---------------------------------------------------------------------------

// infiniteLoop builds "loop forever" at top level.
func infiniteLoop(vm *VM) *Irep {
	b := NewIrepBuilder(vm.Symbols)
	top := b.NewLabel()
	b.Mark(top)
	b.LoadInt(1, 1)
	b.Jmp(top)
	return b.Build()
}

func TestStepLimit(t *testing.T) {
	vm, _ := newTestVM(t, Options{StepLimit: 1000, CheckInterval: 64})

	_, err := vm.Run(context.Background(), infiniteLoop(vm))
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}

	// the engine is usable again with a fresh root context
	b := NewIrepBuilder(vm.Symbols)
	b.LoadInt(1, 7)
	b.Emit(OpRETURN, 1)
	wantInt(t, vm, mustRun(t, vm, b.Build()), 7)
}

func TestContextCancellation(t *testing.T) {
	vm, _ := newTestVM(t, Options{CheckInterval: 128})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := vm.Run(ctx, infiniteLoop(vm))
	var ie *InterruptError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want InterruptError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err does not wrap DeadlineExceeded: %v", err)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := vm.Run(ctx, infiniteLoop(vm))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
