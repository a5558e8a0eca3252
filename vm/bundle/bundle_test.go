package bundle

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/rite/vm"
	"github.com/fxamacker/cbor/v2"
)

// fibProgram builds "def fib(n) ... end; fib(n)" against syms.
func fibProgram(syms *vm.SymbolTable, n int64) *vm.Irep {
	fb := vm.NewIrepBuilder(syms)
	fb.SetAspec(vm.Aspec{Req: 1})
	fb.SetLocals(2)
	fb.Emit(vm.OpENTER)
	recurse := fb.NewLabel()
	fb.Emit(vm.OpMOVE, 2, 1)
	fb.LoadInt(3, 2)
	fb.Emit(vm.OpLT, 2)
	fb.JumpIf(vm.OpJMPNOT, 2, recurse)
	fb.Emit(vm.OpRETURN, 1)
	fb.Mark(recurse)
	fb.Emit(vm.OpMOVE, 3, 1)
	fb.Emit(vm.OpSUBI, 3, 1)
	fb.SSend(2, "fib", 1)
	fb.Emit(vm.OpMOVE, 4, 1)
	fb.Emit(vm.OpSUBI, 4, 2)
	fb.SSend(3, "fib", 1)
	fb.Emit(vm.OpADD, 2)
	fb.Emit(vm.OpRETURN, 2)

	b := vm.NewIrepBuilder(syms)
	b.SetFilename("fib.rb")
	b.Line(1)
	b.Emit(vm.OpTCLASS, 1)
	b.Emit(vm.OpMETHOD, 2, b.Child(fb.Build()))
	b.Emit(vm.OpDEF, 1, b.Sym("fib"))
	b.Line(2)
	b.LoadInt(2, n)
	b.SSend(1, "fib", 1)
	b.Emit(vm.OpRETURN, 1)
	return b.Build()
}

// rescueProgram builds "begin; 1 / 0; rescue ZeroDivisionError; :caught; end".
func rescueProgram(syms *vm.SymbolTable) *vm.Irep {
	b := vm.NewIrepBuilder(syms)
	begin, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(begin)
	b.LoadInt(1, 1)
	b.LoadInt(2, 0)
	b.Emit(vm.OpDIV, 1)
	b.Mark(end)
	b.Emit(vm.OpRETURN, 1)
	b.Mark(handler)
	b.LoadSym(1, "caught")
	b.Emit(vm.OpRETURN, 1)
	b.Catch(vm.CatchRescue, begin, end, handler, "ZeroDivisionError")
	return b.Build()
}

func run(t *testing.T, engine *vm.VM, ir *vm.Irep) vm.Value {
	t.Helper()
	v, err := engine.Run(context.Background(), ir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return v
}

// ---------------------------------------------------------------------------
// Round trips
// ---------------------------------------------------------------------------

func TestRoundTripRunsInAnotherEngine(t *testing.T) {
	// a scratch table; the loading engine interns the names itself
	src := vm.NewSymbolTable()
	src.Intern("padding")
	ir := fibProgram(src, 10)

	data, err := Marshal(ir, src)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	engine := vm.New(vm.Options{})
	defer engine.Close()
	got, err := Unmarshal(data, engine.Symbols)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.Filename != "fib.rb" || got.LineAt(0) != 1 {
		t.Errorf("filename/line = %q/%d", got.Filename, got.LineAt(0))
	}
	if len(got.Reps) != 1 || got.Reps[0].Aspec != (vm.Aspec{Req: 1}) {
		t.Errorf("child = %+v", got.Reps)
	}
	if v := run(t, engine, got); !v.IsInteger() || v.Int() != 55 {
		t.Errorf("fib(10) = %s, want 55", engine.Inspect(v))
	}
}

func TestRoundTripKeepsHandlersAndLiterals(t *testing.T) {
	src := vm.NewSymbolTable()
	b := vm.NewIrepBuilder(src)
	b.LoadFloat(1, -2.5)
	b.LoadString(2, "héllo")
	b.LoadInt(3, 1<<40)
	b.Emit(vm.OpRETURN, 1)
	lits := b.Build()

	engine := vm.New(vm.Options{})
	defer engine.Close()

	for name, ir := range map[string]*vm.Irep{"literals": lits, "rescue": rescueProgram(src)} {
		t.Run(name, func(t *testing.T) {
			data, err := Marshal(ir, src)
			if err != nil {
				t.Fatal(err)
			}
			got, err := Unmarshal(data, engine.Symbols)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got.Iseq, ir.Iseq) {
				t.Error("instruction sequence changed")
			}
			if len(got.Pool) != len(ir.Pool) {
				t.Fatalf("pool has %d entries, want %d", len(got.Pool), len(ir.Pool))
			}
			for i := range ir.Pool {
				if got.Pool[i] != ir.Pool[i] {
					t.Errorf("pool[%d] = %v, want %v", i, got.Pool[i], ir.Pool[i])
				}
			}
			if len(got.Handlers) != len(ir.Handlers) {
				t.Fatalf("%d handlers, want %d", len(got.Handlers), len(ir.Handlers))
			}
			for i, h := range got.Handlers {
				if len(h.Guards) != len(ir.Handlers[i].Guards) {
					t.Errorf("handler %d guards = %v", i, h.Guards)
				}
			}
		})
	}

	data, _ := Marshal(rescueProgram(src), src)
	ir, err := Unmarshal(data, engine.Symbols)
	if err != nil {
		t.Fatal(err)
	}
	if v := run(t, engine, ir); engine.Inspect(v) != ":caught" {
		t.Errorf("rescue program = %s, want :caught", engine.Inspect(v))
	}
}

func TestRoundTripKeepsFloatBits(t *testing.T) {
	src := vm.NewSymbolTable()
	want := []uint64{
		0x7ff8000000000123, // quiet NaN with a payload
		0x7ff0000000000001, // signalling NaN
		math.Float64bits(math.Copysign(0, -1)),
		math.Float64bits(math.Inf(-1)),
		math.Float64bits(0.1),
	}
	b := vm.NewIrepBuilder(src)
	for i, bits := range want {
		b.LoadFloat(i+1, math.Float64frombits(bits))
	}
	b.Emit(vm.OpRETURN, 3)

	data, err := Marshal(b.Build(), src)
	if err != nil {
		t.Fatal(err)
	}
	engine := vm.New(vm.Options{})
	defer engine.Close()
	ir, err := Unmarshal(data, engine.Symbols)
	if err != nil {
		t.Fatal(err)
	}
	if len(ir.Pool) != len(want) {
		t.Fatalf("pool has %d entries, want %d", len(ir.Pool), len(want))
	}
	for i, bits := range want {
		if got := math.Float64bits(ir.Pool[i].Flt); got != bits {
			t.Errorf("pool[%d] = %#016x, want %#016x", i, got, bits)
		}
	}

	v := run(t, engine, ir)
	if !v.IsFloat() || !math.Signbit(v.Float()) || v.Float() != 0 {
		t.Errorf("negative zero literal ran as %s", engine.Inspect(v))
	}
}

func TestDigestIsStable(t *testing.T) {
	a, err := Digest(fibProgram(vm.NewSymbolTable(), 10), vm.NewSymbolTable())
	if err == nil {
		t.Fatalf("Digest with a foreign table succeeded: %x", a)
	}

	s1, s2 := vm.NewSymbolTable(), vm.NewSymbolTable()
	s2.Intern("unrelated")
	d1, err := Digest(fibProgram(s1, 10), s1)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := Digest(fibProgram(s2, 10), s2)
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Error("digest depends on symbol IDs")
	}
	d3, _ := Digest(fibProgram(s1, 11), s1)
	if d1 == d3 {
		t.Error("different programs share a digest")
	}
}

func TestFileRoundTrip(t *testing.T) {
	syms := vm.NewSymbolTable()
	path := filepath.Join(t.TempDir(), "fib.rite")
	if err := WriteFile(path, fibProgram(syms, 12), syms); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	engine := vm.New(vm.Options{})
	defer engine.Close()
	ir, err := ReadFile(path, engine.Symbols)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if v := run(t, engine, ir); v.Int() != 144 {
		t.Errorf("fib(12) = %s, want 144", engine.Inspect(v))
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.rite"), engine.Symbols); err == nil {
		t.Error("ReadFile of a missing file succeeded")
	}
}

// ---------------------------------------------------------------------------
// Rejection
// ---------------------------------------------------------------------------

func TestUnmarshalRejectsBadContainers(t *testing.T) {
	syms := vm.NewSymbolTable()
	good, err := toWire(fibProgram(syms, 1), syms)
	if err != nil {
		t.Fatal(err)
	}

	encode := func(c *container) []byte {
		data, err := cborEncMode.Marshal(c)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	tests := map[string][]byte{
		"magic":   encode(&container{Magic: "NOPE", Version: Version, Root: good}),
		"version": encode(&container{Magic: Magic, Version: Version + 1, Root: good}),
		"root":    encode(&container{Magic: Magic, Version: Version}),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Unmarshal(data, syms); !errors.Is(err, ErrFormat) {
				t.Errorf("err = %v, want ErrFormat", err)
			}
		})
	}

	if _, err := Unmarshal([]byte{0xff, 0x00}, syms); err == nil || errors.Is(err, ErrFormat) {
		t.Errorf("garbage: err = %v, want a decode error", err)
	}
}

func TestUnmarshalRejectsEmptyChild(t *testing.T) {
	syms := vm.NewSymbolTable()
	w, err := toWire(fibProgram(syms, 3), syms)
	if err != nil {
		t.Fatal(err)
	}
	w.Reps = append(w.Reps, nil)
	data, err := cborEncMode.Marshal(&container{Magic: Magic, Version: Version, Root: w})
	if err != nil {
		t.Fatal(err)
	}
	_, err = Unmarshal(data, syms)
	if !errors.Is(err, ErrFormat) || !strings.Contains(err.Error(), "root: child 1") {
		t.Errorf("err = %v, want ErrFormat naming root: child 1", err)
	}
}

func TestContainerIsCBORMap(t *testing.T) {
	syms := vm.NewSymbolTable()
	data, err := Marshal(fibProgram(syms, 1), syms)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[int]any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		t.Fatalf("container is not a CBOR map: %v", err)
	}
	if raw[1] != Magic {
		t.Errorf("key 1 = %v, want %q", raw[1], Magic)
	}
}
