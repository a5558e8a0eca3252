package vm

import (
	"fmt"
	"math"
	"sort"
)

// ---------------------------------------------------------------------------
// Irep: compiled procedure
// ---------------------------------------------------------------------------

// Irep is the compiled form of one method, block or class body. It is
// immutable once built and shared by every proc and frame that runs it.
//
// Register layout of a frame running an Irep: R[0] is self, the parameters
// follow in Aspec order (required, optional, rest, post, keyword dict,
// block), then the remaining locals and temporaries up to NRegs.
type Irep struct {
	Iseq     []byte
	Aspec    Aspec
	NLocals  int // self + parameters + named locals, the slots closures can see
	NRegs    int
	Pool     []PoolValue
	Syms     []Symbol
	Reps     []*Irep
	Handlers []CatchHandler
	Filename string
	Lines    []LineEntry
}

// Aspec describes the parameter list consumed by ENTER.
type Aspec struct {
	Req   int  // leading required parameters
	Opt   int  // optional parameters
	Rest  bool // *rest
	Post  int  // required parameters after rest
	NKeys int  // keyword parameters
	KDict bool // **kwargs
	Block bool // &block
}

// HasKeywords reports whether the procedure takes keyword arguments.
func (a Aspec) HasKeywords() bool { return a.NKeys > 0 || a.KDict }

// kdictIndex is the register holding the keyword dict after ENTER.
func (a Aspec) kdictIndex() int {
	i := 1 + a.Req + a.Opt + a.Post
	if a.Rest {
		i++
	}
	return i
}

// blockIndex is the register holding the block after ENTER.
func (a Aspec) blockIndex() int {
	i := a.kdictIndex()
	if a.HasKeywords() {
		i++
	}
	return i
}

// expected renders the accepted argument count for arity errors.
func (a Aspec) expected() string {
	lo := a.Req + a.Post
	switch {
	case a.Rest:
		return fmt.Sprintf("%d+", lo)
	case a.Opt > 0:
		return fmt.Sprintf("%d..%d", lo, lo+a.Opt)
	}
	return fmt.Sprintf("%d", lo)
}

// ---------------------------------------------------------------------------
// Literal pool
// ---------------------------------------------------------------------------

// PoolKind tags a literal pool entry.
type PoolKind uint8

const (
	PoolInt PoolKind = iota
	PoolFloat
	PoolString
)

// PoolValue is one literal: an integer, a float or string bytes.
type PoolValue struct {
	Kind PoolKind
	Int  int64
	Flt  float64
	Str  string
}

func (p PoolValue) String() string {
	switch p.Kind {
	case PoolInt:
		return fmt.Sprintf("%d", p.Int)
	case PoolFloat:
		return fmt.Sprintf("%g", p.Flt)
	}
	return fmt.Sprintf("%q", p.Str)
}

// same compares literals for pool deduplication. Floats compare by bits so
// NaN payloads and -0.0 stay distinct entries.
func (p PoolValue) same(q PoolValue) bool {
	if p.Kind != q.Kind {
		return false
	}
	switch p.Kind {
	case PoolInt:
		return p.Int == q.Int
	case PoolFloat:
		return math.Float64bits(p.Flt) == math.Float64bits(q.Flt)
	}
	return p.Str == q.Str
}

// ---------------------------------------------------------------------------
// Catch table
// ---------------------------------------------------------------------------

// CatchKind is the kind of a catch table entry.
type CatchKind uint8

const (
	CatchRescue CatchKind = iota
	CatchEnsure
	CatchBreak
)

var catchKindNames = [...]string{
	CatchRescue: "rescue",
	CatchEnsure: "ensure",
	CatchBreak:  "break",
}

func (k CatchKind) String() string {
	if int(k) < len(catchKindNames) {
		return catchKindNames[k]
	}
	return fmt.Sprintf("catch(%d)", k)
}

// CatchHandler covers the instruction range [Begin, End). Rescue entries
// match when the exception is a kind of one of Guards (StandardError when
// Guards is empty). Ensure entries match everything, including breaks and
// non-local returns passing through. Break entries redirect control once a
// break has reached the frame that created its block.
type CatchHandler struct {
	Kind   CatchKind
	Begin  int
	End    int
	Target int
	Guards []Symbol
}

func (h *CatchHandler) covers(pc int) bool {
	return pc >= h.Begin && pc < h.End
}

// ---------------------------------------------------------------------------
// Line table
// ---------------------------------------------------------------------------

// LineEntry maps the instructions from PC onwards to a source line.
type LineEntry struct {
	PC   int
	Line int
}

// LineAt returns the source line of the instruction at pc, or 0.
func (ir *Irep) LineAt(pc int) int {
	i := sort.Search(len(ir.Lines), func(i int) bool { return ir.Lines[i].PC > pc })
	if i == 0 {
		return 0
	}
	return ir.Lines[i-1].Line
}

// poolValue converts pool entry i into a Value. Strings are copied so the
// literal itself is never mutated.
func (vm *VM) poolValue(ir *Irep, i int) Value {
	if i >= len(ir.Pool) {
		panic(fmt.Sprintf("vm: pool index %d out of range (%d entries)", i, len(ir.Pool)))
	}
	p := ir.Pool[i]
	switch p.Kind {
	case PoolInt:
		return IntValue(p.Int)
	case PoolFloat:
		return FloatValue(p.Flt)
	}
	return vm.NewString(p.Str)
}

func (ir *Irep) sym(i int) Symbol {
	if i >= len(ir.Syms) {
		panic(fmt.Sprintf("vm: symbol index %d out of range (%d entries)", i, len(ir.Syms)))
	}
	return ir.Syms[i]
}

func (ir *Irep) child(i int) *Irep {
	if i >= len(ir.Reps) {
		panic(fmt.Sprintf("vm: child irep index %d out of range (%d entries)", i, len(ir.Reps)))
	}
	return ir.Reps[i]
}
