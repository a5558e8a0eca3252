package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// IrepBuilder: assembler for compiled procedures
// ---------------------------------------------------------------------------

// IrepBuilder assembles an Irep instruction by instruction. It interns
// symbol and literal operands, resolves labels and tracks the highest
// register used so NRegs does not have to be counted by hand.
type IrepBuilder struct {
	syms *SymbolTable
	ir   *Irep

	symIndex map[Symbol]int
	maxReg   int
	catches  []pendingCatch
	labels   []*Label
}

type pendingCatch struct {
	kind               CatchKind
	begin, end, target *Label
	guards             []Symbol
}

// NewIrepBuilder creates a builder that interns names in syms.
func NewIrepBuilder(syms *SymbolTable) *IrepBuilder {
	return &IrepBuilder{
		syms:     syms,
		ir:       &Irep{Iseq: make([]byte, 0, 64), NLocals: 1},
		symIndex: make(map[Symbol]int),
	}
}

// SetAspec sets the parameter description used by ENTER.
func (b *IrepBuilder) SetAspec(a Aspec) { b.ir.Aspec = a }

// SetLocals sets the number of closure-visible slots, self included.
func (b *IrepBuilder) SetLocals(n int) { b.ir.NLocals = n }

// SetRegs sets a minimum register count.
func (b *IrepBuilder) SetRegs(n int) {
	if n-1 > b.maxReg {
		b.maxReg = n - 1
	}
}

// SetFilename records the source file name for backtraces.
func (b *IrepBuilder) SetFilename(name string) { b.ir.Filename = name }

// Line marks the following instructions as belonging to source line n.
func (b *IrepBuilder) Line(n int) {
	b.ir.Lines = append(b.ir.Lines, LineEntry{PC: len(b.ir.Iseq), Line: n})
}

// Pos returns the offset of the next instruction.
func (b *IrepBuilder) Pos() int { return len(b.ir.Iseq) }

// ---------------------------------------------------------------------------
// Operand tables
// ---------------------------------------------------------------------------

// Sym returns the Syms index for name, adding it on first use.
func (b *IrepBuilder) Sym(name string) int {
	s := b.syms.Intern(name)
	if i, ok := b.symIndex[s]; ok {
		return i
	}
	i := len(b.ir.Syms)
	b.ir.Syms = append(b.ir.Syms, s)
	b.symIndex[s] = i
	return i
}

func (b *IrepBuilder) literal(p PoolValue) int {
	for i, q := range b.ir.Pool {
		if q.same(p) {
			return i
		}
	}
	b.ir.Pool = append(b.ir.Pool, p)
	return len(b.ir.Pool) - 1
}

// Int adds an integer literal and returns its pool index.
func (b *IrepBuilder) Int(n int64) int { return b.literal(PoolValue{Kind: PoolInt, Int: n}) }

// Float adds a float literal and returns its pool index.
func (b *IrepBuilder) Float(f float64) int { return b.literal(PoolValue{Kind: PoolFloat, Flt: f}) }

// Str adds a string literal and returns its pool index.
func (b *IrepBuilder) Str(s string) int { return b.literal(PoolValue{Kind: PoolString, Str: s}) }

// Child adds a nested procedure and returns its Reps index.
func (b *IrepBuilder) Child(ir *Irep) int {
	b.ir.Reps = append(b.ir.Reps, ir)
	return len(b.ir.Reps) - 1
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

var shapeOperands = [...]int{ShapeZ: 0, ShapeB: 1, ShapeS: 1, ShapeBB: 2, ShapeBS: 2, ShapeBBB: 3, ShapeBSS: 3}

// Emit appends op with operands encoded according to its shape.
func (b *IrepBuilder) Emit(op Opcode, operands ...int) {
	shape := op.Shape()
	want := shapeOperands[shape]
	if len(operands) != want {
		panic(fmt.Sprintf("%s takes %d operands, got %d", op, want, len(operands)))
	}
	code := append(b.ir.Iseq, byte(op))
	switch shape {
	case ShapeB:
		code = append(code, byte(operands[0]))
	case ShapeS:
		code = append(code, byte(operands[0]>>8), byte(operands[0]))
	case ShapeBB:
		code = append(code, byte(operands[0]), byte(operands[1]))
	case ShapeBS:
		code = append(code, byte(operands[0]), byte(operands[1]>>8), byte(operands[1]))
	case ShapeBBB:
		code = append(code, byte(operands[0]), byte(operands[1]), byte(operands[2]))
	case ShapeBSS:
		code = append(code, byte(operands[0]),
			byte(operands[1]>>8), byte(operands[1]),
			byte(operands[2]>>8), byte(operands[2]))
	}
	b.ir.Iseq = code
	b.noteRegs(op, operands)
}

func (b *IrepBuilder) noteRegs(op Opcode, operands []int) {
	top := -1
	switch op {
	case OpNOP, OpJMP, OpENTER, OpKEYEND, OpSTOP, OpALIAS, OpUNDEF:
	case OpSSEND, OpSSENDB, OpSEND, OpSENDB:
		top = operands[0] + callExtent(operands[2])
	case OpSUPER:
		top = operands[0] + callExtent(operands[1])
	case OpARRAY, OpARYPUSH:
		top = operands[0] + operands[1]
	case OpHASH:
		top = operands[0] + 2*operands[1]
	case OpADD, OpADDI, OpSUB, OpSUBI, OpMUL, OpDIV, OpEQ, OpLT, OpLE, OpGT, OpGE:
		top = operands[0] + 2 // a fallback send uses the block slot
	case OpRANGE_INC, OpRANGE_EXC, OpCLASS, OpDEF:
		top = operands[0] + 1
	case OpARRAY2:
		top = max(operands[0], operands[1]+operands[2])
	case OpMOVE, OpRESCUE, OpAREF:
		top = max(operands[0], operands[1])
	default:
		top = operands[0]
	}
	if top > b.maxReg {
		b.maxReg = top
	}
}

// callExtent is the offset of the block slot from the receiver register.
func callExtent(c int) int {
	n, nk := callArgs(c)
	return 1 + argSlots(n) + kwSlots(nk)
}

// LoadInt emits the shortest instruction loading n into R[a].
func (b *IrepBuilder) LoadInt(a int, n int64) {
	switch {
	case n >= 0 && n <= 255:
		b.Emit(OpLOADI, a, int(n))
	case n < 0 && n >= -255:
		b.Emit(OpLOADINEG, a, int(-n))
	case n >= math.MinInt16 && n <= math.MaxInt16:
		b.Emit(OpLOADI16, a, int(uint16(int16(n))))
	case n >= math.MinInt32 && n <= math.MaxInt32:
		u := uint32(int32(n))
		b.Emit(OpLOADI32, a, int(u>>16), int(u&0xffff))
	default:
		b.Emit(OpLOADL, a, b.Int(n))
	}
}

// LoadFloat emits a load of f into R[a].
func (b *IrepBuilder) LoadFloat(a int, f float64) { b.Emit(OpLOADL, a, b.Float(f)) }

// LoadString emits a fresh string copy of s into R[a].
func (b *IrepBuilder) LoadString(a int, s string) { b.Emit(OpSTRING, a, b.Str(s)) }

// LoadSym emits a symbol load into R[a].
func (b *IrepBuilder) LoadSym(a int, name string) { b.Emit(OpLOADSYM, a, b.Sym(name)) }

// Send emits SEND: R[a] = R[a].name(R[a+1]..R[a+n]).
func (b *IrepBuilder) Send(a int, name string, n int) { b.Emit(OpSEND, a, b.Sym(name), n) }

// SendK emits SEND with n positional and nk keyword arguments.
func (b *IrepBuilder) SendK(a int, name string, n, nk int) {
	b.Emit(OpSEND, a, b.Sym(name), n|nk<<4)
}

// SendB emits SENDB: the block is in R[a+n+1].
func (b *IrepBuilder) SendB(a int, name string, n int) { b.Emit(OpSENDB, a, b.Sym(name), n) }

// SSend emits a call on self.
func (b *IrepBuilder) SSend(a int, name string, n int) { b.Emit(OpSSEND, a, b.Sym(name), n) }

// SSendB emits a call on self with a block.
func (b *IrepBuilder) SSendB(a int, name string, n int) { b.Emit(OpSSENDB, a, b.Sym(name), n) }

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label is a position in the instruction sequence, possibly not yet known.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

type labelRef struct {
	operand int // offset of the 16-bit field to patch
	next    int // offset of the instruction after the jump
}

// NewLabel creates an unresolved label.
func (b *IrepBuilder) NewLabel() *Label {
	l := &Label{}
	b.labels = append(b.labels, l)
	return l
}

// Mark resolves label to the current position and patches earlier jumps.
func (b *IrepBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.ir.Iseq)
	for _, ref := range label.refs {
		b.patch(ref, label.position)
	}
	label.refs = nil
}

func (b *IrepBuilder) patch(ref labelRef, target int) {
	off := target - ref.next
	if off < math.MinInt16 || off > math.MaxInt16 {
		panic(fmt.Sprintf("jump offset %d out of range", off))
	}
	b.ir.Iseq[ref.operand] = byte(uint16(int16(off)) >> 8)
	b.ir.Iseq[ref.operand+1] = byte(uint16(int16(off)))
}

func (b *IrepBuilder) jumpTo(label *Label, operand int) {
	ref := labelRef{operand: operand, next: len(b.ir.Iseq)}
	if label.resolved {
		b.patch(ref, label.position)
		return
	}
	label.refs = append(label.refs, ref)
}

// Jmp emits an unconditional jump to label.
func (b *IrepBuilder) Jmp(label *Label) {
	b.Emit(OpJMP, 0)
	b.jumpTo(label, len(b.ir.Iseq)-2)
}

// JumpIf emits op (JMPIF, JMPNOT or JMPNIL) testing R[a].
func (b *IrepBuilder) JumpIf(op Opcode, a int, label *Label) {
	if op != OpJMPIF && op != OpJMPNOT && op != OpJMPNIL {
		panic(fmt.Sprintf("%s is not a conditional jump", op))
	}
	b.Emit(op, a, 0)
	b.jumpTo(label, len(b.ir.Iseq)-2)
}

// ---------------------------------------------------------------------------
// Catch table
// ---------------------------------------------------------------------------

// Catch registers a handler for the instructions between begin and end.
// Handlers are searched in registration order.
func (b *IrepBuilder) Catch(kind CatchKind, begin, end, target *Label, guards ...string) {
	pc := pendingCatch{kind: kind, begin: begin, end: end, target: target}
	for _, g := range guards {
		pc.guards = append(pc.guards, b.syms.Intern(g))
	}
	b.catches = append(b.catches, pc)
}

// Build resolves the catch table and returns the finished Irep. It panics
// if a label was used but never marked.
func (b *IrepBuilder) Build() *Irep {
	for _, l := range b.labels {
		if !l.resolved && len(l.refs) > 0 {
			panic("unresolved label")
		}
	}
	for _, c := range b.catches {
		if !c.begin.resolved || !c.end.resolved || !c.target.resolved {
			panic("catch handler uses an unresolved label")
		}
		b.ir.Handlers = append(b.ir.Handlers, CatchHandler{
			Kind:   c.kind,
			Begin:  c.begin.position,
			End:    c.end.position,
			Target: c.target.position,
			Guards: c.guards,
		})
	}
	as := b.ir.Aspec
	b.ir.NRegs = max(b.maxReg+1, b.ir.NLocals, as.blockIndex()+1)
	return b.ir
}
