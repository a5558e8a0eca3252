package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

const (
	OpNOP Opcode = iota // no operation

	// Loads
	OpMOVE     // R[a] = R[b]
	OpLOADL    // R[a] = Pool[b]
	OpLOADI    // R[a] = b
	OpLOADINEG // R[a] = -b
	OpLOADI16  // R[a] = int16(b)
	OpLOADI32  // R[a] = int32(b<<16 | c)
	OpLOADSYM  // R[a] = Syms[b]
	OpLOADNIL  // R[a] = nil
	OpLOADSELF // R[a] = self
	OpLOADT    // R[a] = true
	OpLOADF    // R[a] = false

	// Variables
	OpGETGV    // R[a] = $Syms[b]
	OpSETGV    // $Syms[b] = R[a]
	OpGETIV    // R[a] = @Syms[b]
	OpSETIV    // @Syms[b] = R[a]
	OpGETCONST // R[a] = constant Syms[b]
	OpSETCONST // constant Syms[b] = R[a]
	OpGETMCNST // R[a] = R[a]::Syms[b]
	OpGETUPVAR // R[a] = upvar(index b, level c)
	OpSETUPVAR // upvar(index b, level c) = R[a]

	// Control flow; offsets are relative to the next instruction
	OpJMP    // pc += a
	OpJMPIF  // if R[a] then pc += b
	OpJMPNOT // if !R[a] then pc += b
	OpJMPNIL // if R[a] == nil then pc += b

	// Exceptions
	OpEXCEPT  // R[a] = in-flight exception; clear it
	OpRESCUE  // R[b] = R[a].is_a?(R[b])
	OpRAISEIF // raise R[a] unless nil

	// Calls: c = n | nk<<4, 15 meaning packed
	OpSSEND  // R[a] = self.Syms[b](R[a+1]...)
	OpSSENDB // R[a] = self.Syms[b](R[a+1]..., &R[a+n+2nk+1])
	OpSEND   // R[a] = R[a].Syms[b](R[a+1]...)
	OpSENDB  // R[a] = R[a].Syms[b](R[a+1]..., &R[a+n+2nk+1])
	OpSUPER  // R[a] = super(R[a+1]..., &blk); b = n | nk<<4

	// Parameters
	OpENTER  // lay out arguments per Aspec
	OpKEY_P  // R[a] = kdict.key?(Syms[b])
	OpKARG   // R[a] = kdict.delete(Syms[b])
	OpKEYEND // raise unless kdict is empty

	// Returns
	OpRETURN     // return R[a]
	OpRETURN_BLK // return R[a] from the home method
	OpBREAK      // break R[a]

	// Arithmetic and comparison on R[a] and R[a+1]
	OpADD
	OpADDI // R[a] = R[a] + b
	OpSUB
	OpSUBI // R[a] = R[a] - b
	OpMUL
	OpDIV
	OpEQ
	OpLT
	OpLE
	OpGT
	OpGE

	// Literals
	OpARRAY     // R[a] = [R[a]..R[a+b-1]]
	OpARRAY2    // R[a] = [R[b]..R[b+c-1]]
	OpAREF      // R[a] = R[b][c]
	OpARYPUSH   // R[a].push(R[a+1]..R[a+b])
	OpHASH      // R[a] = {R[a] => R[a+1], ...} with b pairs
	OpSTRING    // R[a] = copy of Pool[b]
	OpLAMBDA    // R[a] = lambda(Reps[b])
	OpBLOCK     // R[a] = block(Reps[b])
	OpMETHOD    // R[a] = method body(Reps[b])
	OpRANGE_INC // R[a] = R[a]..R[a+1]
	OpRANGE_EXC // R[a] = R[a]...R[a+1]

	// Classes
	OpOCLASS // R[a] = Object
	OpCLASS  // R[a] = class Syms[b] under R[a] < R[a+1]
	OpMODULE // R[a] = module Syms[b] under R[a]
	OpEXEC   // R[a] = run Reps[b] with self = R[a]
	OpDEF    // R[a].define_method(Syms[b], R[a+1]); R[a] = Syms[b]
	OpALIAS  // alias Syms[a] Syms[b]
	OpUNDEF  // undef Syms[a]
	OpSCLASS // R[a] = R[a].singleton_class
	OpTCLASS // R[a] = target class

	OpSTOP // end of the outermost procedure

	opCount
)

// ---------------------------------------------------------------------------
// Operand shapes
// ---------------------------------------------------------------------------

// Shape is the operand layout of an instruction. B is one unsigned byte, S
// a 16-bit big-endian field (signed for jumps).
type Shape uint8

const (
	ShapeZ Shape = iota
	ShapeB
	ShapeS
	ShapeBB
	ShapeBS
	ShapeBBB
	ShapeBSS
)

var shapeWidths = [...]int{
	ShapeZ:   0,
	ShapeB:   1,
	ShapeS:   2,
	ShapeBB:  2,
	ShapeBS:  3,
	ShapeBBB: 3,
	ShapeBSS: 5,
}

// Width returns the number of operand bytes.
func (s Shape) Width() int { return shapeWidths[s] }

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name  string
	Shape Shape
}

var opcodeTable = [opCount]OpcodeInfo{
	OpNOP: {"NOP", ShapeZ},

	OpMOVE:     {"MOVE", ShapeBB},
	OpLOADL:    {"LOADL", ShapeBB},
	OpLOADI:    {"LOADI", ShapeBB},
	OpLOADINEG: {"LOADINEG", ShapeBB},
	OpLOADI16:  {"LOADI16", ShapeBS},
	OpLOADI32:  {"LOADI32", ShapeBSS},
	OpLOADSYM:  {"LOADSYM", ShapeBB},
	OpLOADNIL:  {"LOADNIL", ShapeB},
	OpLOADSELF: {"LOADSELF", ShapeB},
	OpLOADT:    {"LOADT", ShapeB},
	OpLOADF:    {"LOADF", ShapeB},

	OpGETGV:    {"GETGV", ShapeBB},
	OpSETGV:    {"SETGV", ShapeBB},
	OpGETIV:    {"GETIV", ShapeBB},
	OpSETIV:    {"SETIV", ShapeBB},
	OpGETCONST: {"GETCONST", ShapeBB},
	OpSETCONST: {"SETCONST", ShapeBB},
	OpGETMCNST: {"GETMCNST", ShapeBB},
	OpGETUPVAR: {"GETUPVAR", ShapeBBB},
	OpSETUPVAR: {"SETUPVAR", ShapeBBB},

	OpJMP:    {"JMP", ShapeS},
	OpJMPIF:  {"JMPIF", ShapeBS},
	OpJMPNOT: {"JMPNOT", ShapeBS},
	OpJMPNIL: {"JMPNIL", ShapeBS},

	OpEXCEPT:  {"EXCEPT", ShapeB},
	OpRESCUE:  {"RESCUE", ShapeBB},
	OpRAISEIF: {"RAISEIF", ShapeB},

	OpSSEND:  {"SSEND", ShapeBBB},
	OpSSENDB: {"SSENDB", ShapeBBB},
	OpSEND:   {"SEND", ShapeBBB},
	OpSENDB:  {"SENDB", ShapeBBB},
	OpSUPER:  {"SUPER", ShapeBB},

	OpENTER:  {"ENTER", ShapeZ},
	OpKEY_P:  {"KEY_P", ShapeBB},
	OpKARG:   {"KARG", ShapeBB},
	OpKEYEND: {"KEYEND", ShapeZ},

	OpRETURN:     {"RETURN", ShapeB},
	OpRETURN_BLK: {"RETURN_BLK", ShapeB},
	OpBREAK:      {"BREAK", ShapeB},

	OpADD:  {"ADD", ShapeB},
	OpADDI: {"ADDI", ShapeBB},
	OpSUB:  {"SUB", ShapeB},
	OpSUBI: {"SUBI", ShapeBB},
	OpMUL:  {"MUL", ShapeB},
	OpDIV:  {"DIV", ShapeB},
	OpEQ:   {"EQ", ShapeB},
	OpLT:   {"LT", ShapeB},
	OpLE:   {"LE", ShapeB},
	OpGT:   {"GT", ShapeB},
	OpGE:   {"GE", ShapeB},

	OpARRAY:     {"ARRAY", ShapeBB},
	OpARRAY2:    {"ARRAY2", ShapeBBB},
	OpAREF:      {"AREF", ShapeBBB},
	OpARYPUSH:   {"ARYPUSH", ShapeBB},
	OpHASH:      {"HASH", ShapeBB},
	OpSTRING:    {"STRING", ShapeBB},
	OpLAMBDA:    {"LAMBDA", ShapeBB},
	OpBLOCK:     {"BLOCK", ShapeBB},
	OpMETHOD:    {"METHOD", ShapeBB},
	OpRANGE_INC: {"RANGE_INC", ShapeB},
	OpRANGE_EXC: {"RANGE_EXC", ShapeB},

	OpOCLASS: {"OCLASS", ShapeB},
	OpCLASS:  {"CLASS", ShapeBB},
	OpMODULE: {"MODULE", ShapeBB},
	OpEXEC:   {"EXEC", ShapeBB},
	OpDEF:    {"DEF", ShapeBB},
	OpALIAS:  {"ALIAS", ShapeBB},
	OpUNDEF:  {"UNDEF", ShapeB},
	OpSCLASS: {"SCLASS", ShapeB},
	OpTCLASS: {"TCLASS", ShapeB},

	OpSTOP: {"STOP", ShapeZ},
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool { return op < opCount }

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if op < opCount {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string { return op.Info().Name }

// Shape returns the operand shape for an opcode.
func (op Opcode) Shape() Shape { return op.Info().Shape }

// String implements the Stringer interface.
func (op Opcode) String() string { return op.Name() }

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// decodeOperands reads the operands of an instruction with the given shape
// starting at pc and returns them with the pc of the next instruction. S
// fields are returned as their raw 16 bits; jump instructions sign-extend.
func decodeOperands(code []byte, pc int, s Shape) (a, b, c int, next int) {
	if pc+s.Width() > len(code) {
		panic(fmt.Sprintf("vm: truncated instruction at %d", pc-1))
	}
	switch s {
	case ShapeB:
		a = int(code[pc])
	case ShapeS:
		a = int(code[pc])<<8 | int(code[pc+1])
	case ShapeBB:
		a, b = int(code[pc]), int(code[pc+1])
	case ShapeBS:
		a = int(code[pc])
		b = int(code[pc+1])<<8 | int(code[pc+2])
	case ShapeBBB:
		a, b, c = int(code[pc]), int(code[pc+1]), int(code[pc+2])
	case ShapeBSS:
		a = int(code[pc])
		b = int(code[pc+1])<<8 | int(code[pc+2])
		c = int(code[pc+3])<<8 | int(code[pc+4])
	}
	return a, b, c, pc + s.Width()
}

// callArgs splits the packed argument-count operand of a call.
func callArgs(c int) (n, nk int) {
	return c & 0xf, (c >> 4) & 0xf
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders the instruction at pc and returns the pc
// of the next one. syms may be nil.
func (ir *Irep) DisassembleInstruction(pc int, syms *SymbolTable) (string, int) {
	op := Opcode(ir.Iseq[pc])
	info := op.Info()
	a, b, c, next := decodeOperands(ir.Iseq, pc+1, info.Shape)
	symName := func(i int) string {
		if i < len(ir.Syms) && syms != nil {
			return ":" + syms.Name(ir.Syms[i])
		}
		return fmt.Sprintf("sym#%d", i)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  %-10s", pc, info.Name)
	switch op {
	case OpJMP:
		off := int(int16(a))
		fmt.Fprintf(&sb, " %d (-> %04d)", off, next+off)
	case OpJMPIF, OpJMPNOT, OpJMPNIL:
		off := int(int16(b))
		fmt.Fprintf(&sb, " R%d %d (-> %04d)", a, off, next+off)
	case OpLOADI16:
		fmt.Fprintf(&sb, " R%d %d", a, int16(b))
	case OpLOADI32:
		fmt.Fprintf(&sb, " R%d %d", a, int32(uint32(b)<<16|uint32(c)))
	case OpLOADL, OpSTRING:
		lit := "?"
		if b < len(ir.Pool) {
			lit = ir.Pool[b].String()
		}
		fmt.Fprintf(&sb, " R%d L%d ; %s", a, b, lit)
	case OpLOADSYM, OpGETGV, OpSETGV, OpGETIV, OpSETIV, OpGETCONST, OpSETCONST,
		OpGETMCNST, OpKEY_P, OpKARG, OpCLASS, OpMODULE, OpDEF:
		fmt.Fprintf(&sb, " R%d %s", a, symName(b))
	case OpSSEND, OpSSENDB, OpSEND, OpSENDB:
		n, nk := callArgs(c)
		fmt.Fprintf(&sb, " R%d %s n=%d nk=%d", a, symName(b), n, nk)
	case OpSUPER:
		n, nk := callArgs(b)
		fmt.Fprintf(&sb, " R%d n=%d nk=%d", a, n, nk)
	case OpALIAS:
		fmt.Fprintf(&sb, " %s %s", symName(a), symName(b))
	case OpUNDEF:
		fmt.Fprintf(&sb, " %s", symName(a))
	case OpLAMBDA, OpBLOCK, OpMETHOD, OpEXEC:
		fmt.Fprintf(&sb, " R%d I%d", a, b)
	case OpENTER:
		as := ir.Aspec
		fmt.Fprintf(&sb, " %d:%d:%t:%d:%d:%t:%t", as.Req, as.Opt, as.Rest, as.Post, as.NKeys, as.KDict, as.Block)
	default:
		switch info.Shape {
		case ShapeB:
			fmt.Fprintf(&sb, " R%d", a)
		case ShapeBB:
			fmt.Fprintf(&sb, " R%d %d", a, b)
		case ShapeBBB:
			fmt.Fprintf(&sb, " R%d %d %d", a, b, c)
		}
	}
	return strings.TrimRight(sb.String(), " "), next
}

// Disassemble returns a full listing of the instruction sequence followed
// by the catch table.
func (ir *Irep) Disassemble(syms *SymbolTable) string {
	var lines []string
	for pc := 0; pc < len(ir.Iseq); {
		var s string
		s, pc = ir.DisassembleInstruction(pc, syms)
		lines = append(lines, s)
	}
	for _, h := range ir.Handlers {
		lines = append(lines, fmt.Sprintf("catch %s [%04d, %04d) -> %04d", h.Kind, h.Begin, h.End, h.Target))
	}
	return strings.Join(lines, "\n")
}
