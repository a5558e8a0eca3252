package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// execute runs the frame on top of the frame stack, and everything it
// calls, until that frame returns or an exception escapes it. The frame
// must be a boundary (CallHost or CallResumed). Escaping exceptions come
// back as *thrown; anything else non-nil is fatal.
func (c *Context) execute() (Value, error) {
	vm := c.vm
	for {
		ci := c.frames[len(c.frames)-1]
		code := ci.irep.Iseq

		vm.steps++
		if vm.steps%vm.checkInterval == 0 {
			if err := c.checkInterrupt(); err != nil {
				return Nil, c.fail(err)
			}
		}

		if ci.pc < 0 || ci.pc >= len(code) {
			panic(fmt.Sprintf("vm: pc %d out of range in %s (%d bytes)", ci.pc, c.frameName(ci), len(code)))
		}
		op := Opcode(code[ci.pc])
		if !op.Valid() {
			panic(fmt.Sprintf("vm: unknown opcode 0x%02x at %d in %s", byte(op), ci.pc, c.frameName(ci)))
		}
		a, b, cc, next := decodeOperands(code, ci.pc+1, op.Shape())
		ci.pc = next
		R := c.stack[ci.base : ci.base+ci.nregs]

		var raised Value
		var fatal error

		switch op {
		case OpNOP:

		// Loads
		case OpMOVE:
			R[a] = R[b]
		case OpLOADL:
			R[a] = vm.poolValue(ci.irep, b)
		case OpLOADI:
			R[a] = IntValue(int64(b))
		case OpLOADINEG:
			R[a] = IntValue(-int64(b))
		case OpLOADI16:
			R[a] = IntValue(int64(int16(b)))
		case OpLOADI32:
			R[a] = IntValue(int64(int32(uint32(b)<<16 | uint32(cc))))
		case OpLOADSYM:
			R[a] = SymbolValue(ci.irep.sym(b))
		case OpLOADNIL:
			R[a] = Nil
		case OpLOADSELF:
			R[a] = R[0]
		case OpLOADT:
			R[a] = True
		case OpLOADF:
			R[a] = False

		// Variables
		case OpGETGV:
			R[a] = vm.globals[ci.irep.sym(b)]
		case OpSETGV:
			vm.globals[ci.irep.sym(b)] = R[a]
		case OpGETIV:
			R[a] = ivarGet(R[0], ci.irep.sym(b))
		case OpSETIV:
			raised = c.ivarSet(R[0], ci.irep.sym(b), R[a])
		case OpGETCONST:
			sym := ci.irep.sym(b)
			v, ok := c.constLookup(ci, sym)
			if !ok {
				raised = vm.newErrorf(vm.NameError, "uninitialized constant %s", vm.Symbols.Name(sym))
				break
			}
			R[a] = v
		case OpSETCONST:
			vm.ConstSet(c.targetClass(ci), ci.irep.sym(b), R[a])
		case OpGETMCNST:
			sym := ci.irep.sym(b)
			k, ok := R[a].ref.(*RClass)
			if !ok {
				raised = vm.newErrorf(vm.TypeError, "%s is not a class/module", vm.Inspect(R[a]))
				break
			}
			v, found := vm.ConstGet(k, sym)
			if !found {
				raised = vm.newErrorf(vm.NameError, "uninitialized constant %s::%s", k.Name(), vm.Symbols.Name(sym))
				break
			}
			R[a] = v
		case OpGETUPVAR:
			if e := c.upvarEnv(ci, cc); e != nil {
				R[a] = e.Get(b)
			} else {
				R[a] = Nil
			}
		case OpSETUPVAR:
			if e := c.upvarEnv(ci, cc); e != nil {
				e.Set(b, R[a])
			}

		// Control flow
		case OpJMP:
			ci.pc += int(int16(a))
		case OpJMPIF:
			if R[a].Truthy() {
				ci.pc += int(int16(b))
			}
		case OpJMPNOT:
			if !R[a].Truthy() {
				ci.pc += int(int16(b))
			}
		case OpJMPNIL:
			if R[a].IsNil() {
				ci.pc += int(int16(b))
			}

		// Exceptions
		case OpEXCEPT:
			R[a] = c.exc
			c.exc = Nil
		case OpRESCUE:
			k, ok := R[b].ref.(*RClass)
			if !ok {
				raised = vm.newErrorf(vm.TypeError, "class or module required for rescue clause")
				break
			}
			R[b] = BoolValue(vm.ClassOf(R[a]).IsKindOf(k))
		case OpRAISEIF:
			switch R[a].ref.(type) {
			case nil:
				if !R[a].IsNil() {
					raised = vm.newErrorf(vm.TypeError, "exception object expected")
				}
			case *RException, *RBreak:
				raised = R[a]
			default:
				raised = vm.newErrorf(vm.TypeError, "exception object expected")
			}

		// Calls
		case OpSSEND, OpSSENDB:
			R[a] = R[0]
			raised, fatal = c.send(ci, a, ci.irep.sym(b), cc, op == OpSSENDB)
		case OpSEND, OpSENDB:
			raised, fatal = c.send(ci, a, ci.irep.sym(b), cc, op == OpSENDB)
		case OpSUPER:
			raised, fatal = c.superSend(ci, a, b)

		// Parameters
		case OpENTER:
			raised = c.enter(ci)
		case OpKEY_P:
			_, ok := c.kdict(ci).Get(SymbolValue(ci.irep.sym(b)))
			R[a] = BoolValue(ok)
		case OpKARG:
			sym := ci.irep.sym(b)
			kd := c.kdict(ci)
			v, ok := kd.Delete(SymbolValue(sym))
			if !ok {
				raised = vm.newErrorf(vm.ArgumentError, "missing keyword: :%s", vm.Symbols.Name(sym))
				break
			}
			R[a] = v
		case OpKEYEND:
			if kd := c.kdict(ci); kd != nil && kd.Len() > 0 {
				raised = vm.newErrorf(vm.ArgumentError, "unknown keyword: %s", vm.Inspect(kd.Keys()[0]))
			}

		// Returns
		case OpRETURN:
			if v, done := c.returnFrom(R[a]); done {
				return v, nil
			}
		case OpRETURN_BLK:
			if ci.proc.IsStrict() || ci.proc.upper == nil {
				if v, done := c.returnFrom(R[a]); done {
					return v, nil
				}
				break
			}
			target, exc := c.returnTarget(ci)
			if target == nil {
				raised = exc
				break
			}
			raised = vm.newBreak(breakReturn, target, R[a])
		case OpBREAK:
			if ci.proc.IsStrict() {
				if v, done := c.returnFrom(R[a]); done {
					return v, nil
				}
				break
			}
			target, exc := c.breakTarget(ci)
			if target == nil {
				raised = exc
				break
			}
			raised = vm.newBreak(breakBreak, target, R[a])

		// Arithmetic
		case OpADD, OpSUB, OpMUL, OpDIV, OpEQ, OpLT, OpLE, OpGT, OpGE:
			v, ok, exc := vm.arith(op, R[a], R[a+1])
			switch {
			case exc.IsObject():
				raised = exc
			case ok:
				R[a] = v
			default:
				raised, fatal = c.send(ci, a, vm.opSyms[op], 1, false)
			}
		case OpADDI, OpSUBI:
			bop := OpADD
			if op == OpSUBI {
				bop = OpSUB
			}
			v, ok, exc := vm.arith(bop, R[a], IntValue(int64(b)))
			switch {
			case exc.IsObject():
				raised = exc
			case ok:
				R[a] = v
			default:
				R[a+1] = IntValue(int64(b))
				raised, fatal = c.send(ci, a, vm.opSyms[bop], 1, false)
			}

		// Literals
		case OpARRAY:
			R[a] = ObjectValue(vm.NewArray(R[a : a+b]...))
		case OpARRAY2:
			R[a] = ObjectValue(vm.NewArray(R[b : b+cc]...))
		case OpAREF:
			v := R[b]
			if ary, ok := v.ref.(*RArray); ok {
				if cc < len(ary.Elems) {
					R[a] = ary.Elems[cc]
				} else {
					R[a] = Nil
				}
			} else if cc == 0 {
				R[a] = v
			} else {
				R[a] = Nil
			}
		case OpARYPUSH:
			ary, ok := R[a].ref.(*RArray)
			if !ok {
				raised = vm.newErrorf(vm.TypeError, "ARYPUSH on %s", vm.RealClassOf(R[a]).Name())
				break
			}
			if ary.Frozen() {
				raised = vm.frozenError(R[a])
				break
			}
			ary.Elems = append(ary.Elems, R[a+1:a+1+b]...)
		case OpHASH:
			h := vm.NewHash()
			for i := 0; i < b; i++ {
				h.Set(R[a+2*i], R[a+2*i+1])
			}
			R[a] = ObjectValue(h)
		case OpSTRING:
			R[a] = vm.poolValue(ci.irep, b)
		case OpLAMBDA, OpBLOCK:
			env := c.ensureEnv(ci)
			flags := Flags(0)
			if op == OpLAMBDA {
				flags = FlagProcStrict
			}
			p := vm.newProc(ci.irep.child(b), ci.proc, env, flags)
			if p.target == nil {
				p.target = c.targetClass(ci)
			}
			R[a] = ObjectValue(p)
		case OpMETHOD:
			p := vm.newProc(ci.irep.child(b), nil, nil, FlagProcStrict)
			p.target = c.targetClass(ci)
			R[a] = ObjectValue(p)
		case OpRANGE_INC, OpRANGE_EXC:
			R[a] = ObjectValue(vm.NewRange(R[a], R[a+1], op == OpRANGE_EXC))

		// Classes
		case OpOCLASS:
			R[a] = ObjectValue(vm.ObjectClass)
		case OpCLASS:
			raised = c.defineClass(ci, a, ci.irep.sym(b))
		case OpMODULE:
			raised = c.defineModule(ci, a, ci.irep.sym(b))
		case OpEXEC:
			fatal = c.execBody(ci, a, ci.irep.child(b))
		case OpDEF:
			k, ok := R[a].ref.(*RClass)
			p, isProc := R[a+1].ref.(*RProc)
			if !ok || !isProc {
				raised = vm.newErrorf(vm.TypeError, "DEF needs a class and a proc")
				break
			}
			sym := ci.irep.sym(b)
			k.defineRaw(sym, ProcMethod(p))
			R[a] = SymbolValue(sym)
		case OpALIAS:
			newMid, oldMid := ci.irep.sym(a), ci.irep.sym(b)
			cls := c.targetClass(ci)
			if !vm.AliasMethod(cls, newMid, oldMid) {
				raised = vm.newErrorf(vm.NameError, "undefined method '%s' for class '%s'", vm.Symbols.Name(oldMid), cls.Name())
			}
		case OpUNDEF:
			mid := ci.irep.sym(a)
			cls := c.targetClass(ci)
			if _, _, ok := vm.Resolve(cls, mid); !ok {
				raised = vm.newErrorf(vm.NameError, "undefined method '%s' for class '%s'", vm.Symbols.Name(mid), cls.Name())
				break
			}
			cls.defineRaw(mid, Method{})
		case OpSCLASS:
			sc := vm.singletonClassOf(R[a])
			if sc == nil {
				raised = vm.newErrorf(vm.TypeError, "can't define singleton")
				break
			}
			R[a] = ObjectValue(sc)
		case OpTCLASS:
			R[a] = ObjectValue(c.targetClass(ci))

		case OpSTOP:
			if v, done := c.returnFrom(Nil); done {
				return v, nil
			}
		}

		if fatal != nil {
			return Nil, c.fail(fatal)
		}
		if raised.IsObject() {
			if v, err, done := c.unwind(raised); done {
				return v, err
			}
		}
	}
}

// checkInterrupt enforces the step limit and host cancellation.
func (c *Context) checkInterrupt() error {
	vm := c.vm
	if vm.opts.StepLimit > 0 && vm.steps > vm.opts.StepLimit {
		return ErrStepLimit
	}
	if err := c.goctx.Err(); err != nil {
		return &InterruptError{Steps: vm.steps, Err: err}
	}
	return nil
}

func (c *Context) frameName(ci *CallInfo) string {
	if name := c.vm.Symbols.Name(ci.mid); name != "" {
		return name
	}
	return "<main>"
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func ivarGet(self Value, sym Symbol) Value {
	if !self.IsObject() {
		return Nil
	}
	return self.ref.basic().IvarGet(sym)
}

func (c *Context) ivarSet(self Value, sym Symbol, v Value) Value {
	if !self.IsObject() || self.ref.basic().Frozen() {
		return c.vm.frozenError(self)
	}
	self.ref.basic().IvarSet(sym, v)
	return Nil
}

func (vm *VM) frozenError(v Value) Value {
	return vm.newErrorf(vm.FrozenError, "can't modify frozen %s: %s", vm.RealClassOf(v).Name(), vm.Inspect(v))
}

// constLookup resolves a constant for the running code: the target class
// and its ancestors, then the lexically enclosing classes, then Object.
func (c *Context) constLookup(ci *CallInfo, sym Symbol) (Value, bool) {
	vm := c.vm
	start := c.targetClass(ci)
	for k := start; k != nil; {
		if v, ok := vm.ConstGet(k, sym); ok {
			return v, true
		}
		outer, ok := k.IvarGet(vm.symOuter).ref.(*RClass)
		if !ok || outer == k {
			break
		}
		k = outer
	}
	return vm.ConstGet(vm.ObjectClass, sym)
}

// ---------------------------------------------------------------------------
// Class bodies
// ---------------------------------------------------------------------------

func (c *Context) defineClass(ci *CallInfo, a int, name Symbol) Value {
	vm := c.vm
	R := c.stack[ci.base:]
	outer := c.targetClass(ci)
	if !R[a].IsNil() {
		k, ok := R[a].ref.(*RClass)
		if !ok {
			return vm.newErrorf(vm.TypeError, "%s is not a class/module", vm.Inspect(R[a]))
		}
		outer = k
	}
	var super *RClass
	if !R[a+1].IsNil() {
		k, ok := R[a+1].ref.(*RClass)
		if !ok || k.tt != ObjClass {
			return vm.newErrorf(vm.TypeError, "superclass must be a Class (%s given)", vm.Inspect(R[a+1]))
		}
		super = k
	}
	cls, err := vm.DefineClass(vm.Symbols.Name(name), super, outer)
	if err != nil {
		return vm.newErrorf(vm.TypeError, "%s", err)
	}
	R[a] = ObjectValue(cls)
	return Nil
}

func (c *Context) defineModule(ci *CallInfo, a int, name Symbol) Value {
	vm := c.vm
	R := c.stack[ci.base:]
	outer := c.targetClass(ci)
	if !R[a].IsNil() {
		k, ok := R[a].ref.(*RClass)
		if !ok {
			return vm.newErrorf(vm.TypeError, "%s is not a class/module", vm.Inspect(R[a]))
		}
		outer = k
	}
	mod, err := vm.DefineModule(vm.Symbols.Name(name), outer)
	if err != nil {
		return vm.newErrorf(vm.TypeError, "%s", err)
	}
	R[a] = ObjectValue(mod)
	return Nil
}

// execBody pushes a frame running a class body with self and the target
// class set to R[a].
func (c *Context) execBody(ci *CallInfo, a int, body *Irep) error {
	recv := c.stack[ci.base+a]
	p := c.vm.newProc(body, nil, nil, 0)
	if k, ok := recv.ref.(*RClass); ok {
		p.target = k
	} else {
		p.target = c.targetClass(ci)
	}
	base := ci.base + a
	c.growStack(base + 2)
	c.stack[base+1] = Nil
	_, err := c.pushFrame(p, base, 0, 0, 0, nil, a, Nil, CallVM)
	return err
}
