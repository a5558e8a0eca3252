package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Sends from the dispatch loop
// ---------------------------------------------------------------------------

// send performs a call instruction: receiver in R[a], arguments after it,
// block slot after the arguments. A compiled callee gets a frame and the
// loop continues in it; a native callee runs to completion here. The
// results are the exception to raise, if any, and a fatal error.
func (c *Context) send(ci *CallInfo, a int, mid Symbol, argc int, withBlock bool) (Value, error) {
	n, nk := callArgs(argc)
	base := ci.base + a
	blkSlot := base + 1 + argSlots(n) + kwSlots(nk)
	c.growStack(blkSlot + 1)
	if !withBlock {
		c.stack[blkSlot] = Nil
	} else if exc := c.checkBlock(c.stack[blkSlot]); exc.IsObject() {
		return exc, nil
	}
	recv := c.stack[base]
	return c.dispatch(ci, a, recv, c.vm.ClassOf(recv), mid, n, nk, false)
}

// superSend performs SUPER: the method of the running frame is looked up
// again starting above the chain node it was found on.
func (c *Context) superSend(ci *CallInfo, a, argc int) (Value, error) {
	vm := c.vm
	if ci.owner == nil || ci.mid == 0 {
		return vm.newErrorf(vm.RuntimeError, "super called outside of method"), nil
	}
	n, nk := callArgs(argc)
	base := ci.base + a
	blkSlot := base + 1 + argSlots(n) + kwSlots(nk)
	c.growStack(blkSlot + 1)
	if exc := c.checkBlock(c.stack[blkSlot]); exc.IsObject() {
		return exc, nil
	}
	recv := c.stack[ci.base]
	c.stack[base] = recv
	return c.dispatch(ci, a, recv, ci.owner.super, ci.mid, n, nk, true)
}

func (c *Context) checkBlock(blk Value) Value {
	if blk.IsNil() {
		return Nil
	}
	if _, ok := blk.ref.(*RProc); !ok {
		return c.vm.newErrorf(c.vm.TypeError, "wrong argument type %s (expected Proc)", c.vm.RealClassOf(blk).Name())
	}
	return Nil
}

// dispatch resolves mid starting at cls and invokes the method, falling
// back to method_missing.
func (c *Context) dispatch(ci *CallInfo, a int, recv Value, cls *RClass, mid Symbol, n, nk int, isSuper bool) (Value, error) {
	vm := c.vm
	var m Method
	var owner *RClass
	ok := false
	if cls != nil {
		m, owner, ok = vm.Resolve(cls, mid)
	}
	if !ok {
		mm, mmOwner, found := vm.Resolve(vm.ClassOf(recv), vm.symMethodMissing)
		if !found || mid == vm.symMethodMissing || mm.proc == vm.defaultMethodMissing {
			return vm.noMethodError(recv, mid, isSuper), nil
		}
		base := ci.base + a
		args, kw, blk := c.rawArgs(base, n, nk)
		args = append([]Value{SymbolValue(mid)}, args...)
		n, nk = c.placeArgs(base, recv, args, kw, blk)
		m, owner, mid = mm, mmOwner, vm.symMethodMissing
	}
	return c.invoke(ci, a, recv, m, owner, mid, n, nk)
}

// invoke calls m with the arguments already in place at R[a].
func (c *Context) invoke(ci *CallInfo, a int, recv Value, m Method, owner *RClass, mid Symbol, n, nk int) (Value, error) {
	base := ci.base + a
	blk := c.stack[base+1+argSlots(n)+kwSlots(nk)]

	// Proc#call on a compiled proc runs the block in this loop.
	if m.proc != nil && m.proc == c.vm.procCall {
		if p, ok := recv.ref.(*RProc); ok {
			return c.invokeProc(p, base, n, nk, a, blk)
		}
	}

	if fn := m.native(); fn != nil {
		return c.invokeNative(fn, base, recv, n, nk, mid, owner, a, blk)
	}
	_, err := c.pushFrame(m.proc, base, n, nk, mid, owner, a, blk, CallVM)
	return Nil, err
}

// invokeProc calls p in place of a Proc#call send.
func (c *Context) invokeProc(p *RProc, base, n, nk, acc int, blk Value) (Value, error) {
	self := p.self()
	c.stack[base] = self
	var mid Symbol
	var owner *RClass
	if p.env != nil {
		mid, owner = p.env.mid, p.env.owner
	}
	if p.fn != nil {
		return c.invokeNative(p.fn, base, self, n, nk, mid, owner, acc, blk)
	}
	_, err := c.pushFrame(p, base, n, nk, mid, owner, acc, blk, CallVM)
	return Nil, err
}

// invokeNative runs a native handler in its own frame and stores the
// result in the caller's R[acc]. On a raise the handler's frame is left on
// the stack so the catch-table search starts from it.
func (c *Context) invokeNative(fn NativeFunc, base int, recv Value, n, nk int, mid Symbol, owner *RClass, acc int, blk Value) (Value, error) {
	depth := len(c.frames)
	if _, err := c.pushFrame(nil, base, n, nk, mid, owner, acc, blk, CallVM); err != nil {
		return Nil, err
	}
	ret, sig := c.callNative(fn, recv)
	switch s := sig.(type) {
	case raiseSignal:
		c.unwindTo(depth + 1)
		return s.exc, nil
	case fatalSignal:
		return Nil, s.err
	}
	c.unwindTo(depth)
	c.stack[c.ci().base+acc] = ret
	return Nil, nil
}

// callNative calls fn, recovering raise and fatal signals.
func (c *Context) callNative(fn NativeFunc, self Value) (ret Value, sig any) {
	defer func() {
		if r := recover(); r != nil {
			switch s := r.(type) {
			case raiseSignal, fatalSignal:
				sig = s
			default:
				panic(r)
			}
		}
	}()
	return fn(c, self), nil
}

func (vm *VM) noMethodError(recv Value, mid Symbol, isSuper bool) Value {
	name := vm.Symbols.Name(mid)
	var what string
	switch {
	case recv.IsNil():
		what = "nil"
	case recv.tt == TypeTrue:
		what = "true"
	case recv.tt == TypeFalse:
		what = "false"
	default:
		if k, ok := recv.ref.(*RClass); ok {
			what = fmt.Sprintf("class %s", k.Name())
			if k.IsModule() {
				what = fmt.Sprintf("module %s", k.Name())
			}
		} else {
			what = "an instance of " + vm.RealClassOf(recv).Name()
		}
	}
	if isSuper {
		return vm.newErrorf(vm.NoMethodError, "super: no superclass method '%s' for %s", name, what)
	}
	return vm.newErrorf(vm.NoMethodError, "undefined method '%s' for %s", name, what)
}

// ---------------------------------------------------------------------------
// Calls from Go
// ---------------------------------------------------------------------------

// callMethod runs m on recv to completion from Go: the arguments are laid
// out above the current frame and a boundary frame is pushed. Script
// exceptions come back as *thrown.
func (c *Context) callMethod(recv Value, m Method, owner *RClass, mid Symbol, args []Value, kw *RHash, blk Value, kind CallKind) (Value, error) {
	depth := len(c.frames)
	base := c.stackTop()
	n, nk := c.placeArgs(base, recv, args, kw, blk)

	if fn := m.native(); fn != nil {
		if _, err := c.pushFrame(nil, base, n, nk, mid, owner, -1, blk, kind); err != nil {
			return Nil, c.fail(err)
		}
		ret, sig := c.callNative(fn, recv)
		switch s := sig.(type) {
		case raiseSignal:
			if e, ok := s.exc.ref.(*RException); ok && e.Backtrace == nil {
				e.Backtrace = c.backtrace()
			}
			c.unwindTo(depth)
			return Nil, &thrown{exc: s.exc}
		case fatalSignal:
			c.unwindTo(depth)
			return Nil, c.fail(s.err)
		}
		c.unwindTo(depth)
		return ret, nil
	}

	if _, err := c.pushFrame(m.proc, base, n, nk, mid, owner, -1, blk, kind); err != nil {
		return Nil, c.fail(err)
	}
	return c.execute()
}

// callProc runs p with the given arguments. Blocks run with the self,
// method name and owner captured in their environment.
func (c *Context) callProc(p *RProc, args []Value, kw *RHash, blk Value, kind CallKind) (Value, error) {
	var mid Symbol
	var owner *RClass
	if p.env != nil {
		mid, owner = p.env.mid, p.env.owner
	}
	return c.callMethod(p.self(), ProcMethod(p), owner, mid, args, kw, blk, kind)
}

// funcall sends mid to recv from Go, honouring method_missing.
func (c *Context) funcall(recv Value, mid Symbol, args []Value, kw *RHash, blk Value) (Value, error) {
	vm := c.vm
	cls := vm.ClassOf(recv)
	m, owner, ok := vm.Resolve(cls, mid)
	if !ok {
		mm, mmOwner, found := vm.Resolve(cls, vm.symMethodMissing)
		if !found || mid == vm.symMethodMissing || mm.proc == vm.defaultMethodMissing {
			return Nil, &thrown{exc: vm.noMethodError(recv, mid, false)}
		}
		args = append([]Value{SymbolValue(mid)}, args...)
		m, owner, mid = mm, mmOwner, vm.symMethodMissing
	}
	if m.proc != nil && m.proc == vm.procCall {
		if p, isProc := recv.ref.(*RProc); isProc {
			return c.callProc(p, args, kw, blk, CallHost)
		}
	}
	return c.callMethod(recv, m, owner, mid, args, kw, blk, CallHost)
}

// ---------------------------------------------------------------------------
// Re-entry from native handlers
// ---------------------------------------------------------------------------

// Funcall calls a method from a native handler. Exceptions propagate to
// the handler's caller as if raised by the handler.
func (c *Context) Funcall(recv Value, name string, args ...Value) Value {
	return c.must(c.funcall(recv, c.vm.Symbols.Intern(name), args, nil, Nil))
}

// FuncallWithBlock is Funcall passing a block and keyword arguments.
func (c *Context) FuncallWithBlock(recv Value, name string, args []Value, kw *RHash, blk Value) Value {
	return c.must(c.funcall(recv, c.vm.Symbols.Intern(name), args, kw, blk))
}

// Yield calls the block of the current native call. Without a block it
// raises LocalJumpError.
func (c *Context) Yield(args ...Value) Value {
	blk := c.BlockArg()
	p, ok := blk.ref.(*RProc)
	if !ok {
		c.Raisef(c.vm.LocalJumpError, "no block given (yield)")
	}
	return c.must(c.callProc(p, args, nil, Nil, CallHost))
}

// CallProc calls a proc value from a native handler.
func (c *Context) CallProc(proc Value, args ...Value) Value {
	p, ok := proc.ref.(*RProc)
	if !ok {
		c.Raisef(c.vm.TypeError, "wrong argument type %s (expected Proc)", c.vm.RealClassOf(proc).Name())
	}
	return c.must(c.callProc(p, args, nil, Nil, CallHost))
}
