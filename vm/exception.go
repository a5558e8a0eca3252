package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Exception classes
// ---------------------------------------------------------------------------

func (vm *VM) bootstrapExceptionClasses() {
	def := func(name string, super *RClass) *RClass {
		c, err := vm.DefineClass(name, super, nil)
		if err != nil {
			panic(err)
		}
		return c
	}
	vm.ExceptionClass = def("Exception", vm.ObjectClass)
	vm.ScriptError = def("ScriptError", vm.ExceptionClass)
	vm.StandardError = def("StandardError", vm.ExceptionClass)
	vm.ArgumentError = def("ArgumentError", vm.StandardError)
	vm.TypeError = def("TypeError", vm.StandardError)
	vm.NameError = def("NameError", vm.StandardError)
	vm.NoMethodError = def("NoMethodError", vm.NameError)
	vm.RuntimeError = def("RuntimeError", vm.StandardError)
	vm.FrozenError = def("FrozenError", vm.RuntimeError)
	vm.LocalJumpError = def("LocalJumpError", vm.StandardError)
	vm.ZeroDivisionError = def("ZeroDivisionError", vm.StandardError)
	vm.IndexError = def("IndexError", vm.StandardError)
	vm.KeyError = def("KeyError", vm.IndexError)
	vm.RangeError = def("RangeError", vm.StandardError)
	vm.FiberError = def("FiberError", vm.StandardError)
}

func (vm *VM) registerExceptionPrimitives() {
	exc := vm.ExceptionClass

	vm.DefineMethod(exc, "initialize", func(c *Context, self Value) Value {
		c.CheckArgs(0, 1)
		e := self.ref.(*RException)
		e.Message = c.Arg(0)
		return Nil
	})

	vm.DefineMethod(exc, "message", func(c *Context, self Value) Value {
		return vm.NewString(vm.exceptionMessage(self))
	})
	vm.AliasMethod(exc, vm.Symbols.Intern("to_s"), vm.Symbols.Intern("message"))

	vm.DefineMethod(exc, "inspect", func(c *Context, self Value) Value {
		name := vm.RealClassOf(self).Name()
		msg := vm.exceptionMessage(self)
		if msg == "" || msg == name {
			return vm.NewString(name)
		}
		return vm.NewString(msg + " (" + name + ")")
	})

	vm.DefineMethod(exc, "backtrace", func(c *Context, self Value) Value {
		e := self.ref.(*RException)
		if e.Backtrace == nil {
			return Nil
		}
		lines := make([]Value, len(e.Backtrace))
		for i, l := range e.Backtrace {
			lines[i] = vm.NewString(l)
		}
		return ObjectValue(vm.NewArray(lines...))
	})

	vm.DefineClassMethod(exc, "exception", func(c *Context, self Value) Value {
		return c.Funcall(self, "new", c.Args()...)
	})
}

// exceptionMessage returns the message of an exception, falling back to
// the class name.
func (vm *VM) exceptionMessage(v Value) string {
	e, ok := v.ref.(*RException)
	if !ok {
		return vm.Inspect(v)
	}
	switch m := e.Message.ref.(type) {
	case *RString:
		return m.Str
	case nil:
		if e.Message.IsNil() {
			return vm.RealClassOf(v).Name()
		}
	}
	return vm.Inspect(e.Message)
}

// ---------------------------------------------------------------------------
// Creating exceptions
// ---------------------------------------------------------------------------

// NewException creates an exception of class cls with message msg.
func (vm *VM) NewException(cls *RClass, msg string) *RException {
	return &RException{
		RBasic:  RBasic{class: cls, tt: ObjException},
		Message: vm.NewString(msg),
	}
}

func (vm *VM) newErrorf(cls *RClass, format string, args ...any) Value {
	return ObjectValue(vm.NewException(cls, fmt.Sprintf(format, args...)))
}

// Raise raises exc (an exception instance) from a native handler. It does
// not return.
func (c *Context) Raise(exc Value) {
	panic(raiseSignal{exc: exc})
}

// Raisef raises a new exception of class cls from a native handler.
func (c *Context) Raisef(cls *RClass, format string, args ...any) {
	c.Raise(c.vm.newErrorf(cls, format, args...))
}

// must converts the outcome of a nested execution into a value for a
// native handler, re-raising script exceptions at the handler's call site.
func (c *Context) must(v Value, err error) Value {
	if err == nil {
		return v
	}
	var t *thrown
	if errors.As(err, &t) {
		panic(raiseSignal{exc: t.exc})
	}
	panic(fatalSignal{err: err})
}

// ---------------------------------------------------------------------------
// Break and non-local return
// ---------------------------------------------------------------------------

type breakKind uint8

const (
	breakBreak breakKind = iota
	breakReturn
)

// RBreak carries a break or a non-local return through the catch-table
// search. Only ensure handlers match it on the way to its target frame.
type RBreak struct {
	RBasic
	kind   breakKind
	target *CallInfo
	val    Value
}

func (vm *VM) newBreak(kind breakKind, target *CallInfo, val Value) Value {
	return ObjectValue(&RBreak{RBasic: RBasic{tt: ObjBreak}, kind: kind, target: target, val: val})
}

// liveEnvFrame returns the frame owning env when it is still on this
// context's frame stack.
func (c *Context) liveEnvFrame(env *REnv) *CallInfo {
	if env == nil || !env.Shared() || env.ctx != c {
		return nil
	}
	return env.ci
}

// breakTarget resolves the frame a break in ci unwinds to: the frame that
// created the running block.
func (c *Context) breakTarget(ci *CallInfo) (*CallInfo, Value) {
	p := ci.proc
	if p.IsOrphan() {
		return nil, c.vm.newErrorf(c.vm.LocalJumpError, "break from proc-closure")
	}
	target := c.liveEnvFrame(p.env)
	if target == nil || target == ci {
		return nil, c.vm.newErrorf(c.vm.LocalJumpError, "break from proc-closure")
	}
	return target, Nil
}

// returnTarget resolves the frame a return in block ci returns from: the
// home method, or the innermost enclosing lambda.
func (c *Context) returnTarget(ci *CallInfo) (*CallInfo, Value) {
	p := ci.proc
	env, up := p.env, p.upper
	for up != nil && !up.IsStrict() && up.upper != nil {
		env, up = up.env, up.upper
	}
	target := c.liveEnvFrame(env)
	if target == nil {
		return nil, c.vm.newErrorf(c.vm.LocalJumpError, "unexpected return")
	}
	return target, Nil
}

// ---------------------------------------------------------------------------
// Catch table search
// ---------------------------------------------------------------------------

// findHandler returns the first handler of ci covering the raise site that
// matches exc, or nil.
func (c *Context) findHandler(ci *CallInfo, exc Value) *CatchHandler {
	ir := ci.irep
	if ir == nil {
		return nil
	}
	pc := ci.pc - 1
	_, isBreak := exc.ref.(*RBreak)
	for i := range ir.Handlers {
		h := &ir.Handlers[i]
		if !h.covers(pc) {
			continue
		}
		switch h.Kind {
		case CatchEnsure:
			return c.checkTarget(ir, h)
		case CatchRescue:
			if !isBreak && c.guardMatches(ci, h, exc) {
				return c.checkTarget(ir, h)
			}
		}
	}
	return nil
}

func (c *Context) findBreakHandler(ci *CallInfo) *CatchHandler {
	pc := ci.pc - 1
	for i := range ci.irep.Handlers {
		h := &ci.irep.Handlers[i]
		if h.Kind == CatchBreak && h.covers(pc) {
			return c.checkTarget(ci.irep, h)
		}
	}
	return nil
}

func (c *Context) checkTarget(ir *Irep, h *CatchHandler) *CatchHandler {
	if h.Target < 0 || h.Target >= len(ir.Iseq) {
		panic(fmt.Sprintf("vm: corrupt catch table: target %d outside %d-byte iseq", h.Target, len(ir.Iseq)))
	}
	return h
}

func (c *Context) guardMatches(ci *CallInfo, h *CatchHandler, exc Value) bool {
	cls := c.vm.ClassOf(exc)
	if len(h.Guards) == 0 {
		return cls.IsKindOf(c.vm.StandardError)
	}
	for _, g := range h.Guards {
		v, ok := c.constLookup(ci, g)
		if k, isClass := v.ref.(*RClass); ok && isClass && cls.IsKindOf(k) {
			return true
		}
	}
	return false
}

// unwind transfers control for an exception (or break) raised at the
// current frame's pc. Frames without a matching handler are popped. It
// reports done when the boundary frame of the running loop was left, with
// the value to return or the error to propagate.
func (c *Context) unwind(exc Value) (Value, error, bool) {
	if e, ok := exc.ref.(*RException); ok && e.Backtrace == nil {
		e.Backtrace = c.backtrace()
	}
	childAcc := -1
	for {
		ci := c.ci()
		if brk, ok := exc.ref.(*RBreak); ok && brk.target == ci {
			if brk.kind == breakBreak {
				if childAcc >= 0 {
					c.stack[ci.base+childAcc] = brk.val
				}
				if h := c.findBreakHandler(ci); h != nil {
					ci.pc = h.Target
				}
				c.exc = Nil
				return Nil, nil, false
			}
			if h := c.findHandler(ci, exc); h != nil {
				ci.pc = h.Target
				c.exc = exc
				return Nil, nil, false
			}
			c.exc = Nil
			v, done := c.returnFrom(brk.val)
			return v, nil, done
		}
		if h := c.findHandler(ci, exc); h != nil {
			ci.pc = h.Target
			c.exc = exc
			return Nil, nil, false
		}
		boundary := ci.isBoundary()
		childAcc = ci.acc
		c.popFrame()
		if boundary {
			c.exc = Nil
			return Nil, &thrown{exc: exc}, true
		}
	}
}

// returnFrom pops the current frame and hands v to the caller. done is
// true when the popped frame was the loop's boundary.
func (c *Context) returnFrom(v Value) (Value, bool) {
	ci := c.ci()
	boundary := ci.isBoundary()
	acc := ci.acc
	c.popFrame()
	if boundary {
		return v, true
	}
	c.stack[c.ci().base+acc] = v
	return Nil, false
}

// backtrace renders the frame stack, innermost first.
func (c *Context) backtrace() []string {
	out := make([]string, 0, len(c.frames))
	for i := len(c.frames) - 1; i >= 0; i-- {
		ci := c.frames[i]
		name := c.vm.Symbols.Name(ci.mid)
		switch {
		case name == "" && ci.proc != nil && ci.proc.upper != nil:
			name = "block"
		case name == "":
			name = "<main>"
		}
		if ci.irep == nil {
			out = append(out, fmt.Sprintf("(native):in '%s'", name))
			continue
		}
		file := ci.irep.Filename
		if file == "" {
			file = "(unknown)"
		}
		out = append(out, fmt.Sprintf("%s:%d:in '%s'", file, ci.irep.LineAt(ci.pc-1), name))
	}
	return out
}

// hostError converts an escaped exception into the error handed to Go
// callers.
func (vm *VM) hostError(err error) error {
	var t *thrown
	if !errors.As(err, &t) {
		return err
	}
	exc := t.exc
	if _, ok := exc.ref.(*RBreak); ok {
		exc = vm.newErrorf(vm.LocalJumpError, "break from proc-closure")
	}
	re := &RaiseError{
		Class:   vm.RealClassOf(exc).Name(),
		Message: vm.exceptionMessage(exc),
		Value:   exc,
	}
	if e, ok := exc.ref.(*RException); ok {
		re.Backtrace = e.Backtrace
	}
	return re
}
