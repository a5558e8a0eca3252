package vm

import "fmt"

// ---------------------------------------------------------------------------
// Fibers
// ---------------------------------------------------------------------------

// RFiber is a coroutine with its own execution context. Its body runs on a
// dedicated goroutine; control moves between the resumer and the fiber by
// message passing, so exactly one side runs at any time.
type RFiber struct {
	RBasic
	ctx     *Context
	proc    *RProc
	resume  chan fiberMsg
	yield   chan fiberMsg
	started bool
}

// fiberMsg is one transfer of control. done marks the end of the body,
// kill asks a suspended body to unwind.
type fiberMsg struct {
	vals []Value
	err  error
	done bool
	kill bool
}

// NewFiber creates a fiber that will run p when first resumed.
func (vm *VM) NewFiber(p *RProc) *RFiber {
	f := &RFiber{
		RBasic: RBasic{class: vm.FiberClass, tt: ObjFiber},
		proc:   p,
		resume: make(chan fiberMsg),
		yield:  make(chan fiberMsg),
	}
	f.ctx = vm.newContext()
	f.ctx.fiber = f
	return f
}

// Context returns the fiber's execution context.
func (f *RFiber) Context() *Context { return f.ctx }

// Alive reports whether the fiber can still be resumed.
func (f *RFiber) Alive() bool { return f.ctx.status != ContextTerminated }

func (f *RFiber) run(args []Value) {
	msg := fiberMsg{done: true}
	defer func() {
		if r := recover(); r != nil {
			msg.err = f.ctx.fail(fmt.Errorf("vm: fiber panic: %v", r))
		}
		f.yield <- msg
	}()
	v, err := f.ctx.callProc(f.proc, args, nil, Nil, CallResumed)
	msg.vals, msg.err = []Value{v}, err
}

// kill unwinds a suspended fiber and waits for its goroutine to finish.
func (f *RFiber) kill() {
	if !f.started || f.ctx.status != ContextSuspended {
		return
	}
	f.resume <- fiberMsg{kill: true}
	<-f.yield
	f.ctx.status = ContextTerminated
}

// resumeFiber transfers control from c into f until f yields or finishes.
func (c *Context) resumeFiber(f *RFiber, args []Value) Value {
	vm := c.vm
	fc := f.ctx
	switch fc.status {
	case ContextTerminated:
		c.Raisef(vm.FiberError, "dead fiber called")
	case ContextRunning:
		c.Raisef(vm.FiberError, "double resume")
	}

	fc.prev = c
	fc.goctx = c.goctx
	fc.status = ContextRunning
	vm.current = fc
	delete(vm.fibers, f)
	log.Debugf("fiber %s resumed from %s", fc.id, c.id)

	if !f.started {
		f.started = true
		go f.run(args)
	} else {
		f.resume <- fiberMsg{vals: args}
	}
	msg := <-f.yield

	vm.current = c
	fc.prev = nil
	if msg.done {
		fc.status = ContextTerminated
		log.Debugf("fiber %s finished", fc.id)
		return c.must(vm.packValues(msg.vals), msg.err)
	}
	fc.status = ContextSuspended
	vm.fibers[f] = struct{}{}
	log.Debugf("fiber %s suspended", fc.id)
	return vm.packValues(msg.vals)
}

// yieldFiber suspends the fiber running c and hands vals to its resumer.
func (c *Context) yieldFiber(vals []Value) Value {
	f := c.fiber
	if f == nil {
		c.Raisef(c.vm.FiberError, "can't yield from root fiber")
	}
	f.yield <- fiberMsg{vals: vals}
	msg := <-f.resume
	if msg.kill {
		panic(fatalSignal{err: ErrFiberKilled})
	}
	return c.vm.packValues(msg.vals)
}

// packValues turns transferred values into one: nil, the value, or an Array.
func (vm *VM) packValues(vals []Value) Value {
	switch len(vals) {
	case 0:
		return Nil
	case 1:
		return vals[0]
	}
	return ObjectValue(vm.NewArray(vals...))
}

func (vm *VM) registerFiberPrimitives() {
	fc := vm.FiberClass

	// Fiber.new { |*args| ... }
	vm.DefineClassMethod(fc, "new", func(c *Context, self Value) Value {
		p := c.blockProc("tried to create Fiber object without a block")
		f := vm.NewFiber(p)
		if k, ok := self.ref.(*RClass); ok {
			f.class = k
		}
		return ObjectValue(f)
	})

	// Fiber.yield(*vals)
	vm.DefineClassMethod(fc, "yield", func(c *Context, self Value) Value {
		return c.yieldFiber(c.Args())
	})

	vm.DefineMethod(fc, "resume", func(c *Context, self Value) Value {
		return c.resumeFiber(self.ref.(*RFiber), c.Args())
	})
	vm.DefineMethod(fc, "alive?", func(c *Context, self Value) Value {
		return BoolValue(self.ref.(*RFiber).Alive())
	})
}
