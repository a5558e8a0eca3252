package vm

import (
	"context"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// CallInfo: one activation record
// ---------------------------------------------------------------------------

// CallKind is the calling convention of a frame.
type CallKind uint8

const (
	// CallVM frames were pushed by a call instruction; returning resumes
	// the caller in the same dispatch loop.
	CallVM CallKind = iota
	// CallHost frames were pushed from Go (the host API, or a native
	// handler re-entering the engine). Returning from one ends the loop
	// that is running it.
	CallHost
	// CallResumed is the root frame of a fiber.
	CallResumed
)

// CallInfo is one frame on a context's frame stack. Its registers are
// stack[base : base+nregs]; R[0] is self.
type CallInfo struct {
	base  int
	nregs int
	proc  *RProc // nil for native handlers
	irep  *Irep
	pc    int
	n, nk uint8 // argument counts as passed; 15 means packed
	kind  CallKind
	mid   Symbol
	owner *RClass // chain node the method was found on, for super
	acc   int     // caller register receiving the result
	env   *REnv   // created on first closure capture
	blk   Value
}

// Method returns the name of the running method, 0 at top level.
func (ci *CallInfo) Method() Symbol { return ci.mid }

// PC returns the offset of the next instruction.
func (ci *CallInfo) PC() int { return ci.pc }

func (ci *CallInfo) isBoundary() bool { return ci.kind != CallVM }

// ---------------------------------------------------------------------------
// Context: one thread of control
// ---------------------------------------------------------------------------

// ContextStatus is the lifecycle state of a Context.
type ContextStatus uint8

const (
	ContextCreated ContextStatus = iota
	ContextRunning
	ContextSuspended
	ContextTerminated
)

var contextStatusNames = [...]string{
	ContextCreated:    "created",
	ContextRunning:    "running",
	ContextSuspended:  "suspended",
	ContextTerminated: "terminated",
}

func (s ContextStatus) String() string { return contextStatusNames[s] }

// Context owns a value stack and a frame stack. The root context runs
// host calls; each fiber has its own. Only one context runs at a time.
type Context struct {
	vm     *VM
	id     uuid.UUID
	stack  []Value
	frames []*CallInfo
	exc    Value // in-flight exception read by EXCEPT
	prev   *Context
	status ContextStatus
	fiber  *RFiber
	goctx  context.Context
}

func (vm *VM) newContext() *Context {
	c := &Context{
		vm:     vm,
		id:     uuid.New(),
		stack:  make([]Value, vm.opts.StackSize),
		frames: make([]*CallInfo, 0, vm.opts.FrameCapacity),
		goctx:  context.Background(),
	}
	log.Debugf("context %s created", c.id)
	return c
}

// ID returns the context's identifier.
func (c *Context) ID() uuid.UUID { return c.id }

// VM returns the engine the context belongs to.
func (c *Context) VM() *VM { return c.vm }

// Status returns the lifecycle state.
func (c *Context) Status() ContextStatus { return c.status }

// Previous returns the context that resumed this one, if it is running.
func (c *Context) Previous() *Context { return c.prev }

// Depth returns the number of live frames.
func (c *Context) Depth() int { return len(c.frames) }

// Context returns the Go context of the current host call.
func (c *Context) Context() context.Context { return c.goctx }

// ci returns the current frame.
func (c *Context) ci() *CallInfo {
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

// Self returns the receiver of the current frame.
func (c *Context) Self() Value {
	if ci := c.ci(); ci != nil {
		return c.stack[ci.base]
	}
	return c.vm.main
}

// stackTop returns the first stack slot above the current frame.
func (c *Context) stackTop() int {
	if ci := c.ci(); ci != nil {
		return ci.base + ci.nregs
	}
	return 0
}

// growStack makes sure the value stack has at least n slots. Frames and
// environments address the stack by index, so reallocation is safe.
func (c *Context) growStack(n int) {
	if n <= len(c.stack) {
		return
	}
	size := max(len(c.stack)*2, n)
	stack := make([]Value, size)
	copy(stack, c.stack)
	c.stack = stack
}

// ---------------------------------------------------------------------------
// Frame management
// ---------------------------------------------------------------------------

// pushFrame pushes a frame whose arguments are already laid out at base.
// For compiled procs the registers past the arguments are cleared. It
// fails with a *StackOverflowError when the depth limit is reached.
func (c *Context) pushFrame(p *RProc, base, n, nk int, mid Symbol, owner *RClass, acc int, blk Value, kind CallKind) (*CallInfo, error) {
	if len(c.frames) >= c.vm.opts.MaxDepth {
		return nil, &StackOverflowError{Depth: len(c.frames), Mid: c.vm.Symbols.Name(mid)}
	}
	extent := 1 + argSlots(n) + kwSlots(nk) + 1
	nregs := extent
	var ir *Irep
	if p != nil && p.irep != nil {
		ir = p.irep
		nregs = max(ir.NRegs, extent)
	}
	c.growStack(base + nregs)
	clear(c.stack[base+extent : base+nregs])

	ci := &CallInfo{
		base:  base,
		nregs: nregs,
		proc:  p,
		irep:  ir,
		n:     uint8(n),
		nk:    uint8(nk),
		kind:  kind,
		mid:   mid,
		owner: owner,
		acc:   acc,
		blk:   blk,
	}
	c.frames = append(c.frames, ci)
	return ci, nil
}

// popFrame removes the current frame. A block argument created by the
// caller is orphaned: the method it was passed to has returned. A captured
// environment takes a private copy of its slots before they are reused.
func (c *Context) popFrame() {
	top := len(c.frames) - 1
	ci := c.frames[top]
	if top > 0 {
		parent := c.frames[top-1]
		if p, ok := ci.blk.ref.(*RProc); ok && !p.IsStrict() && p.env != nil && p.env == parent.env {
			p.flags |= FlagProcOrphan
		}
	}
	if ci.env != nil {
		ci.env.unshare()
	}
	c.frames[top] = nil
	c.frames = c.frames[:top]
}

// unwindTo pops frames until depth frames remain.
func (c *Context) unwindTo(depth int) {
	for len(c.frames) > depth {
		c.popFrame()
	}
}

// ensureEnv returns the environment of ci, creating it on first capture.
func (c *Context) ensureEnv(ci *CallInfo) *REnv {
	if ci.env == nil {
		n := 1
		if ci.irep != nil {
			n = max(ci.irep.NLocals, 1)
		}
		ci.env = &REnv{
			RBasic: RBasic{tt: ObjEnv},
			ctx:    c,
			ci:     ci,
			base:   ci.base,
			n:      n,
			mid:    ci.mid,
			owner:  ci.owner,
		}
	}
	return ci.env
}

// upvarEnv returns the environment level steps out from the running proc.
func (c *Context) upvarEnv(ci *CallInfo, level int) *REnv {
	p := ci.proc
	for i := 0; i < level && p != nil; i++ {
		p = p.upper
	}
	if p == nil {
		return nil
	}
	return p.env
}

// targetClass is the class receiving definitions made by the running code.
func (c *Context) targetClass(ci *CallInfo) *RClass {
	if ci != nil && ci.proc != nil && ci.proc.target != nil {
		return ci.proc.target
	}
	return c.vm.ObjectClass
}

// fail marks the context dead after a fatal error.
func (c *Context) fail(err error) error {
	if c.status != ContextTerminated {
		c.status = ContextTerminated
		log.Warningf("context %s terminated: %s", c.id, err)
	}
	return err
}
