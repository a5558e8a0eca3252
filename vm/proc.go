package vm

// ---------------------------------------------------------------------------
// RProc: closures and native procs
// ---------------------------------------------------------------------------

// RProc is a callable: a compiled procedure with its lexical environment,
// or a native handler.
//
// For compiled procs, env is the environment of the frame in which the
// closure literal was evaluated and upper is that frame's proc. Upvar
// access at level n follows upper n times and reads that proc's env.
type RProc struct {
	RBasic
	irep   *Irep
	fn     NativeFunc
	upper  *RProc
	env    *REnv
	target *RClass // class that receives DEF and constant definitions
}

// Irep returns the compiled procedure, or nil for native procs.
func (p *RProc) Irep() *Irep { return p.irep }

// IsStrict reports whether p checks arity strictly (lambdas and methods).
func (p *RProc) IsStrict() bool { return p.has(FlagProcStrict) }

// IsOrphan reports whether the method p was passed to has returned, so a
// break out of p has no target any more.
func (p *RProc) IsOrphan() bool { return p.has(FlagProcOrphan) }

// Env returns the captured environment.
func (p *RProc) Env() *REnv { return p.env }

// self returns the receiver a block runs with.
func (p *RProc) self() Value {
	if p.env != nil {
		return p.env.Get(0)
	}
	return Nil
}

// Arity returns the parameter count the language reports for p.
func (p *RProc) Arity() int {
	if p.irep == nil {
		return -1
	}
	a := p.irep.Aspec
	req := a.Req + a.Post
	if a.Opt > 0 || a.Rest {
		return -(req + 1)
	}
	return req
}

func (vm *VM) newProc(irep *Irep, upper *RProc, env *REnv, flags Flags) *RProc {
	p := &RProc{
		RBasic: RBasic{class: vm.ProcClass, tt: ObjProc, flags: flags},
		irep:   irep,
		upper:  upper,
		env:    env,
	}
	if upper != nil {
		p.target = upper.target
	}
	return p
}

// NewNativeProc wraps a Go handler as a Proc value.
func (vm *VM) NewNativeProc(fn NativeFunc) *RProc {
	return &RProc{
		RBasic: RBasic{class: vm.ProcClass, tt: ObjProc, flags: FlagProcStrict},
		fn:     fn,
	}
}

// ---------------------------------------------------------------------------
// REnv: captured local variables
// ---------------------------------------------------------------------------

// REnv is a frame's local-variable storage as seen by closures. While the
// frame is live the env is a window onto the context's value stack; when
// the frame is popped, unshare copies the slots into the env, which is the
// authoritative storage from then on.
type REnv struct {
	RBasic
	ctx  *Context
	ci   *CallInfo // frame that owns the slots, nil once unshared
	base int
	n    int
	own  []Value

	mid   Symbol
	owner *RClass
}

// Shared reports whether the env still reads through to a live frame.
func (e *REnv) Shared() bool { return e.own == nil }

// Len returns the number of slots.
func (e *REnv) Len() int { return e.n }

// Get returns slot i.
func (e *REnv) Get(i int) Value {
	if i >= e.n {
		return Nil
	}
	if e.own != nil {
		return e.own[i]
	}
	return e.ctx.stack[e.base+i]
}

// Set stores v in slot i.
func (e *REnv) Set(i int, v Value) {
	if i >= e.n {
		return
	}
	if e.own != nil {
		e.own[i] = v
		return
	}
	e.ctx.stack[e.base+i] = v
}

// unshare copies the frame's slots into the env. It runs exactly once,
// when the owning frame is popped.
func (e *REnv) unshare() {
	if e.own != nil {
		return
	}
	own := make([]Value, e.n)
	copy(own, e.ctx.stack[e.base:e.base+e.n])
	e.own = own
	e.ci = nil
	e.ctx = nil
}
