package vm

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

// NativeFunc is the signature of a method implemented in Go. The handler
// runs with its own frame pushed, so the argument view on c (ArgCount,
// Arg, KeywordArg, BlockArg, RestArgs) describes this call. To raise, call
// c.Raise; it does not return.
type NativeFunc func(c *Context, self Value) Value

// Method is an entry in a method table: a compiled procedure or a native
// handler. The zero Method is the undefined marker; finding it stops the
// lookup.
type Method struct {
	proc *RProc
	fn   NativeFunc
}

// ProcMethod wraps a compiled procedure as a method.
func ProcMethod(p *RProc) Method { return Method{proc: p} }

// NativeMethod wraps a Go handler as a method.
func NativeMethod(fn NativeFunc) Method { return Method{fn: fn} }

// Defined reports whether m is a real method rather than the undefined marker.
func (m Method) Defined() bool { return m.proc != nil || m.fn != nil }

// IsNative reports whether m is implemented in Go.
func (m Method) IsNative() bool {
	return m.fn != nil || (m.proc != nil && m.proc.fn != nil)
}

// Proc returns the compiled procedure, or nil for native methods.
func (m Method) Proc() *RProc { return m.proc }

func (m Method) native() NativeFunc {
	if m.fn != nil {
		return m.fn
	}
	if m.proc != nil {
		return m.proc.fn
	}
	return nil
}

// ---------------------------------------------------------------------------
// Method registration
// ---------------------------------------------------------------------------

// DefineMethod registers a native handler on c. A nil fn marks the method
// undefined on c, hiding any inherited definition.
func (vm *VM) DefineMethod(c *RClass, name string, fn NativeFunc) {
	mid := vm.Symbols.Intern(name)
	if fn == nil {
		c.defineRaw(mid, Method{})
		return
	}
	c.defineRaw(mid, NativeMethod(fn))
}

// DefineClassMethod registers a native handler on c's singleton class.
func (vm *VM) DefineClassMethod(c *RClass, name string, fn NativeFunc) {
	vm.DefineMethod(vm.singletonClassOf(ObjectValue(c)), name, fn)
}

// DefineModuleFunction registers fn as both an instance method and a
// singleton method of module m.
func (vm *VM) DefineModuleFunction(m *RClass, name string, fn NativeFunc) {
	vm.DefineMethod(m, name, fn)
	vm.DefineClassMethod(m, name, fn)
}

// UndefMethod hides name on c and all of its descendants.
func (vm *VM) UndefMethod(c *RClass, name string) {
	vm.DefineMethod(c, name, nil)
}

// RemoveMethod deletes c's own definition of name so lookup continues in
// the ancestors. It reports whether a definition existed.
func (vm *VM) RemoveMethod(c *RClass, mid Symbol) bool {
	o := c.Origin()
	if _, ok := o.mt[mid]; !ok {
		return false
	}
	delete(o.mt, mid)
	vm.cache.flush()
	return true
}

// AliasMethod copies the method found for oldMid into c under newMid.
func (vm *VM) AliasMethod(c *RClass, newMid, oldMid Symbol) bool {
	m, _, ok := vm.Resolve(c, oldMid)
	if !ok {
		return false
	}
	c.defineRaw(newMid, m)
	return true
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// Resolve walks cls and its ancestor chain for mid. It returns the method
// and the chain node that supplied it (an include node for module methods,
// the origin for prepended classes). The owner is where a super call from
// that method resumes the walk.
func (vm *VM) Resolve(cls *RClass, mid Symbol) (Method, *RClass, bool) {
	if e, ok := vm.cache.lookup(cls, mid); ok {
		return e.method, e.owner, e.method.Defined()
	}
	for c := cls; c != nil; c = c.super {
		if m, ok := c.table()[mid]; ok {
			vm.cache.update(cls, mid, m, c)
			return m, c, m.Defined()
		}
	}
	vm.cache.update(cls, mid, Method{}, nil)
	return Method{}, nil, false
}

// RespondTo reports whether v has a method named mid.
func (vm *VM) RespondTo(v Value, mid Symbol) bool {
	_, _, ok := vm.Resolve(vm.ClassOf(v), mid)
	return ok
}
