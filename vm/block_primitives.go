package vm

// ---------------------------------------------------------------------------
// Proc primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerProcPrimitives() {
	p := vm.ProcClass

	// call / [] / yield / ===
	//
	// The dispatch loop recognises this method by pointer and runs compiled
	// procs in place. The handler itself only runs for native procs and for
	// sends from Go that bypass that check.
	vm.procCall = vm.NewNativeProc(func(c *Context, self Value) Value {
		return c.must(c.callProc(self.ref.(*RProc), c.Args(), c.Keywords(), c.BlockArg(), CallHost))
	})
	for _, name := range []string{"call", "[]", "yield", "==="} {
		p.defineRaw(vm.Symbols.Intern(name), ProcMethod(vm.procCall))
	}

	// Proc.new { } - the block itself
	vm.DefineClassMethod(p, "new", func(c *Context, self Value) Value {
		return ObjectValue(c.blockProc("tried to create Proc object without a block"))
	})

	vm.DefineMethod(p, "arity", func(c *Context, self Value) Value {
		return IntValue(int64(self.ref.(*RProc).Arity()))
	})
	vm.DefineMethod(p, "lambda?", func(c *Context, self Value) Value {
		return BoolValue(self.ref.(*RProc).IsStrict())
	})
	vm.DefineMethod(p, "to_proc", func(c *Context, self Value) Value { return self })
	vm.DefineMethod(p, "inspect", func(c *Context, self Value) Value {
		return vm.NewString(vm.Inspect(self))
	})
}
