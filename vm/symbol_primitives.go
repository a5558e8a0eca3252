package vm

// ---------------------------------------------------------------------------
// Symbol primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerSymbolPrimitives() {
	s := vm.SymbolClass

	// to_s / name / to_sym / inspect
	toS := func(c *Context, self Value) Value {
		return vm.NewString(vm.Symbols.Name(self.Sym()))
	}
	vm.DefineMethod(s, "to_s", toS)
	vm.DefineMethod(s, "name", toS)
	vm.DefineMethod(s, "to_sym", func(c *Context, self Value) Value { return self })
	vm.DefineMethod(s, "inspect", func(c *Context, self Value) Value {
		return vm.NewString(vm.Inspect(self))
	})

	// length / size
	length := func(c *Context, self Value) Value {
		return IntValue(int64(len([]rune(vm.Symbols.Name(self.Sym())))))
	}
	vm.DefineMethod(s, "length", length)
	vm.DefineMethod(s, "size", length)

	// to_proc - a proc that sends the symbol to its first argument
	vm.DefineMethod(s, "to_proc", func(c *Context, self Value) Value {
		name := vm.Symbols.Name(self.Sym())
		return ObjectValue(vm.NewNativeProc(func(c *Context, _ Value) Value {
			c.CheckArgs(1, -1)
			return c.FuncallWithBlock(c.Arg(0), name, c.RestArgs(1), c.Keywords(), c.BlockArg())
		}))
	})
}
