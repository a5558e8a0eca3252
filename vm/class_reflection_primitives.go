package vm

import "strings"

// ---------------------------------------------------------------------------
// Module and Class primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerModulePrimitives() {
	m := vm.ModuleClass
	cls := vm.ClassClass

	// include / prepend - mix modules into the receiver
	vm.DefineMethod(m, "include", func(c *Context, self Value) Value {
		c.CheckArgs(1, -1)
		k := self.ref.(*RClass)
		for i := c.ArgCount() - 1; i >= 0; i-- {
			c.includeModule(k, c.Arg(i), false)
		}
		return self
	})
	vm.DefineMethod(m, "prepend", func(c *Context, self Value) Value {
		c.CheckArgs(1, -1)
		k := self.ref.(*RClass)
		for i := c.ArgCount() - 1; i >= 0; i-- {
			c.includeModule(k, c.Arg(i), true)
		}
		return self
	})

	// include? - whether a module is in the ancestor chain
	vm.DefineMethod(m, "include?", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		k := self.ref.(*RClass)
		mod := c.classArg(0)
		return BoolValue(k != mod && mod.IsModule() && k.IncludesModule(mod))
	})

	// ancestors - the lookup chain as modules and classes
	vm.DefineMethod(m, "ancestors", func(c *Context, self Value) Value {
		var out []Value
		for _, a := range self.ref.(*RClass).Ancestors() {
			out = append(out, ObjectValue(a))
		}
		return ObjectValue(vm.NewArray(out...))
	})

	// name / to_s / inspect
	vm.DefineMethod(m, "name", func(c *Context, self Value) Value {
		k := self.ref.(*RClass)
		if !k.IvarDefined(vm.symClassName) {
			return Nil
		}
		return vm.NewString(k.Name())
	})
	className := func(c *Context, self Value) Value {
		return vm.NewString(self.ref.(*RClass).Name())
	}
	vm.DefineMethod(m, "to_s", className)
	vm.DefineMethod(m, "inspect", className)

	// === - case equality tests membership
	vm.DefineMethod(m, "===", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(vm.ClassOf(c.Arg(0)).IsKindOf(self.ref.(*RClass)))
	})

	// define_method - install a block or proc as a method
	vm.DefineMethod(m, "define_method", func(c *Context, self Value) Value {
		c.CheckArgs(1, 2)
		k := self.ref.(*RClass)
		mid := c.symbolArg(0)
		body := c.BlockArg()
		if c.ArgCount() == 2 {
			body = c.Arg(1)
		}
		p, ok := body.ref.(*RProc)
		if !ok {
			c.Raisef(vm.ArgumentError, "tried to create Proc object without a block")
		}
		if p.irep != nil && !p.IsStrict() {
			mp := *p
			mp.flags |= FlagProcStrict
			p = &mp
		}
		k.defineRaw(mid, ProcMethod(p))
		return SymbolValue(mid)
	})

	// alias_method - copy a method under a new name
	vm.DefineMethod(m, "alias_method", func(c *Context, self Value) Value {
		c.CheckArgs(2, 2)
		k := self.ref.(*RClass)
		newMid, oldMid := c.symbolArg(0), c.symbolArg(1)
		if !vm.AliasMethod(k, newMid, oldMid) {
			c.Raisef(vm.NameError, "undefined method '%s' for class '%s'", vm.Symbols.Name(oldMid), k.Name())
		}
		return SymbolValue(newMid)
	})

	// undef_method - hide methods on the receiver and its descendants
	vm.DefineMethod(m, "undef_method", func(c *Context, self Value) Value {
		k := self.ref.(*RClass)
		for i := 0; i < c.ArgCount(); i++ {
			mid := c.symbolArg(i)
			if _, _, ok := vm.Resolve(k, mid); !ok {
				c.Raisef(vm.NameError, "undefined method '%s' for class '%s'", vm.Symbols.Name(mid), k.Name())
			}
			k.defineRaw(mid, Method{})
		}
		return self
	})

	// remove_method - delete the receiver's own definition
	vm.DefineMethod(m, "remove_method", func(c *Context, self Value) Value {
		k := self.ref.(*RClass)
		for i := 0; i < c.ArgCount(); i++ {
			mid := c.symbolArg(i)
			if !vm.RemoveMethod(k, mid) {
				c.Raisef(vm.NameError, "method '%s' not defined in %s", vm.Symbols.Name(mid), k.Name())
			}
		}
		return self
	})

	// method_defined? / instance_methods
	vm.DefineMethod(m, "method_defined?", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		_, _, ok := vm.Resolve(self.ref.(*RClass), c.symbolArg(0))
		return BoolValue(ok)
	})
	vm.DefineMethod(m, "instance_methods", func(c *Context, self Value) Value {
		c.CheckArgs(0, 1)
		k := self.ref.(*RClass)
		inherit := c.ArgCount() == 0 || c.Arg(0).Truthy()
		return ObjectValue(vm.NewArray(vm.instanceMethods(k, inherit)...))
	})

	// attr_reader / attr_writer / attr_accessor
	vm.DefineMethod(m, "attr_reader", func(c *Context, self Value) Value {
		return c.defineAttrs(self.ref.(*RClass), true, false)
	})
	vm.DefineMethod(m, "attr_writer", func(c *Context, self Value) Value {
		return c.defineAttrs(self.ref.(*RClass), false, true)
	})
	vm.DefineMethod(m, "attr_accessor", func(c *Context, self Value) Value {
		return c.defineAttrs(self.ref.(*RClass), true, true)
	})

	// const_get / const_set / const_defined? / constants
	vm.DefineMethod(m, "const_get", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		k := self.ref.(*RClass)
		v, ok := vm.ConstGet(k, c.symbolArg(0))
		if !ok {
			c.Raisef(vm.NameError, "uninitialized constant %s::%s", k.Name(), vm.Symbols.Name(c.symbolArg(0)))
		}
		return v
	})
	vm.DefineMethod(m, "const_set", func(c *Context, self Value) Value {
		c.CheckArgs(2, 2)
		sym := c.symbolArg(0)
		if !isConstName(vm.Symbols.Name(sym)) {
			c.Raisef(vm.NameError, "wrong constant name %s", vm.Symbols.Name(sym))
		}
		vm.ConstSet(self.ref.(*RClass), sym, c.Arg(1))
		return c.Arg(1)
	})
	vm.DefineMethod(m, "const_defined?", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		_, ok := vm.ConstGet(self.ref.(*RClass), c.symbolArg(0))
		return BoolValue(ok)
	})
	vm.DefineMethod(m, "constants", func(c *Context, self Value) Value {
		var out []Value
		for _, n := range vm.constNames(self.ref.(*RClass)) {
			out = append(out, SymbolValue(vm.Symbols.Intern(n)))
		}
		return ObjectValue(vm.NewArray(out...))
	})

	// Module.new - an anonymous module
	vm.DefineClassMethod(m, "new", func(c *Context, self Value) Value {
		mod := vm.NewModule()
		if c.BlockGiven() {
			c.Yield(ObjectValue(mod))
		}
		return ObjectValue(mod)
	})

	// new - allocate and initialize an instance
	vm.DefineMethod(cls, "new", func(c *Context, self Value) Value {
		obj := c.allocate(self.ref.(*RClass))
		c.FuncallWithBlock(obj, "initialize", c.Args(), c.Keywords(), c.BlockArg())
		return obj
	})

	// allocate - an uninitialized instance
	vm.DefineMethod(cls, "allocate", func(c *Context, self Value) Value {
		return c.allocate(self.ref.(*RClass))
	})

	// superclass - the nearest real superclass, or nil
	vm.DefineMethod(cls, "superclass", func(c *Context, self Value) Value {
		k := self.ref.(*RClass)
		if sc := k.Superclass(); sc != nil {
			return ObjectValue(sc)
		}
		return Nil
	})

	// Class.new - an anonymous class
	vm.DefineClassMethod(cls, "new", func(c *Context, self Value) Value {
		c.CheckArgs(0, 1)
		super := vm.ObjectClass
		if c.ArgCount() == 1 {
			super = c.classArg(0)
			if super.tt != ObjClass || super.IsSingleton() {
				c.Raisef(vm.TypeError, "superclass must be a Class")
			}
		}
		k := vm.NewClass(super)
		if c.BlockGiven() {
			c.Yield(ObjectValue(k))
		}
		return ObjectValue(k)
	})
}

// NewClass creates an anonymous class below super. It is named when first
// assigned to a constant.
func (vm *VM) NewClass(super *RClass) *RClass {
	k := vm.allocClass(ObjClass, vm.ClassClass, super)
	vm.singletonClassOf(ObjectValue(k))
	return k
}

// allocate creates an uninitialized instance of k. Instances of subclasses
// of the built-in containers get the container's representation.
func (c *Context) allocate(k *RClass) Value {
	vm := c.vm
	if k.IsModule() || k.IsSingleton() {
		c.Raisef(vm.TypeError, "can't create instance of %s", k.Name())
	}
	b := RBasic{class: k}
	switch {
	case k.IsKindOf(vm.ExceptionClass):
		b.tt = ObjException
		return ObjectValue(&RException{RBasic: b})
	case k.IsKindOf(vm.StringClass):
		b.tt = ObjString
		return ObjectValue(&RString{RBasic: b})
	case k.IsKindOf(vm.ArrayClass):
		b.tt = ObjArray
		return ObjectValue(&RArray{RBasic: b})
	case k.IsKindOf(vm.HashClass):
		b.tt = ObjHash
		return ObjectValue(&RHash{RBasic: b})
	case k.IsKindOf(vm.ModuleClass), k.IsKindOf(vm.NumericClass), k.IsKindOf(vm.SymbolClass),
		k.IsKindOf(vm.NilClass), k.IsKindOf(vm.TrueClass), k.IsKindOf(vm.FalseClass),
		k.IsKindOf(vm.ProcClass), k.IsKindOf(vm.RangeClass), k.IsKindOf(vm.FiberClass):
		c.Raisef(vm.TypeError, "allocator undefined for %s", k.Name())
	}
	b.tt = ObjObject
	return ObjectValue(&RObject{RBasic: b})
}

// defineAttrs defines reader and writer methods for the symbol arguments.
func (c *Context) defineAttrs(k *RClass, reader, writer bool) Value {
	vm := c.vm
	var out []Value
	for i := 0; i < c.ArgCount(); i++ {
		name := vm.Symbols.Name(c.symbolArg(i))
		ivar := vm.Symbols.Intern("@" + name)
		if reader {
			k.defineRaw(vm.Symbols.Intern(name), NativeMethod(func(c *Context, self Value) Value {
				c.CheckArgs(0, 0)
				return ivarGet(self, ivar)
			}))
			out = append(out, SymbolValue(vm.Symbols.Intern(name)))
		}
		if writer {
			setter := vm.Symbols.Intern(name + "=")
			k.defineRaw(setter, NativeMethod(func(c *Context, self Value) Value {
				c.CheckArgs(1, 1)
				if exc := c.ivarSet(self, ivar, c.Arg(0)); exc.IsObject() {
					c.Raise(exc)
				}
				return c.Arg(0)
			}))
			out = append(out, SymbolValue(setter))
		}
	}
	return ObjectValue(vm.NewArray(out...))
}

// instanceMethods lists the public method names visible on k.
func (vm *VM) instanceMethods(k *RClass, inherit bool) []Value {
	seen := make(map[Symbol]bool)
	var out []Value
	for p := k; p != nil; p = p.super {
		if !inherit && p != k && p != k.Origin() {
			break
		}
		for mid, m := range p.table() {
			if seen[mid] {
				continue
			}
			seen[mid] = true
			if m.Defined() && !strings.HasPrefix(vm.Symbols.Name(mid), "__") {
				out = append(out, SymbolValue(mid))
			}
		}
	}
	return out
}
