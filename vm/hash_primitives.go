package vm

import "strings"

// NewHash creates an empty Hash.
func (vm *VM) NewHash() *RHash {
	return &RHash{RBasic: RBasic{class: vm.HashClass, tt: ObjHash}}
}

// ---------------------------------------------------------------------------
// Hash primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerHashPrimitives() {
	h := vm.HashClass

	hash := func(v Value) *RHash { return v.ref.(*RHash) }
	mutable := func(c *Context, self Value) *RHash {
		r := hash(self)
		if r.Frozen() {
			c.Raise(vm.frozenError(self))
		}
		return r
	}

	// [] / []= / fetch
	vm.DefineMethod(h, "[]", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		v, _ := hash(self).Get(c.Arg(0))
		return v
	})
	vm.DefineMethod(h, "[]=", func(c *Context, self Value) Value {
		c.CheckArgs(2, 2)
		key := c.Arg(0)
		if s, ok := key.ref.(*RString); ok && !s.Frozen() {
			// string keys are copied and frozen so later mutation cannot
			// change the entry
			key = vm.NewString(s.Str)
			key.ref.basic().Freeze()
		}
		mutable(c, self).Set(key, c.Arg(1))
		return c.Arg(1)
	})
	vm.DefineMethod(h, "fetch", func(c *Context, self Value) Value {
		c.CheckArgs(1, 2)
		if v, ok := hash(self).Get(c.Arg(0)); ok {
			return v
		}
		switch {
		case c.BlockGiven():
			return c.Yield(c.Arg(0))
		case c.ArgCount() == 2:
			return c.Arg(1)
		}
		c.Raisef(vm.KeyError, "key not found: %s", c.inspect(c.Arg(0)))
		return Nil
	})

	// key? / has_key? / include?
	hasKey := func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		_, ok := hash(self).Get(c.Arg(0))
		return BoolValue(ok)
	}
	vm.DefineMethod(h, "key?", hasKey)
	vm.DefineMethod(h, "has_key?", hasKey)
	vm.DefineMethod(h, "include?", hasKey)

	// delete
	vm.DefineMethod(h, "delete", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		v, _ := mutable(c, self).Delete(c.Arg(0))
		return v
	})

	// size / length / empty? / keys / values / to_a
	size := func(c *Context, self Value) Value {
		return IntValue(int64(hash(self).Len()))
	}
	vm.DefineMethod(h, "size", size)
	vm.DefineMethod(h, "length", size)
	vm.DefineMethod(h, "empty?", func(c *Context, self Value) Value {
		return BoolValue(hash(self).Len() == 0)
	})
	vm.DefineMethod(h, "keys", func(c *Context, self Value) Value {
		return ObjectValue(vm.NewArray(hash(self).Keys()...))
	})
	vm.DefineMethod(h, "values", func(c *Context, self Value) Value {
		var out []Value
		hash(self).Each(func(_, v Value) { out = append(out, v) })
		return ObjectValue(vm.NewArray(out...))
	})
	vm.DefineMethod(h, "to_a", func(c *Context, self Value) Value {
		var out []Value
		hash(self).Each(func(k, v Value) {
			out = append(out, ObjectValue(vm.NewArray(k, v)))
		})
		return ObjectValue(vm.NewArray(out...))
	})

	// each / each_pair - yields [key, value]; the block may destructure it
	each := func(c *Context, self Value) Value {
		c.blockProc("no block given (each)")
		r := hash(self)
		for _, k := range r.Keys() {
			if v, ok := r.Get(k); ok {
				c.Yield(ObjectValue(vm.NewArray(k, v)))
			}
		}
		return self
	}
	vm.DefineMethod(h, "each", each)
	vm.DefineMethod(h, "each_pair", each)

	// merge - a new hash with the argument's entries winning
	vm.DefineMethod(h, "merge", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		o, ok := c.Arg(0).ref.(*RHash)
		if !ok {
			c.Raisef(vm.TypeError, "no implicit conversion of %s into Hash", vm.RealClassOf(c.Arg(0)).Name())
		}
		out := hash(self).dup()
		out.class = vm.HashClass
		o.Each(out.Set)
		return ObjectValue(out)
	})

	// == - same keys with == values
	vm.DefineMethod(h, "==", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		o, ok := c.Arg(0).ref.(*RHash)
		if !ok {
			return False
		}
		r := hash(self)
		if r.Len() != o.Len() {
			return False
		}
		for _, k := range r.Keys() {
			x, _ := r.Get(k)
			y, found := o.Get(k)
			if !found || !c.valuesEqual(x, y) {
				return False
			}
		}
		return True
	})

	// inspect / to_s
	inspect := func(c *Context, self Value) Value {
		var parts []string
		hash(self).Each(func(k, v Value) {
			if k.IsSymbol() {
				parts = append(parts, vm.Symbols.Name(k.Sym())+": "+c.inspect(v))
			} else {
				parts = append(parts, c.inspect(k)+" => "+c.inspect(v))
			}
		})
		return vm.NewString("{" + strings.Join(parts, ", ") + "}")
	}
	vm.DefineMethod(h, "inspect", inspect)
	vm.DefineMethod(h, "to_s", inspect)
}
