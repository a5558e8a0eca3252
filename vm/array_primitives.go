package vm

import (
	"slices"
	"strings"
)

// NewArray creates an Array holding a copy of elems.
func (vm *VM) NewArray(elems ...Value) *RArray {
	return &RArray{
		RBasic: RBasic{class: vm.ArrayClass, tt: ObjArray},
		Elems:  append([]Value(nil), elems...),
	}
}

// ---------------------------------------------------------------------------
// Array primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerArrayPrimitives() {
	a := vm.ArrayClass

	ary := func(v Value) *RArray { return v.ref.(*RArray) }
	mutable := func(c *Context, self Value) *RArray {
		r := ary(self)
		if r.Frozen() {
			c.Raise(vm.frozenError(self))
		}
		return r
	}

	// initialize - Array.new(size = 0, fill = nil)
	vm.DefineMethod(a, "initialize", func(c *Context, self Value) Value {
		c.CheckArgs(0, 2)
		n := int64(0)
		if c.ArgCount() > 0 {
			n = c.intArg(0)
		}
		if n < 0 {
			c.Raisef(vm.ArgumentError, "negative array size")
		}
		r := ary(self)
		r.Elems = make([]Value, n)
		for i := range r.Elems {
			if c.BlockGiven() {
				r.Elems[i] = c.Yield(IntValue(int64(i)))
			} else {
				r.Elems[i] = c.Arg(1)
			}
		}
		return Nil
	})

	// [] / at - element at index, negative from the end
	at := func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		r := ary(self)
		if i, ok := normIndex(c.intArg(0), len(r.Elems)); ok {
			return r.Elems[i]
		}
		return Nil
	}
	vm.DefineMethod(a, "[]", at)
	vm.DefineMethod(a, "at", at)

	// []= - store, growing with nils
	vm.DefineMethod(a, "[]=", func(c *Context, self Value) Value {
		c.CheckArgs(2, 2)
		r := mutable(c, self)
		i := c.intArg(0)
		if i < 0 {
			i += int64(len(r.Elems))
			if i < 0 {
				c.Raisef(vm.IndexError, "index %d too small for array", c.intArg(0))
			}
		}
		for int64(len(r.Elems)) <= i {
			r.Elems = append(r.Elems, Nil)
		}
		r.Elems[i] = c.Arg(1)
		return c.Arg(1)
	})

	// push / << / pop / shift / unshift
	push := func(c *Context, self Value) Value {
		r := mutable(c, self)
		r.Elems = append(r.Elems, c.Args()...)
		return self
	}
	vm.DefineMethod(a, "push", push)
	vm.DefineMethod(a, "<<", push)
	vm.DefineMethod(a, "pop", func(c *Context, self Value) Value {
		r := mutable(c, self)
		if len(r.Elems) == 0 {
			return Nil
		}
		v := r.Elems[len(r.Elems)-1]
		r.Elems = r.Elems[:len(r.Elems)-1]
		return v
	})
	vm.DefineMethod(a, "shift", func(c *Context, self Value) Value {
		r := mutable(c, self)
		if len(r.Elems) == 0 {
			return Nil
		}
		v := r.Elems[0]
		r.Elems = slices.Delete(r.Elems, 0, 1)
		return v
	})
	vm.DefineMethod(a, "unshift", func(c *Context, self Value) Value {
		r := mutable(c, self)
		r.Elems = slices.Insert(r.Elems, 0, c.Args()...)
		return self
	})

	// size / length / empty? / first / last
	size := func(c *Context, self Value) Value {
		return IntValue(int64(len(ary(self).Elems)))
	}
	vm.DefineMethod(a, "size", size)
	vm.DefineMethod(a, "length", size)
	vm.DefineMethod(a, "empty?", func(c *Context, self Value) Value {
		return BoolValue(len(ary(self).Elems) == 0)
	})
	vm.DefineMethod(a, "first", func(c *Context, self Value) Value {
		if r := ary(self); len(r.Elems) > 0 {
			return r.Elems[0]
		}
		return Nil
	})
	vm.DefineMethod(a, "last", func(c *Context, self Value) Value {
		if r := ary(self); len(r.Elems) > 0 {
			return r.Elems[len(r.Elems)-1]
		}
		return Nil
	})

	// each / each_with_index - iteration; the array may change underneath
	vm.DefineMethod(a, "each", func(c *Context, self Value) Value {
		c.blockProc("no block given (each)")
		r := ary(self)
		for i := 0; i < len(r.Elems); i++ {
			c.Yield(r.Elems[i])
		}
		return self
	})
	vm.DefineMethod(a, "each_with_index", func(c *Context, self Value) Value {
		c.blockProc("no block given (each_with_index)")
		r := ary(self)
		for i := 0; i < len(r.Elems); i++ {
			c.Yield(r.Elems[i], IntValue(int64(i)))
		}
		return self
	})

	// map / select / reject
	vm.DefineMethod(a, "map", func(c *Context, self Value) Value {
		c.blockProc("no block given (map)")
		r := ary(self)
		out := make([]Value, 0, len(r.Elems))
		for i := 0; i < len(r.Elems); i++ {
			out = append(out, c.Yield(r.Elems[i]))
		}
		return ObjectValue(vm.NewArray(out...))
	})
	filter := func(keep bool) NativeFunc {
		return func(c *Context, self Value) Value {
			c.blockProc("no block given")
			r := ary(self)
			var out []Value
			for i := 0; i < len(r.Elems); i++ {
				if c.Yield(r.Elems[i]).Truthy() == keep {
					out = append(out, r.Elems[i])
				}
			}
			return ObjectValue(vm.NewArray(out...))
		}
	}
	vm.DefineMethod(a, "select", filter(true))
	vm.DefineMethod(a, "filter", filter(true))
	vm.DefineMethod(a, "reject", filter(false))

	// inject / reduce - fold with the block, or with a method name
	reduce := func(c *Context, self Value) Value {
		c.CheckArgs(0, 2)
		elems := ary(self).Elems
		var acc Value
		var op Symbol
		switch {
		case c.ArgCount() == 2:
			acc, op = c.Arg(0), c.symbolArg(1)
		case c.ArgCount() == 1 && !c.BlockGiven():
			op = c.symbolArg(0)
		case c.ArgCount() == 1:
			acc = c.Arg(0)
		}
		start := 0
		if c.ArgCount() == 0 || (c.ArgCount() == 1 && op != 0) {
			if len(elems) == 0 {
				return Nil
			}
			acc, start = elems[0], 1
		}
		for i := start; i < len(elems); i++ {
			if op != 0 {
				acc = c.Funcall(acc, vm.Symbols.Name(op), elems[i])
			} else {
				acc = c.Yield(acc, elems[i])
			}
		}
		return acc
	}
	vm.DefineMethod(a, "inject", reduce)
	vm.DefineMethod(a, "reduce", reduce)

	// include? / index - searches with ==
	vm.DefineMethod(a, "include?", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(c.indexOf(ary(self), c.Arg(0)) >= 0)
	})
	vm.DefineMethod(a, "index", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		if i := c.indexOf(ary(self), c.Arg(0)); i >= 0 {
			return IntValue(int64(i))
		}
		return Nil
	})

	// == - element-wise equality
	vm.DefineMethod(a, "==", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		o, ok := c.Arg(0).ref.(*RArray)
		if !ok {
			return False
		}
		r := ary(self)
		if r == o {
			return True
		}
		if len(r.Elems) != len(o.Elems) {
			return False
		}
		for i := range r.Elems {
			if !c.valuesEqual(r.Elems[i], o.Elems[i]) {
				return False
			}
		}
		return True
	})

	// + / reverse / dup / to_a
	vm.DefineMethod(a, "+", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		o, ok := c.Arg(0).ref.(*RArray)
		if !ok {
			c.Raisef(vm.TypeError, "no implicit conversion of %s into Array", vm.RealClassOf(c.Arg(0)).Name())
		}
		return ObjectValue(vm.NewArray(append(slices.Clone(ary(self).Elems), o.Elems...)...))
	})
	vm.DefineMethod(a, "reverse", func(c *Context, self Value) Value {
		out := slices.Clone(ary(self).Elems)
		slices.Reverse(out)
		return ObjectValue(vm.NewArray(out...))
	})
	vm.DefineMethod(a, "dup", func(c *Context, self Value) Value {
		return ObjectValue(vm.NewArray(ary(self).Elems...))
	})
	vm.DefineMethod(a, "to_a", func(c *Context, self Value) Value { return self })

	// sort - with <=>, or with the block
	vm.DefineMethod(a, "sort", func(c *Context, self Value) Value {
		out := slices.Clone(ary(self).Elems)
		blk := c.BlockGiven()
		slices.SortStableFunc(out, func(x, y Value) int {
			var r Value
			if blk {
				r = c.Yield(x, y)
			} else {
				r = c.Funcall(x, "<=>", y)
			}
			if !r.IsInteger() {
				c.Raisef(vm.ArgumentError, "comparison of %s with %s failed", vm.RealClassOf(x).Name(), vm.RealClassOf(y).Name())
			}
			return int(r.Int())
		})
		return ObjectValue(vm.NewArray(out...))
	})

	// join / inspect / to_s
	vm.DefineMethod(a, "join", func(c *Context, self Value) Value {
		c.CheckArgs(0, 1)
		sep := ""
		if c.ArgCount() == 1 {
			sep = c.stringArg(0)
		}
		var parts []string
		for _, e := range ary(self).Elems {
			parts = append(parts, c.stringify(e))
		}
		return vm.NewString(strings.Join(parts, sep))
	})
	inspect := func(c *Context, self Value) Value {
		var parts []string
		for _, e := range ary(self).Elems {
			parts = append(parts, c.inspect(e))
		}
		return vm.NewString("[" + strings.Join(parts, ", ") + "]")
	}
	vm.DefineMethod(a, "inspect", inspect)
	vm.DefineMethod(a, "to_s", inspect)
}

// normIndex maps a possibly negative index into [0, n).
func normIndex(i int64, n int) (int, bool) {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, false
	}
	return int(i), true
}

// valuesEqual compares with the fast path first, then ==.
func (c *Context) valuesEqual(x, y Value) bool {
	if v, ok, _ := c.vm.arith(OpEQ, x, y); ok {
		return v.Truthy()
	}
	if x.Same(y) {
		return true
	}
	return c.Funcall(x, "==", y).Truthy()
}

func (c *Context) indexOf(r *RArray, v Value) int {
	for i := 0; i < len(r.Elems); i++ {
		if c.valuesEqual(r.Elems[i], v) {
			return i
		}
	}
	return -1
}
