package vm

// NewRange creates a Range.
func (vm *VM) NewRange(first, last Value, exclusive bool) *RRange {
	return &RRange{
		RBasic:    RBasic{class: vm.RangeClass, tt: ObjRange},
		First:     first,
		Last:      last,
		Exclusive: exclusive,
	}
}

// ---------------------------------------------------------------------------
// Range primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerRangePrimitives() {
	r := vm.RangeClass

	rng := func(v Value) *RRange { return v.ref.(*RRange) }

	// Range.new(first, last, exclusive = false)
	vm.DefineClassMethod(r, "new", func(c *Context, self Value) Value {
		c.CheckArgs(2, 3)
		x := vm.NewRange(c.Arg(0), c.Arg(1), c.ArgCount() == 3 && c.Arg(2).Truthy())
		if k, ok := self.ref.(*RClass); ok {
			x.class = k
		}
		return ObjectValue(x)
	})

	// first / last / begin / end / exclude_end?
	first := func(c *Context, self Value) Value { return rng(self).First }
	last := func(c *Context, self Value) Value { return rng(self).Last }
	vm.DefineMethod(r, "first", first)
	vm.DefineMethod(r, "begin", first)
	vm.DefineMethod(r, "last", last)
	vm.DefineMethod(r, "end", last)
	vm.DefineMethod(r, "exclude_end?", func(c *Context, self Value) Value {
		return BoolValue(rng(self).Exclusive)
	})

	// each / to_a - integer ranges only
	vm.DefineMethod(r, "each", func(c *Context, self Value) Value {
		c.blockProc("no block given (each)")
		lo, hi := c.intBounds(rng(self))
		for i := lo; i <= hi; i++ {
			c.Yield(IntValue(i))
		}
		return self
	})
	vm.DefineMethod(r, "to_a", func(c *Context, self Value) Value {
		lo, hi := c.intBounds(rng(self))
		var out []Value
		for i := lo; i <= hi; i++ {
			out = append(out, IntValue(i))
		}
		return ObjectValue(vm.NewArray(out...))
	})
	vm.DefineMethod(r, "size", func(c *Context, self Value) Value {
		lo, hi := c.intBounds(rng(self))
		if hi < lo {
			return IntValue(0)
		}
		return IntValue(hi - lo + 1)
	})

	// include? / === / cover? - bounds test with <=>
	include := func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		x := rng(self)
		v := c.Arg(0)
		lo := c.Funcall(x.First, "<=>", v)
		hi := c.Funcall(v, "<=>", x.Last)
		if !lo.IsInteger() || !hi.IsInteger() {
			return False
		}
		if x.Exclusive {
			return BoolValue(lo.Int() <= 0 && hi.Int() < 0)
		}
		return BoolValue(lo.Int() <= 0 && hi.Int() <= 0)
	}
	vm.DefineMethod(r, "include?", include)
	vm.DefineMethod(r, "===", include)
	vm.DefineMethod(r, "cover?", include)

	vm.DefineMethod(r, "==", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		o, ok := c.Arg(0).ref.(*RRange)
		x := rng(self)
		return BoolValue(ok && o.Exclusive == x.Exclusive &&
			c.valuesEqual(x.First, o.First) && c.valuesEqual(x.Last, o.Last))
	})

	vm.DefineMethod(r, "inspect", func(c *Context, self Value) Value {
		return vm.NewString(vm.Inspect(self))
	})
	vm.DefineMethod(r, "to_s", func(c *Context, self Value) Value {
		x := rng(self)
		sep := ".."
		if x.Exclusive {
			sep = "..."
		}
		return vm.NewString(c.stringify(x.First) + sep + c.stringify(x.Last))
	})
}

// intBounds returns the inclusive integer bounds of x.
func (c *Context) intBounds(x *RRange) (lo, hi int64) {
	if !x.First.IsInteger() || !x.Last.IsInteger() {
		c.Raisef(c.vm.TypeError, "can't iterate from %s", c.vm.RealClassOf(x.First).Name())
	}
	lo, hi = x.First.Int(), x.Last.Int()
	if x.Exclusive {
		hi--
	}
	return lo, hi
}
