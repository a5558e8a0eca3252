package vm

import (
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Arithmetic fast path
// ---------------------------------------------------------------------------

// arith evaluates an arithmetic or comparison opcode on two scalars. ok is
// false when the operands need a method call instead. A non-nil exc is the
// exception to raise.
func (vm *VM) arith(op Opcode, x, y Value) (v Value, ok bool, exc Value) {
	if x.tt == TypeInteger && y.tt == TypeInteger {
		return vm.intArith(op, x.Int(), y.Int())
	}
	if x.IsNumeric() && y.IsNumeric() {
		a, _ := x.ToFloat()
		b, _ := y.ToFloat()
		return floatArith(op, a, b)
	}
	if op == OpEQ && !x.IsObject() && !y.IsObject() {
		if eq, isNum := numericEqual(x, y); isNum {
			return BoolValue(eq), true, Nil
		}
		return BoolValue(x.Same(y)), true, Nil
	}
	return Nil, false, Nil
}

func (vm *VM) intArith(op Opcode, a, b int64) (Value, bool, Value) {
	switch op {
	case OpADD:
		r := a + b
		if (r > a) != (b > 0) {
			return FloatValue(float64(a) + float64(b)), true, Nil
		}
		return IntValue(r), true, Nil
	case OpSUB:
		r := a - b
		if (r < a) != (b > 0) {
			return FloatValue(float64(a) - float64(b)), true, Nil
		}
		return IntValue(r), true, Nil
	case OpMUL:
		if r, ok := mulInt(a, b); ok {
			return IntValue(r), true, Nil
		}
		return FloatValue(float64(a) * float64(b)), true, Nil
	case OpDIV:
		if b == 0 {
			return Nil, false, vm.newErrorf(vm.ZeroDivisionError, "divided by 0")
		}
		if a == math.MinInt64 && b == -1 {
			return FloatValue(-float64(a)), true, Nil
		}
		return IntValue(floorDiv(a, b)), true, Nil
	case OpEQ:
		return BoolValue(a == b), true, Nil
	case OpLT:
		return BoolValue(a < b), true, Nil
	case OpLE:
		return BoolValue(a <= b), true, Nil
	case OpGT:
		return BoolValue(a > b), true, Nil
	case OpGE:
		return BoolValue(a >= b), true, Nil
	}
	return Nil, false, Nil
}

func floatArith(op Opcode, a, b float64) (Value, bool, Value) {
	switch op {
	case OpADD:
		return FloatValue(a + b), true, Nil
	case OpSUB:
		return FloatValue(a - b), true, Nil
	case OpMUL:
		return FloatValue(a * b), true, Nil
	case OpDIV:
		return FloatValue(a / b), true, Nil
	case OpEQ:
		return BoolValue(a == b), true, Nil
	case OpLT:
		return BoolValue(a < b), true, Nil
	case OpLE:
		return BoolValue(a <= b), true, Nil
	case OpGT:
		return BoolValue(a > b), true, Nil
	case OpGE:
		return BoolValue(a >= b), true, Nil
	}
	return Nil, false, Nil
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	return r, true
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// floorMod is the remainder matching floorDiv; it has the sign of b.
func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

// ---------------------------------------------------------------------------
// Numeric, Integer primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerNumericPrimitives() {
	n := vm.NumericClass
	i := vm.IntegerClass

	// + - * / == < <= > >= - the same operations the fast path runs
	for op, sym := range vm.opSyms {
		if sym == 0 {
			continue
		}
		vm.DefineMethod(n, vm.Symbols.Name(sym), vm.binop(Opcode(op)))
	}

	// <=> - three-way comparison, nil when unordered
	vm.DefineMethod(n, "<=>", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		a, _ := self.ToFloat()
		b, ok := c.Arg(0).ToFloat()
		if !ok || math.IsNaN(a) || math.IsNaN(b) {
			return Nil
		}
		if self.IsInteger() && c.Arg(0).IsInteger() {
			return IntValue(int64(cmpInt(self.Int(), c.Arg(0).Int())))
		}
		switch {
		case a < b:
			return IntValue(-1)
		case a > b:
			return IntValue(1)
		}
		return IntValue(0)
	})

	// -@ / abs / zero?
	vm.DefineMethod(n, "-@", func(c *Context, self Value) Value {
		return c.must(vm.callArith(OpSUB, IntValue(0), self))
	})
	vm.DefineMethod(n, "abs", func(c *Context, self Value) Value {
		if self.IsInteger() {
			if v := self.Int(); v < 0 {
				return c.must(vm.callArith(OpSUB, IntValue(0), self))
			}
			return self
		}
		return FloatValue(math.Abs(self.Float()))
	})
	vm.DefineMethod(n, "zero?", func(c *Context, self Value) Value {
		f, _ := self.ToFloat()
		return BoolValue(f == 0)
	})

	// % - modulo with the sign of the divisor
	vm.DefineMethod(n, "%", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		y := c.numArg(0)
		if self.IsInteger() && y.IsInteger() {
			if y.Int() == 0 {
				c.Raisef(vm.ZeroDivisionError, "divided by 0")
			}
			if y.Int() == -1 {
				return IntValue(0)
			}
			return IntValue(floorMod(self.Int(), y.Int()))
		}
		a, _ := self.ToFloat()
		b, _ := y.ToFloat()
		m := math.Mod(a, b)
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return FloatValue(m)
	})

	// ** - exponentiation; negative integer exponents give a Float
	vm.DefineMethod(n, "**", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		y := c.numArg(0)
		if self.IsInteger() && y.IsInteger() && y.Int() >= 0 {
			if r, ok := powInt(self.Int(), y.Int()); ok {
				return IntValue(r)
			}
		}
		a, _ := self.ToFloat()
		b, _ := y.ToFloat()
		return FloatValue(math.Pow(a, b))
	})

	// to_i / to_f / to_s
	vm.DefineMethod(i, "to_i", func(c *Context, self Value) Value { return self })
	vm.DefineMethod(i, "to_f", func(c *Context, self Value) Value {
		return FloatValue(float64(self.Int()))
	})
	vm.DefineMethod(i, "to_s", func(c *Context, self Value) Value {
		c.CheckArgs(0, 1)
		base := 10
		if c.ArgCount() == 1 {
			base = int(c.intArg(0))
			if base < 2 || base > 36 {
				c.Raisef(vm.ArgumentError, "invalid radix %d", base)
			}
		}
		return vm.NewString(strconv.FormatInt(self.Int(), base))
	})
	vm.AliasMethod(i, vm.Symbols.Intern("inspect"), vm.Symbols.Intern("to_s"))

	// even? / odd? / succ / pred
	vm.DefineMethod(i, "even?", func(c *Context, self Value) Value {
		return BoolValue(self.Int()%2 == 0)
	})
	vm.DefineMethod(i, "odd?", func(c *Context, self Value) Value {
		return BoolValue(self.Int()%2 != 0)
	})
	vm.DefineMethod(i, "succ", func(c *Context, self Value) Value {
		return c.must(vm.callArith(OpADD, self, IntValue(1)))
	})
	vm.DefineMethod(i, "pred", func(c *Context, self Value) Value {
		return c.must(vm.callArith(OpSUB, self, IntValue(1)))
	})

	// times - yield 0...self; returns self
	vm.DefineMethod(i, "times", func(c *Context, self Value) Value {
		c.blockProc("no block given (times)")
		for k := int64(0); k < self.Int(); k++ {
			c.Yield(IntValue(k))
		}
		return self
	})

	// upto / downto
	vm.DefineMethod(i, "upto", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		c.blockProc("no block given (upto)")
		for k, last := self.Int(), c.intArg(0); k <= last; k++ {
			c.Yield(IntValue(k))
		}
		return self
	})
	vm.DefineMethod(i, "downto", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		c.blockProc("no block given (downto)")
		for k, last := self.Int(), c.intArg(0); k >= last; k-- {
			c.Yield(IntValue(k))
		}
		return self
	})

	vm.registerFloatPrimitives()
}

// binop returns the method body for a fast-path operator.
func (vm *VM) binop(op Opcode) NativeFunc {
	return func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		y := c.Arg(0)
		v, ok, exc := vm.arith(op, self, y)
		switch {
		case exc.IsObject():
			c.Raise(exc)
		case ok:
			return v
		case op == OpEQ:
			return False
		}
		c.Raisef(vm.TypeError, "%s can't be coerced into %s", vm.RealClassOf(y).Name(), vm.RealClassOf(self).Name())
		return Nil
	}
}

// callArith is arith for callers that only deal in numbers.
func (vm *VM) callArith(op Opcode, x, y Value) (Value, error) {
	v, _, exc := vm.arith(op, x, y)
	if exc.IsObject() {
		return Nil, &thrown{exc: exc}
	}
	return v, nil
}

// numArg returns argument i, raising TypeError unless it is numeric.
func (c *Context) numArg(i int) Value {
	v := c.Arg(i)
	if !v.IsNumeric() {
		c.Raisef(c.vm.TypeError, "%s can't be coerced into Numeric", c.vm.RealClassOf(v).Name())
	}
	return v
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func powInt(base, exp int64) (int64, bool) {
	r := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			var ok bool
			if r, ok = mulInt(r, base); !ok {
				return 0, false
			}
		}
		exp >>= 1
		if exp > 0 {
			var ok bool
			if base, ok = mulInt(base, base); !ok {
				return 0, false
			}
		}
	}
	return r, true
}
