package vm

import (
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Float primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerFloatPrimitives() {
	f := vm.FloatClass

	// Constants
	vm.ConstSet(f, vm.Symbols.Intern("INFINITY"), FloatValue(math.Inf(1)))
	vm.ConstSet(f, vm.Symbols.Intern("NAN"), FloatValue(math.NaN()))
	vm.ConstSet(f, vm.Symbols.Intern("EPSILON"), FloatValue(math.Nextafter(1, 2)-1))

	// to_s / inspect
	vm.DefineMethod(f, "to_s", func(c *Context, self Value) Value {
		return vm.NewString(formatFloat(self.Float()))
	})
	vm.AliasMethod(f, vm.Symbols.Intern("inspect"), vm.Symbols.Intern("to_s"))

	vm.DefineMethod(f, "to_f", func(c *Context, self Value) Value { return self })

	// to_i - truncation; NaN and infinities cannot convert
	toI := func(c *Context, self Value) Value {
		return c.floatToInt(math.Trunc(self.Float()))
	}
	vm.DefineMethod(f, "to_i", toI)
	vm.DefineMethod(f, "truncate", toI)

	// floor / ceil / round
	vm.DefineMethod(f, "floor", func(c *Context, self Value) Value {
		return c.floatToInt(math.Floor(self.Float()))
	})
	vm.DefineMethod(f, "ceil", func(c *Context, self Value) Value {
		return c.floatToInt(math.Ceil(self.Float()))
	})
	vm.DefineMethod(f, "round", func(c *Context, self Value) Value {
		return c.floatToInt(math.Round(self.Float()))
	})

	// nan? / infinite? / finite?
	vm.DefineMethod(f, "nan?", func(c *Context, self Value) Value {
		return BoolValue(math.IsNaN(self.Float()))
	})
	vm.DefineMethod(f, "infinite?", func(c *Context, self Value) Value {
		x := self.Float()
		switch {
		case math.IsInf(x, 1):
			return IntValue(1)
		case math.IsInf(x, -1):
			return IntValue(-1)
		}
		return Nil
	})
	vm.DefineMethod(f, "finite?", func(c *Context, self Value) Value {
		x := self.Float()
		return BoolValue(!math.IsInf(x, 0) && !math.IsNaN(x))
	})
}

func (c *Context) floatToInt(x float64) Value {
	if math.IsNaN(x) || math.IsInf(x, 0) || x >= math.MaxInt64 || x < math.MinInt64 {
		c.Raisef(c.vm.RangeError, "float %s out of range of integer", formatFloat(x))
	}
	return IntValue(int64(x))
}

// formatFloat renders a float the way the language prints it: always with
// a fractional part or an exponent.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs == 0 || (abs >= 1e-4 && abs < 1e16) {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	return mant + "e" + exp
}
