package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// String values
// ---------------------------------------------------------------------------

// NewString creates a String value.
func (vm *VM) NewString(s string) Value {
	return ObjectValue(&RString{RBasic: RBasic{class: vm.StringClass, tt: ObjString}, Str: s})
}

// StringOf returns the contents of a String value.
func StringOf(v Value) (string, bool) {
	s, ok := v.ref.(*RString)
	if !ok {
		return "", false
	}
	return s.Str, true
}

func isString(v Value) bool {
	_, ok := v.ref.(*RString)
	return ok
}

// quoteString renders s as a double-quoted literal.
func quoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		case 0x1b:
			sb.WriteString(`\e`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&sb, "\\x%02X", r)
				continue
			}
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// ---------------------------------------------------------------------------
// String primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerStringPrimitives() {
	s := vm.StringClass

	str := func(v Value) string { return v.ref.(*RString).Str }

	// initialize - String.new(str = "")
	vm.DefineMethod(s, "initialize", func(c *Context, self Value) Value {
		c.CheckArgs(0, 1)
		if c.ArgCount() == 1 {
			self.ref.(*RString).Str = c.stringArg(0)
		}
		return Nil
	})

	// + / * - concatenation and repetition
	vm.DefineMethod(s, "+", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return vm.NewString(str(self) + c.stringArg(0))
	})
	vm.DefineMethod(s, "*", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		n := c.intArg(0)
		if n < 0 {
			c.Raisef(vm.ArgumentError, "negative argument")
		}
		return vm.NewString(strings.Repeat(str(self), int(n)))
	})

	// << - append in place
	vm.DefineMethod(s, "<<", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		rs := self.ref.(*RString)
		if rs.Frozen() {
			c.Raise(vm.frozenError(self))
		}
		rs.Str += c.stringify(c.Arg(0))
		return self
	})

	// == / eql? - content equality
	eq := func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		o, ok := c.Arg(0).ref.(*RString)
		return BoolValue(ok && o.Str == str(self))
	}
	vm.DefineMethod(s, "==", eq)
	vm.DefineMethod(s, "eql?", eq)

	// <=> < > - lexicographic byte order
	vm.DefineMethod(s, "<=>", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		o, ok := c.Arg(0).ref.(*RString)
		if !ok {
			return Nil
		}
		return IntValue(int64(strings.Compare(str(self), o.Str)))
	})
	vm.DefineMethod(s, "<", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(str(self) < c.stringArg(0))
	})
	vm.DefineMethod(s, ">", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(str(self) > c.stringArg(0))
	})

	// length / size / bytesize / empty?
	length := func(c *Context, self Value) Value {
		return IntValue(int64(len([]rune(str(self)))))
	}
	vm.DefineMethod(s, "length", length)
	vm.DefineMethod(s, "size", length)
	vm.DefineMethod(s, "bytesize", func(c *Context, self Value) Value {
		return IntValue(int64(len(str(self))))
	})
	vm.DefineMethod(s, "empty?", func(c *Context, self Value) Value {
		return BoolValue(str(self) == "")
	})

	// [] - character at index
	vm.DefineMethod(s, "[]", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		runes := []rune(str(self))
		i := c.intArg(0)
		if i < 0 {
			i += int64(len(runes))
		}
		if i < 0 || i >= int64(len(runes)) {
			return Nil
		}
		return vm.NewString(string(runes[i]))
	})

	// to_s / to_str / to_sym / inspect / to_i
	vm.DefineMethod(s, "to_s", func(c *Context, self Value) Value { return self })
	vm.DefineMethod(s, "to_str", func(c *Context, self Value) Value { return self })
	vm.DefineMethod(s, "to_sym", func(c *Context, self Value) Value {
		return SymbolValue(vm.Symbols.Intern(str(self)))
	})
	vm.DefineMethod(s, "inspect", func(c *Context, self Value) Value {
		return vm.NewString(quoteString(str(self)))
	})
	vm.DefineMethod(s, "to_i", func(c *Context, self Value) Value {
		n, _ := strconv.ParseInt(leadingInt(str(self)), 10, 64)
		return IntValue(n)
	})

	// upcase / downcase / reverse / strip
	vm.DefineMethod(s, "upcase", func(c *Context, self Value) Value {
		return vm.NewString(strings.ToUpper(str(self)))
	})
	vm.DefineMethod(s, "downcase", func(c *Context, self Value) Value {
		return vm.NewString(strings.ToLower(str(self)))
	})
	vm.DefineMethod(s, "reverse", func(c *Context, self Value) Value {
		runes := []rune(str(self))
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return vm.NewString(string(runes))
	})
	vm.DefineMethod(s, "strip", func(c *Context, self Value) Value {
		return vm.NewString(strings.TrimSpace(str(self)))
	})

	// include? / start_with? / end_with?
	vm.DefineMethod(s, "include?", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(strings.Contains(str(self), c.stringArg(0)))
	})
	vm.DefineMethod(s, "start_with?", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(strings.HasPrefix(str(self), c.stringArg(0)))
	})
	vm.DefineMethod(s, "end_with?", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(strings.HasSuffix(str(self), c.stringArg(0)))
	})

	// split - on a separator, or on whitespace
	vm.DefineMethod(s, "split", func(c *Context, self Value) Value {
		c.CheckArgs(0, 1)
		var parts []string
		if c.ArgCount() == 0 {
			parts = strings.Fields(str(self))
		} else {
			parts = strings.Split(str(self), c.stringArg(0))
		}
		out := make([]Value, len(parts))
		for i, p := range parts {
			out[i] = vm.NewString(p)
		}
		return ObjectValue(vm.NewArray(out...))
	})

	// dup
	vm.DefineMethod(s, "dup", func(c *Context, self Value) Value {
		return vm.NewString(str(self))
	})
}

// stringArg returns argument i as a Go string.
func (c *Context) stringArg(i int) string {
	s, ok := StringOf(c.Arg(i))
	if !ok {
		c.Raisef(c.vm.TypeError, "no implicit conversion of %s into String", c.vm.RealClassOf(c.Arg(i)).Name())
	}
	return s
}

func leadingInt(s string) string {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || (end == 0 && (s[0] == '-' || s[0] == '+'))) {
		end++
	}
	return s[:end]
}
