package vm

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// ---------------------------------------------------------------------------
// BasicObject, Object and Kernel primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerKernelPrimitives() {
	bo := vm.BasicObjectClass
	k := vm.KernelModule

	// initialize - the default constructor accepts anything
	vm.DefineMethod(bo, "initialize", func(c *Context, self Value) Value {
		return Nil
	})

	// == / equal? - identity
	identity := func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(self.Same(c.Arg(0)))
	}
	vm.DefineMethod(bo, "==", identity)
	vm.DefineMethod(bo, "equal?", identity)

	// != - negated ==, dispatched so user == is honoured
	vm.DefineMethod(bo, "!=", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(!c.Funcall(self, "==", c.Arg(0)).Truthy())
	})

	// ! - logical not
	vm.DefineMethod(bo, "!", func(c *Context, self Value) Value {
		return BoolValue(!self.Truthy())
	})

	// __send__ / send - dynamic dispatch by name
	send := func(c *Context, self Value) Value {
		c.CheckArgs(1, -1)
		mid := c.symbolArg(0)
		return c.FuncallWithBlock(self, c.vm.Symbols.Name(mid), c.RestArgs(1), c.Keywords(), c.BlockArg())
	}
	vm.DefineMethod(bo, "__send__", send)
	vm.DefineMethod(k, "send", send)
	vm.DefineMethod(k, "public_send", send)

	// method_missing - the default handler raises NoMethodError
	vm.defaultMethodMissing = vm.NewNativeProc(func(c *Context, self Value) Value {
		c.CheckArgs(1, -1)
		c.Raise(vm.noMethodError(self, c.symbolArg(0), false))
		return Nil
	})
	bo.defineRaw(vm.symMethodMissing, ProcMethod(vm.defaultMethodMissing))

	// class - the nominal class of the receiver
	vm.DefineMethod(k, "class", func(c *Context, self Value) Value {
		return ObjectValue(vm.RealClassOf(self))
	})

	// singleton_class - the receiver's singleton class, created on demand
	vm.DefineMethod(k, "singleton_class", func(c *Context, self Value) Value {
		sc := vm.singletonClassOf(self)
		if sc == nil {
			c.Raisef(vm.TypeError, "can't define singleton")
		}
		return ObjectValue(sc)
	})

	// is_a? / kind_of? - class membership including modules
	isA := func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(vm.ClassOf(self).IsKindOf(c.classArg(0)))
	}
	vm.DefineMethod(k, "is_a?", isA)
	vm.DefineMethod(k, "kind_of?", isA)

	// instance_of? - exact class
	vm.DefineMethod(k, "instance_of?", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(vm.RealClassOf(self) == c.classArg(0))
	})

	// respond_to? - method lookup without calling
	vm.DefineMethod(k, "respond_to?", func(c *Context, self Value) Value {
		c.CheckArgs(1, 2)
		return BoolValue(vm.RespondTo(self, c.symbolArg(0)))
	})

	// nil?
	vm.DefineMethod(k, "nil?", func(c *Context, self Value) Value {
		return BoolValue(self.IsNil())
	})

	// instance_variable_get / instance_variable_set / instance_variables
	vm.DefineMethod(k, "instance_variable_get", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return ivarGet(self, c.ivarNameArg(0))
	})
	vm.DefineMethod(k, "instance_variable_set", func(c *Context, self Value) Value {
		c.CheckArgs(2, 2)
		if exc := c.ivarSet(self, c.ivarNameArg(0), c.Arg(1)); exc.IsObject() {
			c.Raise(exc)
		}
		return c.Arg(1)
	})
	vm.DefineMethod(k, "instance_variable_defined?", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(self.IsObject() && self.ref.basic().IvarDefined(c.ivarNameArg(0)))
	})
	vm.DefineMethod(k, "instance_variables", func(c *Context, self Value) Value {
		var names []Value
		if self.IsObject() {
			for _, sym := range vm.ivarNames(self.ref.basic()) {
				names = append(names, SymbolValue(sym))
			}
		}
		return ObjectValue(vm.NewArray(names...))
	})

	// extend - include modules into the receiver's singleton class
	vm.DefineMethod(k, "extend", func(c *Context, self Value) Value {
		c.CheckArgs(1, -1)
		sc := vm.singletonClassOf(self)
		if sc == nil {
			c.Raisef(vm.TypeError, "can't define singleton")
		}
		for i := c.ArgCount() - 1; i >= 0; i-- {
			c.includeModule(sc, c.Arg(i), false)
		}
		return self
	})

	// freeze / frozen?
	vm.DefineMethod(k, "freeze", func(c *Context, self Value) Value {
		if self.IsObject() {
			self.ref.basic().Freeze()
		}
		return self
	})
	vm.DefineMethod(k, "frozen?", func(c *Context, self Value) Value {
		return BoolValue(!self.IsObject() || self.ref.basic().Frozen())
	})

	// hash / object_id
	vm.DefineMethod(k, "object_id", func(c *Context, self Value) Value {
		return IntValue(vm.objectID(self))
	})

	// to_s / inspect
	vm.DefineMethod(k, "to_s", func(c *Context, self Value) Value {
		return vm.NewString(vm.defaultToS(self))
	})
	vm.DefineMethod(k, "inspect", func(c *Context, self Value) Value {
		return vm.NewString(vm.Inspect(self))
	})

	// === - case equality defaults to ==
	vm.DefineMethod(k, "===", func(c *Context, self Value) Value {
		c.CheckArgs(1, 1)
		return BoolValue(c.Funcall(self, "==", c.Arg(0)).Truthy())
	})

	// tap / then
	vm.DefineMethod(k, "tap", func(c *Context, self Value) Value {
		c.Yield(self)
		return self
	})
	vm.DefineMethod(k, "then", func(c *Context, self Value) Value {
		return c.Yield(self)
	})

	// puts / print / p - write to Options.Stdout
	vm.DefineMethod(k, "puts", func(c *Context, self Value) Value {
		out := vm.opts.Stdout
		if c.ArgCount() == 0 {
			io.WriteString(out, "\n")
		}
		for _, arg := range c.Args() {
			c.putsValue(out, arg)
		}
		return Nil
	})
	vm.DefineMethod(k, "print", func(c *Context, self Value) Value {
		for _, arg := range c.Args() {
			io.WriteString(vm.opts.Stdout, c.stringify(arg))
		}
		return Nil
	})
	vm.DefineMethod(k, "p", func(c *Context, self Value) Value {
		args := c.Args()
		for _, arg := range args {
			io.WriteString(vm.opts.Stdout, c.inspect(arg)+"\n")
		}
		switch len(args) {
		case 0:
			return Nil
		case 1:
			return args[0]
		}
		return ObjectValue(vm.NewArray(args...))
	})

	// raise - raise an exception from script code
	vm.DefineMethod(k, "raise", func(c *Context, self Value) Value {
		c.CheckArgs(0, 2)
		c.Raise(c.makeException(c.Args()))
		return Nil
	})

	// block_given? - whether the calling method received a block
	vm.DefineMethod(k, "block_given?", func(c *Context, self Value) Value {
		return BoolValue(!c.callerBlock().IsNil())
	})

	// lambda / proc - capture the block as a Proc
	vm.DefineMethod(k, "lambda", func(c *Context, self Value) Value {
		p := c.blockProc("tried to create Proc object without a block")
		if p.IsStrict() {
			return ObjectValue(p)
		}
		l := *p
		l.flags |= FlagProcStrict
		return ObjectValue(&l)
	})
	vm.DefineMethod(k, "proc", func(c *Context, self Value) Value {
		return ObjectValue(c.blockProc("tried to create Proc object without a block"))
	})

	// loop - call the block until it breaks
	vm.DefineMethod(k, "loop", func(c *Context, self Value) Value {
		c.blockProc("no block given (loop)")
		for {
			c.Yield()
		}
	})
}

// ---------------------------------------------------------------------------
// Helpers for native handlers
// ---------------------------------------------------------------------------

// symbolArg returns argument i as a symbol, accepting strings.
func (c *Context) symbolArg(i int) Symbol {
	v := c.Arg(i)
	switch {
	case v.IsSymbol():
		return v.Sym()
	case isString(v):
		return c.vm.Symbols.Intern(v.ref.(*RString).Str)
	}
	c.Raisef(c.vm.TypeError, "%s is not a symbol nor a string", c.vm.Inspect(v))
	return 0
}

// ivarNameArg returns argument i as an instance variable name.
func (c *Context) ivarNameArg(i int) Symbol {
	sym := c.symbolArg(i)
	name := c.vm.Symbols.Name(sym)
	if !strings.HasPrefix(name, "@") || len(name) < 2 {
		c.Raisef(c.vm.NameError, "'%s' is not allowed as an instance variable name", name)
	}
	return sym
}

// classArg returns argument i as a class or module.
func (c *Context) classArg(i int) *RClass {
	k, ok := c.Arg(i).ref.(*RClass)
	if !ok {
		c.Raisef(c.vm.TypeError, "class or module required")
	}
	return k
}

// intArg returns argument i as an int64.
func (c *Context) intArg(i int) int64 {
	v := c.Arg(i)
	switch v.tt {
	case TypeInteger:
		return v.Int()
	case TypeFloat:
		return int64(v.Float())
	}
	c.Raisef(c.vm.TypeError, "no implicit conversion of %s into Integer", c.vm.RealClassOf(v).Name())
	return 0
}

// blockProc returns the block of the current call, raising ArgumentError
// with msg when there is none.
func (c *Context) blockProc(msg string) *RProc {
	p, ok := c.BlockArg().ref.(*RProc)
	if !ok {
		c.Raisef(c.vm.ArgumentError, "%s", msg)
	}
	return p
}

// callerBlock returns the block of the method that called the current
// native handler. Inside a block that is the home method's block.
func (c *Context) callerBlock() Value {
	if len(c.frames) < 2 {
		return Nil
	}
	ci := c.frames[len(c.frames)-2]
	if p := ci.proc; p != nil && !p.IsStrict() && p.upper != nil {
		if home, _ := c.returnTarget(ci); home != nil {
			ci = home
		}
	}
	return ci.blk
}

// makeException builds the exception raised by raise(args...).
func (c *Context) makeException(args []Value) Value {
	vm := c.vm
	switch len(args) {
	case 0:
		if c.exc.IsObject() {
			return c.exc
		}
		return vm.newErrorf(vm.RuntimeError, "unhandled exception")
	case 1:
		if isString(args[0]) {
			return ObjectValue(&RException{
				RBasic:  RBasic{class: vm.RuntimeError, tt: ObjException},
				Message: args[0],
			})
		}
	}
	exc := args[0]
	if k, ok := exc.ref.(*RClass); ok {
		exc = c.Funcall(ObjectValue(k), "new", args[1:]...)
	} else if len(args) > 1 {
		exc = c.Funcall(exc, "exception", args[1:]...)
	}
	if _, ok := exc.ref.(*RException); !ok {
		c.Raisef(vm.TypeError, "exception class/object expected")
	}
	return exc
}

// includeModule mixes the module value m into k.
func (c *Context) includeModule(k *RClass, m Value, prepend bool) {
	mod, ok := m.ref.(*RClass)
	if !ok || !mod.IsModule() {
		c.Raisef(c.vm.TypeError, "wrong argument type %s (expected Module)", c.vm.RealClassOf(m).Name())
	}
	var err error
	if prepend {
		err = c.vm.PrependModule(k, mod)
	} else {
		err = c.vm.IncludeModule(k, mod)
	}
	switch {
	case err == errCyclicInclude:
		c.Raisef(c.vm.ArgumentError, "%s", err)
	case err != nil:
		c.Raisef(c.vm.TypeError, "%s", err)
	}
}

// ---------------------------------------------------------------------------
// String conversion
// ---------------------------------------------------------------------------

// stringify converts v for puts and string interpolation: strings as they
// are, everything else through to_s.
func (c *Context) stringify(v Value) string {
	if s, ok := v.ref.(*RString); ok {
		return s.Str
	}
	if v.IsObject() {
		if s, ok := c.Funcall(v, "to_s").ref.(*RString); ok {
			return s.Str
		}
	}
	return c.vm.defaultToS(v)
}

// inspect calls the receiver's inspect method.
func (c *Context) inspect(v Value) string {
	if !v.IsObject() {
		return c.vm.Inspect(v)
	}
	if s, ok := c.Funcall(v, "inspect").ref.(*RString); ok {
		return s.Str
	}
	return c.vm.Inspect(v)
}

func (c *Context) putsValue(out io.Writer, v Value) {
	if ary, ok := v.ref.(*RArray); ok {
		if len(ary.Elems) == 0 {
			io.WriteString(out, "\n")
		}
		for _, e := range ary.Elems {
			c.putsValue(out, e)
		}
		return
	}
	s := c.stringify(v)
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	io.WriteString(out, s)
}

// defaultToS is to_s without dispatch.
func (vm *VM) defaultToS(v Value) string {
	switch v.tt {
	case TypeNil:
		return ""
	case TypeSymbol:
		return vm.Symbols.Name(v.Sym())
	}
	switch o := v.ref.(type) {
	case *RString:
		return o.Str
	case *RException:
		return vm.exceptionMessage(v)
	case *RObject:
		return "#<" + vm.RealClassOf(v).Name() + ">"
	}
	return vm.Inspect(v)
}

// Inspect renders v without calling script methods.
func (vm *VM) Inspect(v Value) string {
	var sb strings.Builder
	vm.inspectTo(&sb, v, nil)
	return sb.String()
}

func (vm *VM) inspectTo(sb *strings.Builder, v Value, seen map[Object]bool) {
	switch v.tt {
	case TypeNil, TypeTrue, TypeFalse, TypeInteger:
		sb.WriteString(v.String())
		return
	case TypeFloat:
		sb.WriteString(formatFloat(v.Float()))
		return
	case TypeSymbol:
		sb.WriteString(":" + vm.Symbols.Name(v.Sym()))
		return
	}
	if seen[v.ref] {
		switch v.ref.(type) {
		case *RArray:
			sb.WriteString("[...]")
		case *RHash:
			sb.WriteString("{...}")
		default:
			sb.WriteString("...")
		}
		return
	}
	switch o := v.ref.(type) {
	case *RString:
		sb.WriteString(quoteString(o.Str))
	case *RArray:
		seen = markSeen(seen, o)
		sb.WriteByte('[')
		for i, e := range o.Elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			vm.inspectTo(sb, e, seen)
		}
		sb.WriteByte(']')
	case *RHash:
		seen = markSeen(seen, o)
		if o.Len() == 0 {
			sb.WriteString("{}")
			return
		}
		sb.WriteByte('{')
		i := 0
		o.Each(func(key, val Value) {
			if i > 0 {
				sb.WriteString(", ")
			}
			i++
			if key.IsSymbol() {
				sb.WriteString(vm.Symbols.Name(key.Sym()) + ": ")
			} else {
				vm.inspectTo(sb, key, seen)
				sb.WriteString(" => ")
			}
			vm.inspectTo(sb, val, seen)
		})
		sb.WriteByte('}')
	case *RRange:
		vm.inspectTo(sb, o.First, seen)
		if o.Exclusive {
			sb.WriteString("...")
		} else {
			sb.WriteString("..")
		}
		vm.inspectTo(sb, o.Last, seen)
	case *RClass:
		sb.WriteString(o.Name())
	case *RException:
		name := vm.RealClassOf(v).Name()
		msg := vm.exceptionMessage(v)
		if msg == "" || msg == name {
			sb.WriteString(name)
		} else {
			fmt.Fprintf(sb, "#<%s: %s>", name, msg)
		}
	case *RProc:
		if o.IsStrict() && o.irep != nil {
			sb.WriteString("#<Proc (lambda)>")
		} else {
			sb.WriteString("#<Proc>")
		}
	default:
		b := v.ref.basic()
		sb.WriteString("#<" + vm.RealClassOf(v).Name())
		seen = markSeen(seen, v.ref)
		for _, sym := range vm.ivarNames(b) {
			sb.WriteString(" " + vm.Symbols.Name(sym) + "=")
			vm.inspectTo(sb, b.iv[sym], seen)
		}
		sb.WriteByte('>')
	}
}

func markSeen(seen map[Object]bool, o Object) map[Object]bool {
	if seen == nil {
		seen = make(map[Object]bool)
	}
	seen[o] = true
	return seen
}

// ivarNames returns the instance variable names of b in symbol order,
// leaving out constants and bookkeeping entries.
func (vm *VM) ivarNames(b *RBasic) []Symbol {
	var out []Symbol
	for sym := range b.iv {
		if strings.HasPrefix(vm.Symbols.Name(sym), "@") {
			out = append(out, sym)
		}
	}
	slices.Sort(out)
	return out
}

// objectID returns a stable identifier for v.
func (vm *VM) objectID(v Value) int64 {
	switch v.tt {
	case TypeInteger:
		return 2*v.Int() + 1
	case TypeObject:
		b := v.ref.basic()
		if b.id == 0 {
			vm.lastID++
			b.id = vm.lastID
		}
		return int64(b.id) << 3
	}
	return int64(v.tt)<<32 | int64(v.bits&0xffffffff)
}
