package vm

import "fmt"

// ---------------------------------------------------------------------------
// Argument passing
// ---------------------------------------------------------------------------

// packedArgs is the count that means "packed": positional arguments travel
// as one Array, keyword arguments as one Hash.
const packedArgs = 15

func argSlots(n int) int {
	if n == packedArgs {
		return 1
	}
	return n
}

func kwSlots(nk int) int {
	if nk == packedArgs {
		return 1
	}
	return 2 * nk
}

// rawArgs reads the arguments of a call laid out at base in the caller's
// format. The returned slice and hash are fresh copies.
func (c *Context) rawArgs(base, n, nk int) (args []Value, kw *RHash, blk Value) {
	i := base + 1
	if n == packedArgs {
		if ary, ok := c.stack[i].ref.(*RArray); ok {
			args = append(args, ary.Elems...)
		}
		i++
	} else {
		args = append(args, c.stack[i:i+n]...)
		i += n
	}
	switch {
	case nk == packedArgs:
		if h, ok := c.stack[i].ref.(*RHash); ok && h.Len() > 0 {
			kw = h.dup()
		}
		i++
	case nk > 0:
		kw = c.vm.NewHash()
		for j := 0; j < nk; j++ {
			kw.Set(c.stack[i], c.stack[i+1])
			i += 2
		}
	}
	return args, kw, c.stack[i]
}

// placeArgs lays out recv and a call's arguments at base and returns the
// counts to record in the frame. Long lists are packed.
func (c *Context) placeArgs(base int, recv Value, args []Value, kw *RHash, blk Value) (n, nk int) {
	c.growStack(base + len(args) + 2*kwLen(kw) + 3)
	c.stack[base] = recv
	i := base + 1
	if len(args) >= packedArgs {
		c.stack[i] = ObjectValue(c.vm.NewArray(args...))
		n = packedArgs
		i++
	} else {
		copy(c.stack[i:], args)
		n = len(args)
		i += n
	}
	if k := kwLen(kw); k >= packedArgs {
		c.stack[i] = ObjectValue(kw.dup())
		nk = packedArgs
		i++
	} else if k > 0 {
		kw.Each(func(key, val Value) {
			c.stack[i], c.stack[i+1] = key, val
			i += 2
		})
		nk = k
	}
	c.stack[i] = blk
	return n, nk
}

func kwLen(kw *RHash) int {
	if kw == nil {
		return 0
	}
	return kw.Len()
}

// ---------------------------------------------------------------------------
// Argument view for native handlers
// ---------------------------------------------------------------------------

// ArgCount returns the number of positional arguments of the current call.
func (c *Context) ArgCount() int {
	ci := c.ci()
	if ci.n == packedArgs {
		if ary, ok := c.stack[ci.base+1].ref.(*RArray); ok {
			return len(ary.Elems)
		}
		return 0
	}
	return int(ci.n)
}

// Arg returns positional argument i, or Nil when out of range.
func (c *Context) Arg(i int) Value {
	ci := c.ci()
	if ci.n == packedArgs {
		if ary, ok := c.stack[ci.base+1].ref.(*RArray); ok && i < len(ary.Elems) {
			return ary.Elems[i]
		}
		return Nil
	}
	if i < 0 || i >= int(ci.n) {
		return Nil
	}
	return c.stack[ci.base+1+i]
}

// Args returns a copy of the positional arguments.
func (c *Context) Args() []Value {
	return c.RestArgs(0)
}

// RestArgs returns a copy of the positional arguments from index from on.
func (c *Context) RestArgs(from int) []Value {
	n := c.ArgCount()
	if from >= n {
		return nil
	}
	out := make([]Value, 0, n-from)
	for i := from; i < n; i++ {
		out = append(out, c.Arg(i))
	}
	return out
}

// Keywords returns the keyword arguments as a fresh Hash, or nil.
func (c *Context) Keywords() *RHash {
	ci := c.ci()
	_, kw, _ := c.rawArgs(ci.base, int(ci.n), int(ci.nk))
	return kw
}

// KeywordArg returns the keyword argument named name.
func (c *Context) KeywordArg(name Symbol) (Value, bool) {
	ci := c.ci()
	i := ci.base + 1 + argSlots(int(ci.n))
	switch {
	case ci.nk == packedArgs:
		if h, ok := c.stack[i].ref.(*RHash); ok {
			return h.Get(SymbolValue(name))
		}
	default:
		for j := 0; j < int(ci.nk); j++ {
			k := c.stack[i+2*j]
			if k.IsSymbol() && k.Sym() == name {
				return c.stack[i+2*j+1], true
			}
		}
	}
	return Nil, false
}

// BlockArg returns the block passed to the current call, or Nil.
func (c *Context) BlockArg() Value {
	ci := c.ci()
	return c.stack[ci.base+1+argSlots(int(ci.n))+kwSlots(int(ci.nk))]
}

// BlockGiven reports whether the current call received a block.
func (c *Context) BlockGiven() bool { return !c.BlockArg().IsNil() }

// CheckArgs raises ArgumentError unless min <= ArgCount() <= max. A
// negative max means no upper bound.
func (c *Context) CheckArgs(min, max int) {
	n := c.ArgCount()
	if n >= min && (max < 0 || n <= max) {
		return
	}
	var want string
	switch {
	case max < 0:
		want = fmt.Sprintf("%d+", min)
	case min == max:
		want = fmt.Sprintf("%d", min)
	default:
		want = fmt.Sprintf("%d..%d", min, max)
	}
	c.Raisef(c.vm.ArgumentError, "wrong number of arguments (given %d, expected %s)", n, want)
}

// ---------------------------------------------------------------------------
// ENTER
// ---------------------------------------------------------------------------

// enter lays out the arguments of the current compiled frame according to
// its Aspec and skips the optional-parameter jump table entries for the
// optionals that were supplied. It returns the exception to raise, if any.
func (c *Context) enter(ci *CallInfo) Value {
	as := ci.irep.Aspec
	args, kw, blk := c.rawArgs(ci.base, int(ci.n), int(ci.nk))
	if !as.HasKeywords() && kw != nil {
		args = append(args, ObjectValue(kw))
		kw = nil
	}

	declared := as.Req + as.Opt + as.Post
	strict := ci.proc.IsStrict()
	if !strict && len(args) == 1 && (declared > 1 || (as.Rest && declared > 0)) {
		if ary, ok := args[0].ref.(*RArray); ok {
			args = append([]Value(nil), ary.Elems...)
		}
	}
	if strict && (len(args) < as.Req+as.Post || (!as.Rest && len(args) > declared)) {
		return c.vm.newErrorf(c.vm.ArgumentError, "wrong number of arguments (given %d, expected %s)", len(args), as.expected())
	}

	var req, opt, rest, post []Value
	if len(args) >= as.Req+as.Post {
		req = args[:as.Req]
		post = args[len(args)-as.Post:]
		mid := args[as.Req : len(args)-as.Post]
		nopt := min(len(mid), as.Opt)
		opt, rest = mid[:nopt], mid[nopt:]
	} else {
		req = args[:min(len(args), as.Req)]
		if len(args) > as.Req {
			post = args[as.Req:]
		}
	}

	top := as.blockIndex() + 1
	if top > ci.nregs {
		c.growStack(ci.base + top)
		ci.nregs = top
	}
	regs := c.stack[ci.base : ci.base+ci.nregs]
	i := 1
	fill := func(vals []Value, count int) {
		for j := 0; j < count; j++ {
			if j < len(vals) {
				regs[i] = vals[j]
			} else {
				regs[i] = Nil
			}
			i++
		}
	}
	fill(req, as.Req)
	fill(opt, as.Opt)
	if as.Rest {
		regs[i] = ObjectValue(c.vm.NewArray(rest...))
		i++
	}
	fill(post, as.Post)
	if as.HasKeywords() {
		if kw == nil {
			kw = c.vm.NewHash()
		}
		regs[i] = ObjectValue(kw)
		i++
	}
	regs[i] = blk
	clear(regs[i+1:])

	if as.Opt > 0 {
		// each jump table entry is one JMP instruction
		ci.pc += len(opt) * (1 + ShapeS.Width())
	}
	return Nil
}

// kdict returns the keyword dict of the current compiled frame.
func (c *Context) kdict(ci *CallInfo) *RHash {
	h, _ := c.stack[ci.base+ci.irep.Aspec.kdictIndex()].ref.(*RHash)
	return h
}
