package vm

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options are the engine limits. Zero fields take the defaults.
type Options struct {
	// MaxDepth is the frame depth at which a context overflows.
	MaxDepth int
	// StackSize is the initial value-stack size of a context, in slots.
	StackSize int
	// FrameCapacity is the initial frame-stack capacity of a context.
	FrameCapacity int
	// StepLimit stops a run after this many instructions. 0 disables it.
	StepLimit uint64
	// CheckInterval is the number of instructions between interrupt checks.
	CheckInterval int
	// Stdout receives the output of puts and p.
	Stdout io.Writer
}

// DefaultOptions returns the default engine limits.
func DefaultOptions() Options {
	return Options{
		MaxDepth:      512,
		StackSize:     128,
		FrameCapacity: 16,
		CheckInterval: 1024,
		Stdout:        os.Stdout,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.StackSize <= 0 {
		o.StackSize = d.StackSize
	}
	if o.FrameCapacity <= 0 {
		o.FrameCapacity = d.FrameCapacity
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = d.CheckInterval
	}
	if o.Stdout == nil {
		o.Stdout = d.Stdout
	}
	return o
}

// ---------------------------------------------------------------------------
// VM: the engine
// ---------------------------------------------------------------------------

// VM is one engine instance: the class graph, the symbol table, globals and
// the root execution context. A VM runs one context at a time and is not
// safe for concurrent use.
//
// Each started fiber owns a goroutine. A fiber that is suspended and never
// resumed to completion keeps its goroutine parked until Close, so callers
// that create fibers should Close the VM when done with it.
type VM struct {
	opts Options

	// Global tables
	Symbols *SymbolTable
	cache   *MethodCache
	globals map[Symbol]Value

	// Execution state
	root    *Context
	current *Context
	fibers  map[*RFiber]struct{}

	steps         uint64
	checkInterval uint64
	lastID        uint64

	// Well-known classes
	BasicObjectClass *RClass
	ObjectClass      *RClass
	ModuleClass      *RClass
	ClassClass       *RClass
	KernelModule     *RClass
	NilClass         *RClass
	TrueClass        *RClass
	FalseClass       *RClass
	NumericClass     *RClass
	IntegerClass     *RClass
	FloatClass       *RClass
	SymbolClass      *RClass
	StringClass      *RClass
	ArrayClass       *RClass
	HashClass        *RClass
	RangeClass       *RClass
	ProcClass        *RClass
	FiberClass       *RClass

	// Exception hierarchy
	ExceptionClass    *RClass
	ScriptError       *RClass
	StandardError     *RClass
	ArgumentError     *RClass
	TypeError         *RClass
	NameError         *RClass
	NoMethodError     *RClass
	RuntimeError      *RClass
	FrozenError       *RClass
	LocalJumpError    *RClass
	ZeroDivisionError *RClass
	IndexError        *RClass
	KeyError          *RClass
	RangeError        *RClass
	FiberError        *RClass

	// The top-level self
	main Value

	// Well-known symbols
	symClassName     Symbol
	symOuter         Symbol
	symAttached      Symbol
	symMethodMissing Symbol
	symInitialize    Symbol
	symCall          Symbol
	opSyms           [opCount]Symbol

	// Sentinels compared by pointer during dispatch
	procCall             *RProc
	defaultMethodMissing *RProc
}

// New creates and bootstraps an engine.
func New(opts Options) *VM {
	opts = opts.withDefaults()
	vm := &VM{
		opts:    opts,
		Symbols: NewSymbolTable(),
		cache:   newMethodCache(),
		globals: make(map[Symbol]Value),
		fibers:  make(map[*RFiber]struct{}),
	}
	vm.checkInterval = uint64(opts.CheckInterval)
	if opts.StepLimit > 0 && opts.StepLimit < vm.checkInterval {
		vm.checkInterval = opts.StepLimit
	}

	vm.bootstrap()

	vm.root = vm.newContext()
	vm.current = vm.root
	return vm
}

// Options returns the limits the engine runs with.
func (vm *VM) Options() Options { return vm.opts }

// Cache returns the method cache, for statistics.
func (vm *VM) Cache() *MethodCache { return vm.cache }

func (vm *VM) bootstrap() {
	// Phase 1: well-known symbols
	vm.symClassName = vm.Symbols.Intern("__classname__")
	vm.symOuter = vm.Symbols.Intern("__outer__")
	vm.symAttached = vm.Symbols.Intern("__attached__")
	vm.symMethodMissing = vm.Symbols.Intern("method_missing")
	vm.symInitialize = vm.Symbols.Intern("initialize")
	vm.symCall = vm.Symbols.Intern("call")
	for op, name := range map[Opcode]string{
		OpADD: "+", OpSUB: "-", OpMUL: "*", OpDIV: "/",
		OpEQ: "==", OpLT: "<", OpLE: "<=", OpGT: ">", OpGE: ">=",
	} {
		vm.opSyms[op] = vm.Symbols.Intern(name)
	}

	// Phase 2: the four classes that refer to each other
	vm.BasicObjectClass = vm.allocClass(ObjClass, nil, nil)
	vm.ObjectClass = vm.allocClass(ObjClass, nil, vm.BasicObjectClass)
	vm.ModuleClass = vm.allocClass(ObjClass, nil, vm.ObjectClass)
	vm.ClassClass = vm.allocClass(ObjClass, nil, vm.ModuleClass)
	for name, c := range map[string]*RClass{
		"BasicObject": vm.BasicObjectClass,
		"Object":      vm.ObjectClass,
		"Module":      vm.ModuleClass,
		"Class":       vm.ClassClass,
	} {
		c.class = vm.ClassClass
		vm.setClassName(c, vm.ObjectClass, vm.Symbols.Intern(name))
	}
	// Metaclasses, outermost first so each finds its superclass's.
	for _, c := range []*RClass{vm.BasicObjectClass, vm.ObjectClass, vm.ModuleClass, vm.ClassClass} {
		vm.singletonClassOf(ObjectValue(c))
	}

	// Phase 3: Kernel and the core classes
	vm.KernelModule = vm.mustModule("Kernel")
	if err := vm.IncludeModule(vm.ObjectClass, vm.KernelModule); err != nil {
		panic(err)
	}
	vm.NilClass = vm.mustClass("NilClass", nil)
	vm.TrueClass = vm.mustClass("TrueClass", nil)
	vm.FalseClass = vm.mustClass("FalseClass", nil)
	vm.NumericClass = vm.mustClass("Numeric", nil)
	vm.IntegerClass = vm.mustClass("Integer", vm.NumericClass)
	vm.FloatClass = vm.mustClass("Float", vm.NumericClass)
	vm.SymbolClass = vm.mustClass("Symbol", nil)
	vm.StringClass = vm.mustClass("String", nil)
	vm.ArrayClass = vm.mustClass("Array", nil)
	vm.HashClass = vm.mustClass("Hash", nil)
	vm.RangeClass = vm.mustClass("Range", nil)
	vm.ProcClass = vm.mustClass("Proc", nil)
	vm.FiberClass = vm.mustClass("Fiber", nil)

	// Phase 4: exceptions
	vm.bootstrapExceptionClasses()

	// Phase 5: main
	vm.main = ObjectValue(&RObject{RBasic: RBasic{class: vm.ObjectClass, tt: ObjObject}})
	mainName := func(c *Context, self Value) Value { return vm.NewString("main") }
	sc := vm.singletonClassOf(vm.main)
	vm.DefineMethod(sc, "to_s", mainName)
	vm.DefineMethod(sc, "inspect", mainName)

	// Phase 6: primitives
	vm.registerKernelPrimitives()
	vm.registerModulePrimitives()
	vm.registerNumericPrimitives()
	vm.registerStringPrimitives()
	vm.registerSymbolPrimitives()
	vm.registerArrayPrimitives()
	vm.registerHashPrimitives()
	vm.registerRangePrimitives()
	vm.registerProcPrimitives()
	vm.registerExceptionPrimitives()
	vm.registerFiberPrimitives()
}

func (vm *VM) mustClass(name string, super *RClass) *RClass {
	c, err := vm.DefineClass(name, super, nil)
	if err != nil {
		panic(err)
	}
	return c
}

func (vm *VM) mustModule(name string) *RClass {
	m, err := vm.DefineModule(name, nil)
	if err != nil {
		panic(err)
	}
	return m
}

// ---------------------------------------------------------------------------
// Host interface
// ---------------------------------------------------------------------------

// Run executes a root procedure with self set to main. Script exceptions
// come back as *RaiseError.
func (vm *VM) Run(ctx context.Context, irep *Irep) (Value, error) {
	p := vm.newProc(irep, nil, nil, 0)
	p.target = vm.ObjectClass
	return vm.enter(ctx, func(c *Context) (Value, error) {
		return c.callMethod(vm.main, ProcMethod(p), nil, 0, nil, nil, Nil, CallHost)
	})
}

// Call calls a Proc value with the given arguments.
func (vm *VM) Call(ctx context.Context, proc Value, args ...Value) (Value, error) {
	p, ok := proc.ref.(*RProc)
	if !ok {
		return Nil, fmt.Errorf("vm: Call: %s is not a Proc", vm.Inspect(proc))
	}
	return vm.enter(ctx, func(c *Context) (Value, error) {
		return c.callProc(p, args, nil, Nil, CallHost)
	})
}

// Funcall sends name to recv with the given arguments.
func (vm *VM) Funcall(ctx context.Context, recv Value, name string, args ...Value) (Value, error) {
	mid := vm.Symbols.Intern(name)
	return vm.enter(ctx, func(c *Context) (Value, error) {
		return c.funcall(recv, mid, args, nil, Nil)
	})
}

// enter runs fn on the root context under ctx. A root context killed by a
// fatal error is replaced first.
func (vm *VM) enter(ctx context.Context, fn func(*Context) (Value, error)) (Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	c := vm.current
	if c == nil || c.status == ContextTerminated {
		if c != nil && c != vm.root {
			return Nil, ErrContextDead
		}
		c = vm.newContext()
		vm.root = c
		vm.current = c
	}
	if err := ctx.Err(); err != nil {
		return Nil, &InterruptError{Err: err}
	}

	outermost := c.status != ContextRunning
	prevCtx, prevStatus := c.goctx, c.status
	if outermost {
		vm.steps = 0
	}
	c.goctx = ctx
	c.status = ContextRunning

	v, err := fn(c)

	if c.status != ContextTerminated {
		c.goctx = prevCtx
		c.status = prevStatus
	}
	if err != nil {
		return Nil, vm.hostError(err)
	}
	return v, nil
}

// Close kills every suspended fiber. The VM must not be used afterwards.
func (vm *VM) Close() error {
	for f := range vm.fibers {
		f.kill()
	}
	clear(vm.fibers)
	return nil
}

// Main returns the top-level self.
func (vm *VM) Main() Value { return vm.main }

// Root returns the root execution context.
func (vm *VM) Root() *Context { return vm.root }

// Intern returns the symbol for name.
func (vm *VM) Intern(name string) Symbol { return vm.Symbols.Intern(name) }

// GlobalGet returns the global variable name (with its leading $).
func (vm *VM) GlobalGet(name string) Value {
	return vm.globals[vm.Symbols.Intern(name)]
}

// GlobalSet assigns the global variable name.
func (vm *VM) GlobalSet(name string, v Value) {
	vm.globals[vm.Symbols.Intern(name)] = v
}

// ConstGetName looks up a top-level constant by name.
func (vm *VM) ConstGetName(name string) (Value, bool) {
	return vm.ConstGet(vm.ObjectClass, vm.Symbols.Intern(name))
}
