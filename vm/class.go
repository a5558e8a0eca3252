package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// RClass: classes, modules, singleton classes and include nodes
// ---------------------------------------------------------------------------

// RClass is a node in an ancestor chain. The variant tag in the header
// says which kind of node it is:
//
//   - ObjClass:  an ordinary class
//   - ObjModule: a module (never instantiated, mixed in via include/prepend)
//   - ObjSClass: a singleton class holding per-object methods
//   - ObjIClass: an invisible node standing for one module inclusion; its
//     method table is the module's table and module points back at it
//
// The iv table of a class also stores its constants and the bookkeeping
// entries __classname__ and __outer__.
type RClass struct {
	RBasic
	super  *RClass
	mt     map[Symbol]Method
	origin *RClass // set when the class has been prepended to
	module *RClass // IClass target

	vm *VM
}

// Kind helpers
func (c *RClass) IsModule() bool      { return c.tt == ObjModule }
func (c *RClass) IsSingleton() bool   { return c.tt == ObjSClass }
func (c *RClass) IsIncludeNode() bool { return c.tt == ObjIClass }

// Super returns the next node in the ancestor chain, which may be an
// include node or an origin.
func (c *RClass) Super() *RClass { return c.super }

// Superclass returns the nearest real class above c, skipping include
// nodes and origins.
func (c *RClass) Superclass() *RClass {
	s := c.super
	for s != nil && s.tt == ObjIClass {
		s = s.super
	}
	return s
}

// Origin returns the node holding c's own methods. It is c itself unless
// a module has been prepended to c.
func (c *RClass) Origin() *RClass {
	if c.origin != nil {
		return c.origin
	}
	return c
}

// Real returns the nominal class for a node: include nodes resolve to
// their module, singleton classes and origins are skipped.
func (c *RClass) Real() *RClass {
	for c != nil && (c.tt == ObjSClass || c.tt == ObjIClass) {
		c = c.super
	}
	return c
}

// Name returns the class name, qualified by its lexical outer classes.
func (c *RClass) Name() string {
	if c == nil {
		return ""
	}
	if c.tt == ObjIClass {
		return c.module.Name()
	}
	v := c.IvarGet(c.vm.symClassName)
	if !v.IsSymbol() {
		if c.tt == ObjSClass {
			return "#<Class:" + c.attached().String() + ">"
		}
		return "#<Class>"
	}
	name := c.vm.Symbols.Name(v.Sym())
	outer := c.IvarGet(c.vm.symOuter)
	if oc, ok := outer.ref.(*RClass); ok && oc != c.vm.ObjectClass {
		return oc.Name() + "::" + name
	}
	return name
}

func (c *RClass) attached() Value {
	return c.IvarGet(c.vm.symAttached)
}

// ---------------------------------------------------------------------------
// Method tables
// ---------------------------------------------------------------------------

// table returns the method table consulted when the walk reaches c.
func (c *RClass) table() map[Symbol]Method {
	return c.mt
}

// defineRaw stores m under mid in the class's own table (its origin when
// prepended) and invalidates the method cache.
func (c *RClass) defineRaw(mid Symbol, m Method) {
	o := c.Origin()
	if o.mt == nil {
		o.mt = make(map[Symbol]Method)
	}
	o.mt[mid] = m
	c.vm.cache.flush()
}

// HasOwnMethod reports whether c itself defines mid (ignoring ancestors).
func (c *RClass) HasOwnMethod(mid Symbol) bool {
	m, ok := c.Origin().mt[mid]
	return ok && m.Defined()
}

// ---------------------------------------------------------------------------
// Ancestor chain
// ---------------------------------------------------------------------------

// Ancestors returns the chain as the language shows it: include nodes are
// replaced by their modules and prepended classes appear at their origin.
func (c *RClass) Ancestors() []*RClass {
	var out []*RClass
	for p := c; p != nil; p = p.super {
		switch {
		case p.tt == ObjIClass:
			out = append(out, p.module)
		case p.tt == ObjSClass:
		case p.origin != nil:
			// shown at the position of its origin
		default:
			out = append(out, p)
		}
	}
	return out
}

// IncludesModule reports whether m appears anywhere in c's chain.
func (c *RClass) IncludesModule(m *RClass) bool {
	for p := c; p != nil; p = p.super {
		if p == m || (p.tt == ObjIClass && p.module == m) {
			return true
		}
	}
	return false
}

// IsKindOf reports whether an object of class c is_a? target.
func (c *RClass) IsKindOf(target *RClass) bool {
	if target.tt == ObjIClass {
		target = target.module
	}
	return c.IncludesModule(target)
}

// assertAcyclic walks the super chain with a tortoise and a hare. A cycle
// means the chain is corrupt.
func (c *RClass) assertAcyclic() {
	slow, fast := c, c
	for fast != nil && fast.super != nil {
		slow = slow.super
		fast = fast.super.super
		if slow == fast {
			panic(fmt.Sprintf("vm: ancestor chain of %s is cyclic", c.Name()))
		}
	}
}

func (vm *VM) newIncludeNode(m, super *RClass) *RClass {
	target := m
	if m.tt == ObjIClass {
		target = m.module
	}
	ic := &RClass{
		RBasic: RBasic{class: vm.ClassClass, tt: ObjIClass},
		super:  super,
		mt:     target.Origin().mt,
		module: target,
		vm:     vm,
	}
	if ic.mt == nil {
		target.Origin().mt = make(map[Symbol]Method)
		ic.mt = target.Origin().mt
	}
	return ic
}

// includeAt splices m (and the modules m itself includes) into c's chain
// right after insPos. Modules already present are skipped.
func (vm *VM) includeAt(c, insPos, m *RClass, searchSuper bool) {
	for ; m != nil; m = m.super {
		if m.tt == ObjClass || m.tt == ObjSClass {
			break
		}
		if m.has(FlagClassOrigin) {
			continue
		}
		target := m
		if m.tt == ObjIClass {
			target = m.module
		}
		present := false
		superclassSeen := false
		for p := c.super; p != nil; p = p.super {
			if p.tt == ObjIClass && !p.has(FlagClassOrigin) {
				if p.module == target {
					if !superclassSeen && searchSuper {
						insPos = p
					}
					present = true
					break
				}
			} else if p.tt == ObjClass {
				if !searchSuper {
					break
				}
				superclassSeen = true
			}
		}
		if present {
			continue
		}
		ic := vm.newIncludeNode(target, insPos.super)
		insPos.super = ic
		insPos = ic
	}
}

// IncludeModule mixes m into c after c's own methods.
func (vm *VM) IncludeModule(c, m *RClass) error {
	if err := vm.checkCyclicInclude(c, m); err != nil {
		return err
	}
	vm.includeAt(c, c.Origin(), m, true)
	c.assertAcyclic()
	vm.cache.flush()
	log.Debugf("include %s into %s", m.Name(), c.Name())
	return nil
}

// PrependModule mixes m into c ahead of c's own methods.
func (vm *VM) PrependModule(c, m *RClass) error {
	if err := vm.checkCyclicInclude(c, m); err != nil {
		return err
	}
	if c.origin == nil {
		origin := &RClass{
			RBasic: RBasic{class: vm.ClassClass, tt: ObjIClass, flags: FlagClassOrigin},
			super:  c.super,
			mt:     c.mt,
			module: c,
			vm:     vm,
		}
		if origin.mt == nil {
			origin.mt = make(map[Symbol]Method)
		}
		c.super = origin
		c.mt = make(map[Symbol]Method)
		c.origin = origin
		c.flags |= FlagClassPrepended
	}
	vm.includeAt(c, c, m, false)
	c.assertAcyclic()
	vm.cache.flush()
	log.Debugf("prepend %s to %s", m.Name(), c.Name())
	return nil
}

func (vm *VM) checkCyclicInclude(c, m *RClass) error {
	if m.tt != ObjModule {
		return fmt.Errorf("wrong argument type %s (expected Module)", m.Name())
	}
	if c == m || m.IncludesModule(c) {
		return errCyclicInclude
	}
	return nil
}

// ---------------------------------------------------------------------------
// Class creation
// ---------------------------------------------------------------------------

func (vm *VM) allocClass(tt ObjType, meta *RClass, super *RClass) *RClass {
	return &RClass{
		RBasic: RBasic{class: meta, tt: tt},
		super:  super,
		mt:     make(map[Symbol]Method),
		vm:     vm,
	}
}

// setClassName records name and lexical outer, and registers the class as
// a constant of outer.
func (vm *VM) setClassName(c *RClass, outer *RClass, name Symbol) {
	c.IvarSet(vm.symClassName, SymbolValue(name))
	if outer != nil {
		c.IvarSet(vm.symOuter, ObjectValue(outer))
		outer.IvarSet(name, ObjectValue(c))
	}
}

// DefineClass creates a class under outer (Object when nil). When a class
// of that name already exists it is returned if the superclass agrees.
func (vm *VM) DefineClass(name string, super *RClass, outer *RClass) (*RClass, error) {
	if outer == nil {
		outer = vm.ObjectClass
	}
	sym := vm.Symbols.Intern(name)
	if v, ok := outer.iv[sym]; ok {
		existing, isClass := v.ref.(*RClass)
		if !isClass || existing.tt != ObjClass {
			return nil, fmt.Errorf("%s is not a class", name)
		}
		if super != nil && existing.Superclass() != super {
			return nil, fmt.Errorf("superclass mismatch for class %s", name)
		}
		return existing, nil
	}
	if super == nil {
		super = vm.ObjectClass
	}
	if super.tt != ObjClass {
		return nil, fmt.Errorf("superclass must be a Class")
	}
	c := vm.allocClass(ObjClass, vm.ClassClass, super)
	vm.setClassName(c, outer, sym)
	// Class methods of the superclass must be visible from the start.
	vm.singletonClassOf(ObjectValue(c))
	log.Debugf("define class %s < %s", c.Name(), super.Name())
	return c, nil
}

// DefineModule creates a module under outer (Object when nil), or returns
// the existing one.
func (vm *VM) DefineModule(name string, outer *RClass) (*RClass, error) {
	if outer == nil {
		outer = vm.ObjectClass
	}
	sym := vm.Symbols.Intern(name)
	if v, ok := outer.iv[sym]; ok {
		existing, isClass := v.ref.(*RClass)
		if !isClass || existing.tt != ObjModule {
			return nil, fmt.Errorf("%s is not a module", name)
		}
		return existing, nil
	}
	m := vm.allocClass(ObjModule, vm.ModuleClass, nil)
	vm.setClassName(m, outer, sym)
	log.Debugf("define module %s", m.Name())
	return m, nil
}

// NewModule creates an anonymous module.
func (vm *VM) NewModule() *RClass {
	return vm.allocClass(ObjModule, vm.ModuleClass, nil)
}

// ---------------------------------------------------------------------------
// Singleton classes
// ---------------------------------------------------------------------------

// singletonClassOf returns v's singleton class, creating it on first use.
// Immediates have no singleton class and yield nil.
func (vm *VM) singletonClassOf(v Value) *RClass {
	if !v.IsObject() {
		return nil
	}
	b := v.ref.basic()
	if b.class != nil && b.class.tt == ObjSClass && b.class.attached().Same(v) {
		return b.class
	}
	var super *RClass
	if c, ok := v.ref.(*RClass); ok && c.tt == ObjClass {
		// The singleton of a class inherits the singleton of its superclass.
		if sc := c.Superclass(); sc != nil {
			super = vm.singletonClassOf(ObjectValue(sc))
		} else {
			super = vm.ClassClass
		}
	} else {
		super = b.class
	}
	meta := vm.ClassClass
	sc := vm.allocClass(ObjSClass, meta, super)
	sc.IvarSet(vm.symAttached, v)
	b.class = sc
	vm.cache.flush()
	return sc
}

// ClassOf returns the class used for method lookup on v (a singleton
// class when v has one).
func (vm *VM) ClassOf(v Value) *RClass {
	switch v.tt {
	case TypeNil:
		return vm.NilClass
	case TypeTrue:
		return vm.TrueClass
	case TypeFalse:
		return vm.FalseClass
	case TypeInteger:
		return vm.IntegerClass
	case TypeFloat:
		return vm.FloatClass
	case TypeSymbol:
		return vm.SymbolClass
	}
	return v.ref.basic().class
}

// RealClassOf returns the nominal class of v.
func (vm *VM) RealClassOf(v Value) *RClass {
	return vm.ClassOf(v).Real()
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

func isConstName(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

// ConstGet looks up a constant in c and its ancestors, then in Object.
func (vm *VM) ConstGet(c *RClass, sym Symbol) (Value, bool) {
	for p := c; p != nil; p = p.super {
		holder := p
		if p.tt == ObjIClass {
			holder = p.module
		}
		if v, ok := holder.iv[sym]; ok {
			return v, true
		}
	}
	if v, ok := vm.ObjectClass.iv[sym]; ok {
		return v, true
	}
	return Nil, false
}

// ConstSet defines a constant on c, naming anonymous classes on the way.
func (vm *VM) ConstSet(c *RClass, sym Symbol, v Value) {
	if k, ok := v.ref.(*RClass); ok && !k.IvarDefined(vm.symClassName) {
		vm.setClassName(k, c, sym)
		return
	}
	c.IvarSet(sym, v)
}

// constNames returns the constants defined directly on c.
func (vm *VM) constNames(c *RClass) []string {
	var names []string
	for sym := range c.iv {
		if n := vm.Symbols.Name(sym); isConstName(n) && !strings.HasPrefix(n, "__") {
			names = append(names, n)
		}
	}
	return names
}
