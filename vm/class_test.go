package vm

import (
	"context"
	"errors"
	"slices"
	"testing"
)

// ---------------------------------------------------------------------------
// Class graph
// ---------------------------------------------------------------------------

func ancestorNames(k *RClass) []string {
	var out []string
	for _, a := range k.Ancestors() {
		out = append(out, a.Name())
	}
	return out
}

func constString(v string) NativeFunc {
	return func(c *Context, self Value) Value { return c.vm.NewString(v) }
}

func callString(t *testing.T, vm *VM, recv Value, name string, args ...Value) string {
	t.Helper()
	v, err := vm.Funcall(context.Background(), recv, name, args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	s, ok := StringOf(v)
	if !ok {
		t.Fatalf("%s returned %s, want a String", name, vm.Inspect(v))
	}
	return s
}

func newInstance(t *testing.T, vm *VM, k *RClass, args ...Value) Value {
	t.Helper()
	v, err := vm.Funcall(context.Background(), ObjectValue(k), "new", args...)
	if err != nil {
		t.Fatalf("%s.new: %v", k.Name(), err)
	}
	return v
}

func TestBootstrapHierarchy(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	if got := ancestorNames(vm.IntegerClass); !slices.Equal(got, []string{"Integer", "Numeric", "Object", "Kernel", "BasicObject"}) {
		t.Errorf("Integer.ancestors = %v", got)
	}
	if vm.ClassClass.Superclass() != vm.ModuleClass || vm.ModuleClass.Superclass() != vm.ObjectClass {
		t.Error("Class < Module < Object broken")
	}
	if vm.RealClassOf(ObjectValue(vm.ObjectClass)) != vm.ClassClass {
		t.Error("Object.class is not Class")
	}
	if !vm.KeyError.IsKindOf(vm.IndexError) || !vm.NoMethodError.IsKindOf(vm.NameError) {
		t.Error("exception hierarchy broken")
	}
	if v, ok := vm.ConstGetName("Kernel"); !ok || v.ref != vm.KernelModule {
		t.Error("Kernel is not a constant of Object")
	}
}

func TestInheritedMethods(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	animal := vm.mustClass("Animal", nil)
	dog := vm.mustClass("Dog", animal)
	vm.DefineMethod(animal, "speak", constString("..."))
	vm.DefineMethod(animal, "kind", constString("animal"))
	vm.DefineMethod(dog, "speak", constString("woof"))

	d := newInstance(t, vm, dog)
	if got := callString(t, vm, d, "speak"); got != "woof" {
		t.Errorf("speak = %q", got)
	}
	if got := callString(t, vm, d, "kind"); got != "animal" {
		t.Errorf("kind = %q", got)
	}
	if got := ancestorNames(dog); !slices.Equal(got, []string{"Dog", "Animal", "Object", "Kernel", "BasicObject"}) {
		t.Errorf("ancestors = %v", got)
	}
}

func TestClassMethodsAreInherited(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	animal := vm.mustClass("Animal", nil)
	dog := vm.mustClass("Dog", animal)
	// defined after Dog exists; Dog's metaclass already chains to Animal's
	vm.DefineClassMethod(animal, "create", func(c *Context, self Value) Value {
		return c.Funcall(self, "new")
	})

	v, err := vm.Funcall(context.Background(), ObjectValue(dog), "create")
	if err != nil {
		t.Fatal(err)
	}
	if vm.RealClassOf(v) != dog {
		t.Errorf("Dog.create made a %s", vm.RealClassOf(v).Name())
	}
}

func TestIncludeOrder(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	m := vm.mustModule("Greeter")
	vm.DefineMethod(m, "hi", constString("module"))

	own := vm.mustClass("Own", nil)
	vm.DefineMethod(own, "hi", constString("class"))
	if err := vm.IncludeModule(own, m); err != nil {
		t.Fatal(err)
	}
	plain := vm.mustClass("Plain", nil)
	if err := vm.IncludeModule(plain, m); err != nil {
		t.Fatal(err)
	}

	if got := callString(t, vm, newInstance(t, vm, own), "hi"); got != "class" {
		t.Errorf("own method should win over the module, got %q", got)
	}
	if got := callString(t, vm, newInstance(t, vm, plain), "hi"); got != "module" {
		t.Errorf("module method not found, got %q", got)
	}
	if got := ancestorNames(plain); !slices.Equal(got[:3], []string{"Plain", "Greeter", "Object"}) {
		t.Errorf("ancestors = %v", got)
	}

	// including twice does not add a second node
	if err := vm.IncludeModule(plain, m); err != nil {
		t.Fatal(err)
	}
	if got := ancestorNames(plain); len(got) != 5 {
		t.Errorf("ancestors after re-include = %v", got)
	}
}

func TestPrependOrder(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	m := vm.mustModule("Loud")
	vm.DefineMethod(m, "hi", func(c *Context, self Value) Value {
		return c.vm.NewString("LOUD " + c.stringify(c.Funcall(self, "quiet")))
	})
	k := vm.mustClass("Speaker", nil)
	vm.DefineMethod(k, "hi", constString("class"))
	vm.DefineMethod(k, "quiet", constString("hi"))
	if err := vm.PrependModule(k, m); err != nil {
		t.Fatal(err)
	}

	if got := callString(t, vm, newInstance(t, vm, k), "hi"); got != "LOUD hi" {
		t.Errorf("hi = %q", got)
	}
	if got := ancestorNames(k); !slices.Equal(got[:3], []string{"Loud", "Speaker", "Object"}) {
		t.Errorf("ancestors = %v", got)
	}

	// methods defined after the prepend still land below the module
	vm.DefineMethod(k, "late", constString("late"))
	if got := callString(t, vm, newInstance(t, vm, k), "late"); got != "late" {
		t.Errorf("late = %q", got)
	}
}

func TestCyclicInclude(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	a := vm.mustModule("A")
	b := vm.mustModule("B")
	if err := vm.IncludeModule(b, a); err != nil {
		t.Fatal(err)
	}
	if err := vm.IncludeModule(a, b); err != errCyclicInclude {
		t.Fatalf("IncludeModule(A, B) = %v, want cyclic include", err)
	}

	_, err := vm.Funcall(context.Background(), ObjectValue(a), "include", ObjectValue(a))
	var re *RaiseError
	if !errors.As(err, &re) || re.Class != "ArgumentError" {
		t.Fatalf("A.include(A) = %v, want ArgumentError", err)
	}

	// the rejected includes left both chains finite and unchanged
	if got := ancestorNames(a); !slices.Equal(got, []string{"A"}) {
		t.Errorf("A ancestors = %v", got)
	}
	if got := ancestorNames(b); !slices.Equal(got, []string{"B", "A"}) {
		t.Errorf("B ancestors = %v", got)
	}
	k := vm.mustClass("UsesB", nil)
	if err := vm.IncludeModule(k, b); err != nil {
		t.Fatal(err)
	}
	if got := ancestorNames(k); !slices.Equal(got[:4], []string{"UsesB", "B", "A", "Object"}) {
		t.Errorf("UsesB ancestors = %v", got)
	}
	if !k.IncludesModule(a) {
		t.Error("UsesB does not include A through B")
	}
}

func TestLaterOwnDefinitionWinsOverModule(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	m := vm.mustModule("Fooable")
	vm.DefineMethod(m, "foo", constString("M#foo"))
	k := vm.mustClass("Holder", nil)
	if err := vm.IncludeModule(k, m); err != nil {
		t.Fatal(err)
	}
	obj := newInstance(t, vm, k)

	if got := callString(t, vm, obj, "foo"); got != "M#foo" {
		t.Fatalf("foo before own definition = %q", got)
	}
	vm.DefineMethod(k, "foo", constString("A#foo"))
	if got := callString(t, vm, obj, "foo"); got != "A#foo" {
		t.Errorf("foo after own definition = %q, want A#foo", got)
	}
	if _, owner, _ := vm.Resolve(k, vm.Intern("foo")); owner != k {
		t.Errorf("foo resolved in %s", owner.Name())
	}
}

func TestSingletonMethods(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	k := vm.mustClass("Thing", nil)
	a := newInstance(t, vm, k)
	b := newInstance(t, vm, k)

	vm.DefineMethod(vm.singletonClassOf(a), "special", constString("yes"))
	if got := callString(t, vm, a, "special"); got != "yes" {
		t.Errorf("special = %q", got)
	}
	if _, err := vm.Funcall(context.Background(), b, "special"); err == nil {
		t.Error("singleton method leaked to another instance")
	}
	if vm.RealClassOf(a) != k {
		t.Errorf("class of a is %s", vm.RealClassOf(a).Name())
	}
	if vm.singletonClassOf(IntValue(1)) != nil {
		t.Error("immediates must not get singleton classes")
	}
}

func TestUndefAndRemoveMethod(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	parent := vm.mustClass("Parent", nil)
	child := vm.mustClass("Child", parent)
	vm.DefineMethod(parent, "greet", constString("parent"))
	vm.DefineMethod(child, "greet", constString("child"))
	obj := newInstance(t, vm, child)

	if !vm.RemoveMethod(child, vm.Intern("greet")) {
		t.Fatal("RemoveMethod reported nothing removed")
	}
	if got := callString(t, vm, obj, "greet"); got != "parent" {
		t.Errorf("after remove_method greet = %q", got)
	}

	vm.UndefMethod(child, "greet")
	if vm.RespondTo(obj, vm.Intern("greet")) {
		t.Error("undef_method did not hide the inherited method")
	}
	if !vm.RespondTo(newInstance(t, vm, parent), vm.Intern("greet")) {
		t.Error("undef_method on Child affected Parent")
	}
}

func TestAliasMethod(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	k := vm.mustClass("Named", nil)
	vm.DefineMethod(k, "name", constString("original"))
	if !vm.AliasMethod(k, vm.Intern("old_name"), vm.Intern("name")) {
		t.Fatal("AliasMethod failed")
	}
	vm.DefineMethod(k, "name", constString("new"))

	obj := newInstance(t, vm, k)
	if got := callString(t, vm, obj, "old_name"); got != "original" {
		t.Errorf("alias follows redefinition: %q", got)
	}
	if vm.AliasMethod(k, vm.Intern("x"), vm.Intern("missing")) {
		t.Error("aliasing a missing method succeeded")
	}
}

func TestMethodCacheFlushedOnRedefinition(t *testing.T) {
	vm, _ := newTestVM(t, Options{})

	k := vm.mustClass("Cached", nil)
	vm.DefineMethod(k, "v", constString("one"))
	obj := newInstance(t, vm, k)

	if got := callString(t, vm, obj, "v"); got != "one" {
		t.Fatalf("v = %q", got)
	}
	if vm.Cache().Len() == 0 {
		t.Error("lookup was not cached")
	}
	vm.DefineMethod(k, "v", constString("two"))
	if got := callString(t, vm, obj, "v"); got != "two" {
		t.Errorf("stale cache: v = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Reflection from script code
// ---------------------------------------------------------------------------

func TestAttrAccessorAndIvars(t *testing.T) {
	vm, _ := newTestVM(t, Options{})
	ctx := context.Background()

	k := vm.mustClass("Point", nil)
	if _, err := vm.Funcall(ctx, ObjectValue(k), "attr_accessor", SymbolValue(vm.Intern("x"))); err != nil {
		t.Fatal(err)
	}
	p := newInstance(t, vm, k)
	if _, err := vm.Funcall(ctx, p, "x=", IntValue(5)); err != nil {
		t.Fatal(err)
	}
	v, err := vm.Funcall(ctx, p, "x")
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, vm, v, 5)

	if got := vm.Inspect(p); got != "#<Point @x=5>" {
		t.Errorf("inspect = %q", got)
	}

	if _, err := vm.Funcall(ctx, p, "freeze"); err != nil {
		t.Fatal(err)
	}
	_, err = vm.Funcall(ctx, p, "x=", IntValue(6))
	var re *RaiseError
	if !errors.As(err, &re) || re.Class != "FrozenError" {
		t.Fatalf("write to frozen object: %v", err)
	}
}

func TestClassNewWithSuperclass(t *testing.T) {
	vm, _ := newTestVM(t, Options{})
	ctx := context.Background()

	base := vm.mustClass("Base", nil)
	vm.DefineMethod(base, "hello", constString("base"))

	v, err := vm.Funcall(ctx, ObjectValue(vm.ClassClass), "new", ObjectValue(base))
	if err != nil {
		t.Fatal(err)
	}
	anon := v.ref.(*RClass)
	if anon.Superclass() != base {
		t.Fatalf("superclass = %s", anon.Superclass().Name())
	}
	if got := callString(t, vm, newInstance(t, vm, anon), "hello"); got != "base" {
		t.Errorf("hello = %q", got)
	}

	_, err = vm.Funcall(ctx, ObjectValue(vm.IntegerClass), "new")
	var re *RaiseError
	if !errors.As(err, &re) || re.Class != "TypeError" {
		t.Fatalf("Integer.new = %v", err)
	}
}

func TestIsAAndRespondTo(t *testing.T) {
	vm, _ := newTestVM(t, Options{})
	ctx := context.Background()

	m := vm.mustModule("Walker")
	k := vm.mustClass("Robot", nil)
	if err := vm.IncludeModule(k, m); err != nil {
		t.Fatal(err)
	}
	r := newInstance(t, vm, k)

	for _, tc := range []struct {
		recv Value
		name string
		arg  Value
		want bool
	}{
		{r, "is_a?", ObjectValue(m), true},
		{r, "is_a?", ObjectValue(vm.ObjectClass), true},
		{r, "instance_of?", ObjectValue(vm.ObjectClass), false},
		{r, "respond_to?", SymbolValue(vm.Intern("inspect")), true},
		{r, "respond_to?", SymbolValue(vm.Intern("fly")), false},
		{IntValue(3), "is_a?", ObjectValue(vm.NumericClass), true},
		{Nil, "nil?", Nil, true},
	} {
		var args []Value
		if tc.name != "nil?" {
			args = []Value{tc.arg}
		}
		v, err := vm.Funcall(ctx, tc.recv, tc.name, args...)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if v.Truthy() != tc.want {
			t.Errorf("%s.%s(%s) = %v, want %v", vm.Inspect(tc.recv), tc.name, vm.Inspect(tc.arg), v.Truthy(), tc.want)
		}
	}
}
