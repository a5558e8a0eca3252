package vm

import "testing"

func TestMethodCacheHitsAndMisses(t *testing.T) {
	vm, _ := newTestVM(t, Options{})
	cls, err := vm.DefineClass("Cached", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	vm.DefineMethod(cls, "hello", func(c *Context, self Value) Value { return IntValue(1) })
	mid := vm.Intern("hello")

	mc := vm.Cache()
	hits, misses := mc.Hits, mc.Misses
	if _, _, ok := vm.Resolve(cls, mid); !ok {
		t.Fatal("hello not found")
	}
	if _, _, ok := vm.Resolve(cls, mid); !ok {
		t.Fatal("hello not found on the cached path")
	}
	if mc.Misses != misses+1 || mc.Hits != hits+1 {
		t.Errorf("hits/misses = +%d/+%d, want +1/+1", mc.Hits-hits, mc.Misses-misses)
	}

	// misses are memoized too
	missing := vm.Intern("missing")
	vm.Resolve(cls, missing)
	if _, _, ok := vm.Resolve(cls, missing); ok {
		t.Error("cached miss resolved")
	}
}

func TestMethodCacheFlushesOnChange(t *testing.T) {
	vm, _ := newTestVM(t, Options{})
	base, _ := vm.DefineClass("CBase", nil, nil)
	sub, _ := vm.DefineClass("CSub", base, nil)
	vm.DefineMethod(base, "who", constString("base"))
	mid := vm.Intern("who")

	_, owner, _ := vm.Resolve(sub, mid)
	if owner != base {
		t.Fatalf("owner = %s, want CBase", owner.Name())
	}

	// a definition lower in the chain must be seen at once
	flushes := vm.Cache().Flushes
	vm.DefineMethod(sub, "who", constString("sub"))
	if vm.Cache().Flushes == flushes {
		t.Error("define did not flush the cache")
	}
	if _, owner, _ = vm.Resolve(sub, mid); owner != sub {
		t.Errorf("owner after redefine = %s, want CSub", owner.Name())
	}

	// and so must a module inserted into the chain
	m := vm.NewModule()
	vm.DefineMethod(m, "who", constString("mod"))
	if err := vm.PrependModule(sub, m); err != nil {
		t.Fatal(err)
	}
	fn, _, _ := vm.Resolve(sub, mid)
	if fn.Proc() != nil || !fn.IsNative() {
		t.Fatal("resolved a non-native method")
	}
	if got := callString(t, vm, newInstance(t, vm, sub), "who"); got != "mod" {
		t.Errorf("who = %q, want mod", got)
	}

	if !vm.RemoveMethod(sub, mid) {
		t.Error("RemoveMethod found nothing")
	}
	if _, owner, ok := vm.Resolve(sub, mid); !ok || owner == sub {
		t.Errorf("after remove: owner %v ok %v", owner, ok)
	}
}
