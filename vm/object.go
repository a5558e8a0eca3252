package vm

// ---------------------------------------------------------------------------
// Heap objects
// ---------------------------------------------------------------------------

// Object is any heap entity referenced by a Value. Every concrete object
// embeds RBasic, which carries the runtime class, the flags and the
// variant tag.
type Object interface {
	basic() *RBasic
}

// ObjType is the variant tag of a heap object.
type ObjType uint8

const (
	ObjObject ObjType = iota
	ObjClass
	ObjModule
	ObjSClass
	ObjIClass
	ObjProc
	ObjArray
	ObjHash
	ObjString
	ObjRange
	ObjException
	ObjEnv
	ObjFiber
	ObjBreak
)

// Flags are per-object flag bits.
type Flags uint16

const (
	FlagFrozen Flags = 1 << iota
	FlagProcStrict
	FlagProcOrphan
	FlagClassPrepended
	FlagClassOrigin
)

// RBasic is the common object header.
type RBasic struct {
	class *RClass
	flags Flags
	tt    ObjType
	iv    map[Symbol]Value
	id    uint64
}

func (b *RBasic) basic() *RBasic { return b }

// Class returns the runtime class stored in the header (possibly a
// singleton class).
func (b *RBasic) Class() *RClass { return b.class }

// ObjType returns the variant tag.
func (b *RBasic) ObjType() ObjType { return b.tt }

func (b *RBasic) Frozen() bool     { return b.flags&FlagFrozen != 0 }
func (b *RBasic) Freeze()          { b.flags |= FlagFrozen }
func (b *RBasic) has(f Flags) bool { return b.flags&f != 0 }

// IvarGet returns an instance variable, or Nil when unset.
func (b *RBasic) IvarGet(sym Symbol) Value {
	if v, ok := b.iv[sym]; ok {
		return v
	}
	return Nil
}

// IvarSet sets an instance variable.
func (b *RBasic) IvarSet(sym Symbol, v Value) {
	if b.iv == nil {
		b.iv = make(map[Symbol]Value)
	}
	b.iv[sym] = v
}

// IvarDefined reports whether an instance variable has been assigned.
func (b *RBasic) IvarDefined(sym Symbol) bool {
	_, ok := b.iv[sym]
	return ok
}

// ---------------------------------------------------------------------------
// Object variants
// ---------------------------------------------------------------------------

// RObject is a plain instance of a user class.
type RObject struct {
	RBasic
}

// RString is a mutable byte string.
type RString struct {
	RBasic
	Str string
}

// RArray is a growable sequence of values.
type RArray struct {
	RBasic
	Elems []Value
}

// RHash maps keys to values, preserving insertion order.
type RHash struct {
	RBasic
	keys []Value
	vals map[hashKey]int
	vs   []Value
}

// RRange is a numeric or generic range.
type RRange struct {
	RBasic
	First, Last Value
	Exclusive   bool
}

// RException is an exception instance.
type RException struct {
	RBasic
	Message   Value
	Backtrace []string
}

// ---------------------------------------------------------------------------
// Hash storage
// ---------------------------------------------------------------------------

// hashKey is the map key for an RHash entry. Scalars hash by their bits,
// strings by content, other objects by identity.
type hashKey struct {
	tt   Type
	bits uint64
	str  string
	ref  Object
}

func keyOf(v Value) hashKey {
	switch o := v.ref.(type) {
	case nil:
		if v.tt == TypeFloat {
			// 1.0 and 1 are distinct keys, but -0.0 and 0.0 are one key.
			f := v.Float()
			if f == 0 {
				return hashKey{tt: TypeFloat}
			}
		}
		return hashKey{tt: v.tt, bits: v.bits}
	case *RString:
		return hashKey{tt: TypeObject, str: o.Str, bits: 1}
	default:
		return hashKey{tt: TypeObject, ref: o}
	}
}

func (h *RHash) init() {
	if h.vals == nil {
		h.vals = make(map[hashKey]int)
	}
}

// Get returns the value for key.
func (h *RHash) Get(key Value) (Value, bool) {
	if i, ok := h.vals[keyOf(key)]; ok {
		return h.vs[i], true
	}
	return Nil, false
}

// Set stores a value under key.
func (h *RHash) Set(key, val Value) {
	h.init()
	k := keyOf(key)
	if i, ok := h.vals[k]; ok {
		h.vs[i] = val
		return
	}
	h.vals[k] = len(h.keys)
	h.keys = append(h.keys, key)
	h.vs = append(h.vs, val)
}

// Delete removes key and returns its value.
func (h *RHash) Delete(key Value) (Value, bool) {
	k := keyOf(key)
	i, ok := h.vals[k]
	if !ok {
		return Nil, false
	}
	v := h.vs[i]
	delete(h.vals, k)
	h.keys = append(h.keys[:i], h.keys[i+1:]...)
	h.vs = append(h.vs[:i], h.vs[i+1:]...)
	for j := i; j < len(h.keys); j++ {
		h.vals[keyOf(h.keys[j])] = j
	}
	return v, true
}

// Len returns the number of entries.
func (h *RHash) Len() int { return len(h.keys) }

// Keys returns the keys in insertion order.
func (h *RHash) Keys() []Value {
	out := make([]Value, len(h.keys))
	copy(out, h.keys)
	return out
}

// Each calls fn for every entry in insertion order.
func (h *RHash) Each(fn func(k, v Value)) {
	for i, k := range h.keys {
		fn(k, h.vs[i])
	}
}

func (h *RHash) dup() *RHash {
	n := &RHash{RBasic: RBasic{class: h.class, tt: ObjHash}}
	h.Each(n.Set)
	return n
}
