package vm

import (
	"math"
	"strconv"
)

// Value is the universal value type of the engine.
//
// A Value is a small copyable struct. Scalars (nil, booleans, symbols,
// integers, floats) live entirely in the tag and the 64-bit payload and never
// allocate. Heap entities are carried in ref; a Value is a reference exactly
// when ref is non-nil, which makes the reference test a single comparison.
//
// Encoding:
//   - Integer: payload holds the int64 two's complement bits
//   - Float:   payload holds the IEEE 754 bits (NaN payloads preserved)
//   - Symbol:  payload holds the symbol ID
//   - Object:  ref holds the heap object, payload unused
type Value struct {
	tt   Type
	bits uint64
	ref  Object
}

// Type is the coarse kind of a Value.
type Type uint8

const (
	TypeNil Type = iota
	TypeFalse
	TypeTrue
	TypeSymbol
	TypeInteger
	TypeFloat
	TypeObject
)

var typeNames = [...]string{
	TypeNil:     "nil",
	TypeFalse:   "false",
	TypeTrue:    "true",
	TypeSymbol:  "symbol",
	TypeInteger: "integer",
	TypeFloat:   "float",
	TypeObject:  "object",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// Pre-defined special values
var (
	Nil   = Value{tt: TypeNil}
	True  = Value{tt: TypeTrue}
	False = Value{tt: TypeFalse}
)

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// IntValue creates an Integer value.
func IntValue(n int64) Value {
	return Value{tt: TypeInteger, bits: uint64(n)}
}

// FloatValue creates a Float value. The bits of f are kept exactly.
func FloatValue(f float64) Value {
	return Value{tt: TypeFloat, bits: math.Float64bits(f)}
}

// SymbolValue creates a Symbol value.
func SymbolValue(sym Symbol) Value {
	return Value{tt: TypeSymbol, bits: uint64(sym)}
}

// BoolValue returns True or False.
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// ObjectValue wraps a heap object. A nil object yields Nil.
func ObjectValue(o Object) Value {
	if o == nil {
		return Nil
	}
	return Value{tt: TypeObject, ref: o}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Type returns the coarse kind of v.
func (v Value) Type() Type { return v.tt }

// IsObject reports whether v references a heap object.
func (v Value) IsObject() bool { return v.ref != nil }

func (v Value) IsNil() bool     { return v.tt == TypeNil }
func (v Value) IsInteger() bool { return v.tt == TypeInteger }
func (v Value) IsFloat() bool   { return v.tt == TypeFloat }
func (v Value) IsSymbol() bool  { return v.tt == TypeSymbol }

// IsNumeric reports whether v is an Integer or a Float.
func (v Value) IsNumeric() bool { return v.tt == TypeInteger || v.tt == TypeFloat }

// Truthy reports whether v counts as true in a condition (anything but nil
// and false).
func (v Value) Truthy() bool { return v.tt != TypeNil && v.tt != TypeFalse }

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Int returns v as an int64. Panics if v is not an Integer.
func (v Value) Int() int64 {
	if v.tt != TypeInteger {
		panic("Value.Int: not an integer")
	}
	return int64(v.bits)
}

// Float returns v as a float64. Panics if v is not a Float.
func (v Value) Float() float64 {
	if v.tt != TypeFloat {
		panic("Value.Float: not a float")
	}
	return math.Float64frombits(v.bits)
}

// Sym returns the symbol ID of v. Panics if v is not a Symbol.
func (v Value) Sym() Symbol {
	if v.tt != TypeSymbol {
		panic("Value.Sym: not a symbol")
	}
	return Symbol(v.bits)
}

// Obj returns the heap object referenced by v, or nil for scalars.
func (v Value) Obj() Object { return v.ref }

// ToFloat converts a numeric value to float64.
func (v Value) ToFloat() (float64, bool) {
	switch v.tt {
	case TypeInteger:
		return float64(int64(v.bits)), true
	case TypeFloat:
		return math.Float64frombits(v.bits), true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Identity and equality
// ---------------------------------------------------------------------------

// Same reports identity: the same heap object, or bitwise-equal scalars.
// A NaN float is Same as itself.
func (v Value) Same(w Value) bool {
	if v.tt != w.tt {
		return false
	}
	if v.tt == TypeObject {
		return v.ref == w.ref
	}
	return v.bits == w.bits
}

// numericEqual implements == for numeric scalars with IEEE semantics.
// ok is false when either side is not numeric.
func numericEqual(a, b Value) (eq bool, ok bool) {
	switch {
	case a.tt == TypeInteger && b.tt == TypeInteger:
		return a.bits == b.bits, true
	case a.IsNumeric() && b.IsNumeric():
		x, _ := a.ToFloat()
		y, _ := b.ToFloat()
		return x == y, true
	}
	return false, false
}

// String returns a short debugging rendition of v.
func (v Value) String() string {
	switch v.tt {
	case TypeNil:
		return "nil"
	case TypeTrue:
		return "true"
	case TypeFalse:
		return "false"
	case TypeInteger:
		return strconv.FormatInt(int64(v.bits), 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case TypeSymbol:
		return ":" + strconv.FormatUint(v.bits, 10)
	}
	if s, ok := v.ref.(*RString); ok {
		return strconv.Quote(s.Str)
	}
	if c, ok := v.ref.(*RClass); ok {
		return c.Name()
	}
	return "#<" + v.ref.basic().class.Name() + ">"
}
