// Package bundle encodes compiled procedure trees as CBOR so they can be
// cached on disk or shipped between hosts.
//
// Symbols are engine-local IDs, so a bundle carries symbol names instead and
// re-interns them into the loading engine's table.
package bundle

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/chazu/rite/vm"
	"github.com/fxamacker/cbor/v2"
)

// Magic and Version identify the container format.
const (
	Magic   = "RITE"
	Version = 1
)

// ErrFormat is returned for data that is not a valid bundle.
var ErrFormat = errors.New("bundle: invalid format")

var cborEncMode cbor.EncMode

func init() {
	// Canonical, except that NaN literals keep their payload.
	opts := cbor.CanonicalEncOptions()
	opts.NaNConvert = cbor.NaNConvertNone
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("bundle: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type container struct {
	Magic   string `cbor:"1,keyasint"`
	Version int    `cbor:"2,keyasint"`
	Root    *irep  `cbor:"3,keyasint"`
}

type irep struct {
	Iseq     []byte         `cbor:"1,keyasint"`
	Aspec    aspec          `cbor:"2,keyasint"`
	NLocals  int            `cbor:"3,keyasint"`
	NRegs    int            `cbor:"4,keyasint"`
	Pool     []literal      `cbor:"5,keyasint,omitempty"`
	Syms     []string       `cbor:"6,keyasint,omitempty"`
	Reps     []*irep        `cbor:"7,keyasint,omitempty"`
	Handlers []handler      `cbor:"8,keyasint,omitempty"`
	Filename string         `cbor:"9,keyasint,omitempty"`
	Lines    []vm.LineEntry `cbor:"10,keyasint,omitempty"`
}

type aspec struct {
	_     struct{} `cbor:",toarray"`
	Req   int
	Opt   int
	Rest  bool
	Post  int
	NKeys int
	KDict bool
	Block bool
}

type literal struct {
	_    struct{} `cbor:",toarray"`
	Kind vm.PoolKind
	Int  int64
	Flt  float64
	Str  string
}

type handler struct {
	_      struct{} `cbor:",toarray"`
	Kind   vm.CatchKind
	Begin  int
	End    int
	Target int
	Guards []string
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Marshal serializes ir and its children. syms resolves the symbol IDs the
// tree was built against.
func Marshal(ir *vm.Irep, syms *vm.SymbolTable) ([]byte, error) {
	root, err := toWire(ir, syms)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(&container{Magic: Magic, Version: Version, Root: root})
}

// Digest returns the SHA-256 of the canonical encoding of ir.
func Digest(ir *vm.Irep, syms *vm.SymbolTable) ([32]byte, error) {
	data, err := Marshal(ir, syms)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

func toWire(ir *vm.Irep, syms *vm.SymbolTable) (*irep, error) {
	name := func(s vm.Symbol) (string, error) {
		n := syms.Name(s)
		if n == "" {
			return "", fmt.Errorf("bundle: symbol %d has no name", s)
		}
		return n, nil
	}

	w := &irep{
		Iseq:     ir.Iseq,
		Aspec:    aspec{Req: ir.Aspec.Req, Opt: ir.Aspec.Opt, Rest: ir.Aspec.Rest, Post: ir.Aspec.Post, NKeys: ir.Aspec.NKeys, KDict: ir.Aspec.KDict, Block: ir.Aspec.Block},
		NLocals:  ir.NLocals,
		NRegs:    ir.NRegs,
		Filename: ir.Filename,
		Lines:    ir.Lines,
	}
	for _, p := range ir.Pool {
		w.Pool = append(w.Pool, literal{Kind: p.Kind, Int: p.Int, Flt: p.Flt, Str: p.Str})
	}
	for _, s := range ir.Syms {
		n, err := name(s)
		if err != nil {
			return nil, err
		}
		w.Syms = append(w.Syms, n)
	}
	for _, h := range ir.Handlers {
		wh := handler{Kind: h.Kind, Begin: h.Begin, End: h.End, Target: h.Target}
		for _, g := range h.Guards {
			n, err := name(g)
			if err != nil {
				return nil, err
			}
			wh.Guards = append(wh.Guards, n)
		}
		w.Handlers = append(w.Handlers, wh)
	}
	for _, child := range ir.Reps {
		wc, err := toWire(child, syms)
		if err != nil {
			return nil, err
		}
		w.Reps = append(w.Reps, wc)
	}
	return w, nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Unmarshal decodes a bundle, interning its symbol names into syms. Only the
// container is checked; the code itself is trusted like any built Irep.
func Unmarshal(data []byte, syms *vm.SymbolTable) (*vm.Irep, error) {
	var c container
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("bundle: unmarshal: %w", err)
	}
	if c.Magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, c.Magic)
	}
	if c.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, c.Version)
	}
	if c.Root == nil {
		return nil, fmt.Errorf("%w: no root procedure", ErrFormat)
	}
	return fromWire(c.Root, syms, "root")
}

func fromWire(w *irep, syms *vm.SymbolTable, path string) (*vm.Irep, error) {
	ir := &vm.Irep{
		Iseq:     w.Iseq,
		Aspec:    vm.Aspec{Req: w.Aspec.Req, Opt: w.Aspec.Opt, Rest: w.Aspec.Rest, Post: w.Aspec.Post, NKeys: w.Aspec.NKeys, KDict: w.Aspec.KDict, Block: w.Aspec.Block},
		NLocals:  w.NLocals,
		NRegs:    w.NRegs,
		Filename: w.Filename,
		Lines:    w.Lines,
	}
	for _, p := range w.Pool {
		ir.Pool = append(ir.Pool, vm.PoolValue{Kind: p.Kind, Int: p.Int, Flt: p.Flt, Str: p.Str})
	}
	for _, n := range w.Syms {
		ir.Syms = append(ir.Syms, syms.Intern(n))
	}
	for _, h := range w.Handlers {
		ch := vm.CatchHandler{Kind: h.Kind, Begin: h.Begin, End: h.End, Target: h.Target}
		for _, g := range h.Guards {
			ch.Guards = append(ch.Guards, syms.Intern(g))
		}
		ir.Handlers = append(ir.Handlers, ch)
	}
	for i, wc := range w.Reps {
		if wc == nil {
			return nil, fmt.Errorf("%w: %s: child %d is empty", ErrFormat, path, i)
		}
		child, err := fromWire(wc, syms, fmt.Sprintf("%s/%d", path, i))
		if err != nil {
			return nil, err
		}
		ir.Reps = append(ir.Reps, child)
	}
	return ir, nil
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

// WriteFile writes ir to path as a bundle.
func WriteFile(path string, ir *vm.Irep, syms *vm.SymbolTable) error {
	data, err := Marshal(ir, syms)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("bundle: write %s: %w", path, err)
	}
	return nil
}

// ReadFile loads the bundle at path.
func ReadFile(path string, syms *vm.SymbolTable) (*vm.Irep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: read %s: %w", path, err)
	}
	ir, err := Unmarshal(data, syms)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ir, nil
}
