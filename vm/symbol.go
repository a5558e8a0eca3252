package vm

import "sync"

// ---------------------------------------------------------------------------
// SymbolTable: Interned symbols
// ---------------------------------------------------------------------------

// Symbol is an interned name. The zero Symbol means "no name".
type Symbol uint32

// SymbolTable interns byte-string names to small integer IDs.
// Method names, instance variable names and constants all go through it.
type SymbolTable struct {
	mu     sync.RWMutex
	byName map[string]Symbol // name -> ID
	byID   []string          // ID -> name
}

// NewSymbolTable creates a new symbol table with ID 0 reserved.
func NewSymbolTable() *SymbolTable {
	st := &SymbolTable{
		byName: make(map[string]Symbol),
		byID:   make([]string, 1, 256),
	}
	return st
}

// Intern returns the ID for a name, creating a new one if needed.
func (st *SymbolTable) Intern(name string) Symbol {
	// Fast path: read-only lookup
	st.mu.RLock()
	if id, ok := st.byName[name]; ok {
		st.mu.RUnlock()
		return id
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	// Double-check after acquiring write lock
	if id, ok := st.byName[name]; ok {
		return id
	}

	id := Symbol(len(st.byID))
	st.byName[name] = id
	st.byID = append(st.byID, name)
	return id
}

// InternBytes interns a byte-string name.
func (st *SymbolTable) InternBytes(name []byte) Symbol {
	return st.Intern(string(name))
}

// Lookup returns the ID for a name without interning it.
func (st *SymbolTable) Lookup(name string) (Symbol, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byName[name]
	return id, ok
}

// Name returns the name for an ID, or "" if invalid.
func (st *SymbolTable) Name(id Symbol) string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if id == 0 || int(id) >= len(st.byID) {
		return ""
	}
	return st.byID[id]
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID) - 1
}

// All returns all symbol names in ID order, starting at ID 1.
func (st *SymbolTable) All() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]string, len(st.byID)-1)
	copy(result, st.byID[1:])
	return result
}
