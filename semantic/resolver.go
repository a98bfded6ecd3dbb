package semantic

import (
	"context"
	"errors"
)

// Symbol is a named declaration located in source code.
type Symbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"` // function, method, struct, interface, field, var, const
	Container string `json:"container,omitempty"`
	Line      int    `json:"line"`   // 1-based
	Column    int    `json:"column"` // 1-based, in runes
	StartByte uint32 `json:"start_byte"`
	EndByte   uint32 `json:"end_byte"`
}

// ErrNoSymbol is returned when a position does not land inside any named
// declaration.
var ErrNoSymbol = errors.New("no symbol at position")

// ErrUnsupportedLanguage is returned for file types no resolver handles.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Resolver turns a source position into the enclosing declared symbol. Callers
// use it to build precise search patterns, for example a whole-word search for
// the identifier under a cursor.
type Resolver interface {
	// ResolveSymbolAt finds the innermost named declaration containing the
	// given 1-based line and column.
	ResolveSymbolAt(ctx context.Context, source []byte, line, column int) (*Symbol, error)
}
