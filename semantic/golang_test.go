package semantic

import (
	"context"
	"errors"
	"testing"
)

var _ Resolver = (*GoResolver)(nil)

var sampleSource = []byte(`package sample

import "fmt"

const maxRetries = 3

type Store struct {
	Name string
}

type Reader interface {
	Read() error
}

func Greet(who string) {
	fmt.Println("hello", who)
}

func (s *Store) Save() error {
	return nil
}
`)

func resolveAt(t *testing.T, line, column int) *Symbol {
	t.Helper()
	sym, err := NewGoResolver().ResolveSymbolAt(context.Background(), sampleSource, line, column)
	if err != nil {
		t.Fatalf("ResolveSymbolAt(%d, %d) failed: %v", line, column, err)
	}
	return sym
}

func TestResolveFunction(t *testing.T) {
	// Inside Greet's body
	sym := resolveAt(t, 16, 3)

	if sym.Name != "Greet" || sym.Kind != "function" {
		t.Errorf("Expected function Greet, got %s %s", sym.Kind, sym.Name)
	}
	if sym.Container != "" {
		t.Errorf("Top-level function should have no container, got %q", sym.Container)
	}
	if sym.Line != 15 {
		t.Errorf("Declaration starts at line 15, got %d", sym.Line)
	}
}

func TestResolveMethodWithReceiver(t *testing.T) {
	// Inside Save's body
	sym := resolveAt(t, 20, 3)

	if sym.Name != "Save" || sym.Kind != "method" {
		t.Errorf("Expected method Save, got %s %s", sym.Kind, sym.Name)
	}
	if sym.Container != "Store" {
		t.Errorf("Receiver type should be Store, got %q", sym.Container)
	}
}

func TestResolveStructAndField(t *testing.T) {
	// On the Store type name
	sym := resolveAt(t, 7, 6)
	if sym.Name != "Store" || sym.Kind != "struct" {
		t.Errorf("Expected struct Store, got %s %s", sym.Kind, sym.Name)
	}

	// On the Name field inside the struct
	sym = resolveAt(t, 8, 2)
	if sym.Name != "Name" || sym.Kind != "field" {
		t.Errorf("Expected field Name, got %s %s", sym.Kind, sym.Name)
	}
	if sym.Container != "Store" {
		t.Errorf("Field container should be Store, got %q", sym.Container)
	}
}

func TestResolveInterface(t *testing.T) {
	sym := resolveAt(t, 11, 6)
	if sym.Name != "Reader" || sym.Kind != "interface" {
		t.Errorf("Expected interface Reader, got %s %s", sym.Kind, sym.Name)
	}
}

func TestResolveConst(t *testing.T) {
	sym := resolveAt(t, 5, 7)
	if sym.Name != "maxRetries" || sym.Kind != "const" {
		t.Errorf("Expected const maxRetries, got %s %s", sym.Kind, sym.Name)
	}
}

func TestResolveOutsideAnyDeclaration(t *testing.T) {
	_, err := NewGoResolver().ResolveSymbolAt(context.Background(), sampleSource, 1, 1)
	if !errors.Is(err, ErrNoSymbol) {
		t.Fatalf("Expected ErrNoSymbol on the package clause, got %v", err)
	}
}

func TestResolveSpanCoversDeclaration(t *testing.T) {
	sym := resolveAt(t, 16, 3)
	span := string(sampleSource[sym.StartByte:sym.EndByte])
	if got, want := span[:10], "func Greet"; got != want {
		t.Errorf("Span starts with %q, want %q", got, want)
	}
}
