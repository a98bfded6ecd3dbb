package semantic

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// GoResolver resolves symbols in Go source using tree-sitter.
type GoResolver struct{}

// NewGoResolver creates a resolver for Go files.
func NewGoResolver() *GoResolver {
	return &GoResolver{}
}

// declarationKinds maps Go AST node types to symbol kinds.
var declarationKinds = map[string]string{
	"function_declaration":  "function",
	"method_declaration":    "method",
	"type_spec":             "type",
	"field_declaration":     "field",
	"var_spec":              "var",
	"const_spec":            "const",
	"short_var_declaration": "var",
}

// ResolveSymbolAt parses the source and ascends from the node at the position
// to the innermost enclosing named declaration.
func (r *GoResolver) ResolveSymbolAt(ctx context.Context, source []byte, line, column int) (*Symbol, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	point := sitter.Point{Row: uint32(line - 1), Column: uint32(column - 1)}
	node := tree.RootNode().NamedDescendantForPointRange(point, point)
	if node == nil {
		return nil, ErrNoSymbol
	}

	for cur := node; cur != nil; cur = cur.Parent() {
		kind, ok := declarationKinds[cur.Type()]
		if !ok {
			continue
		}
		name := nodeName(cur, source)
		if name == "" {
			continue
		}
		sym := &Symbol{
			Name:      name,
			Kind:      kind,
			Container: enclosingTypeName(cur, source),
			Line:      int(cur.StartPoint().Row) + 1,
			Column:    int(cur.StartPoint().Column) + 1,
			StartByte: cur.StartByte(),
			EndByte:   cur.EndByte(),
		}
		if kind == "type" {
			sym.Kind = typeSpecKind(cur)
		}
		return sym, nil
	}

	return nil, ErrNoSymbol
}

// nodeName extracts the declared identifier, trying the name field first.
func nodeName(node *sitter.Node, source []byte) string {
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		return string(source[nameNode.StartByte():nameNode.EndByte()])
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child != nil && child.Type() == "identifier" {
			return string(source[child.StartByte():child.EndByte()])
		}
	}
	return ""
}

// typeSpecKind distinguishes struct and interface declarations from plain
// type aliases.
func typeSpecKind(node *sitter.Node) string {
	typeNode := node.ChildByFieldName("type")
	if typeNode == nil {
		return "type"
	}
	switch typeNode.Type() {
	case "struct_type":
		return "struct"
	case "interface_type":
		return "interface"
	default:
		return "type"
	}
}

// enclosingTypeName walks outward to the named type a field or method belongs
// to, if any.
func enclosingTypeName(node *sitter.Node, source []byte) string {
	if node.Type() == "method_declaration" {
		if recv := node.ChildByFieldName("receiver"); recv != nil {
			return receiverTypeName(recv, source)
		}
		return ""
	}
	for cur := node.Parent(); cur != nil; cur = cur.Parent() {
		if cur.Type() == "type_spec" {
			return nodeName(cur, source)
		}
	}
	return ""
}

// receiverTypeName digs the bare type identifier out of a receiver parameter
// list, skipping any pointer or generic wrapping.
func receiverTypeName(recv *sitter.Node, source []byte) string {
	var walk func(n *sitter.Node) string
	walk = func(n *sitter.Node) string {
		if n == nil {
			return ""
		}
		if n.Type() == "type_identifier" {
			return string(source[n.StartByte():n.EndByte()])
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if name := walk(n.NamedChild(i)); name != "" {
				return name
			}
		}
		return ""
	}
	return walk(recv)
}
