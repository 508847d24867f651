package extract

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// langSpec maps one language's grammar onto the node-type vocabulary this
// extractor understands, grounded on the node kinds the teacher's
// python_parser.go / typescript_parser.go switch on.
type langSpec struct {
	name           string
	extensions     []string
	grammar        *sitter.Language
	classKinds     map[string]bool
	functionKinds  map[string]bool
	importKinds    map[string]bool
	nameField      string // field name holding the declared identifier
}

func pythonLang() langSpec {
	return langSpec{
		name:          "python",
		extensions:    []string{".py", ".pyw"},
		grammar:       python.GetLanguage(),
		classKinds:    map[string]bool{"class_definition": true},
		functionKinds: map[string]bool{"function_definition": true},
		importKinds:   map[string]bool{"import_statement": true, "import_from_statement": true},
		nameField:     "name",
	}
}

func javascriptLang() langSpec {
	return langSpec{
		name:          "javascript",
		extensions:    []string{".js", ".jsx"},
		grammar:       javascript.GetLanguage(),
		classKinds:    map[string]bool{"class_declaration": true},
		functionKinds: map[string]bool{"function_declaration": true, "method_definition": true},
		importKinds:   map[string]bool{"import_statement": true},
		nameField:     "name",
	}
}

func typescriptLang() langSpec {
	return langSpec{
		name:          "typescript",
		extensions:    []string{".ts", ".tsx"},
		grammar:       typescript.GetLanguage(),
		classKinds:    map[string]bool{"class_declaration": true, "interface_declaration": true},
		functionKinds: map[string]bool{"function_declaration": true, "method_definition": true},
		importKinds:   map[string]bool{"import_statement": true},
		nameField:     "name",
	}
}

// TreeSitterExtractor extracts classes, functions and imports for one
// tree-sitter grammar, dispatching on node Type() the way the teacher's
// per-language parsers do, instead of the more elaborate CodeParser/
// CodeElement bridge those files build for Mangle fact emission.
type TreeSitterExtractor struct {
	spec   langSpec
	parser *sitter.Parser
}

// NewTreeSitterExtractor builds an extractor bound to one grammar.
func NewTreeSitterExtractor(spec langSpec) *TreeSitterExtractor {
	p := sitter.NewParser()
	p.SetLanguage(spec.grammar)
	return &TreeSitterExtractor{spec: spec, parser: p}
}

func (e *TreeSitterExtractor) Extensions() []string { return e.spec.extensions }
func (e *TreeSitterExtractor) Language() string     { return e.spec.name }

func (e *TreeSitterExtractor) Extract(path string, content []byte) (Result, error) {
	tree, err := e.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return Result{}, fmt.Errorf("extract: %s parse %s: %w", e.spec.name, path, err)
	}
	defer tree.Close()

	var res Result
	var classStack []string
	e.walk(tree.RootNode(), content, "", &classStack, &res)
	return res, nil
}

func (e *TreeSitterExtractor) walk(node *sitter.Node, content []byte, enclosing string, classStack *[]string, res *Result) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		kind := child.Type()

		switch {
		case e.spec.classKinds[kind]:
			name := fieldText(child, e.spec.nameField, content)
			if name == "" {
				e.walk(child, content, enclosing, classStack, res)
				continue
			}
			res.POIs = append(res.POIs, RawPOI{
				Name:      name,
				Type:      model.POIClass,
				StartLine: int(child.StartPoint().Row) + 1,
				EndLine:   int(child.EndPoint().Row) + 1,
			})
			superclass := fieldText(child, "superclass", content)
			if superclass == "" {
				superclass = fieldText(child, "superclasses", content) // Python's field name
			}
			if superclass != "" {
				res.Relationships = append(res.Relationships, RawRelationship{
					From:          name,
					To:            trimBases(superclass),
					Type:          model.RelExtends,
					Reason:        name + " extends " + superclass,
					EvidenceItems: 1,
				})
			}
			*classStack = append(*classStack, name)
			if body := child.ChildByFieldName("body"); body != nil {
				e.walk(body, content, name, classStack, res)
			}
			*classStack = (*classStack)[:len(*classStack)-1]

		case e.spec.functionKinds[kind]:
			name := fieldText(child, e.spec.nameField, content)
			if name == "" {
				continue
			}
			if enclosing != "" {
				name = enclosing + "." + name
			}
			res.POIs = append(res.POIs, RawPOI{
				Name:      name,
				Type:      model.POIFunction,
				StartLine: int(child.StartPoint().Row) + 1,
				EndLine:   int(child.EndPoint().Row) + 1,
			})
			e.collectCalls(child, content, name, res)

		case e.spec.importKinds[kind]:
			text := string(content[child.StartByte():child.EndByte()])
			line := int(child.StartPoint().Row) + 1
			res.POIs = append(res.POIs, RawPOI{
				Name:      text,
				Type:      model.POIImport,
				StartLine: line,
				EndLine:   line,
			})
			res.Relationships = append(res.Relationships, RawRelationship{
				From:          e.spec.name,
				To:            text,
				Type:          model.RelImports,
				Reason:        "import statement",
				EvidenceItems: 1,
			})

		default:
			e.walk(child, content, enclosing, classStack, res)
		}
	}
}

// collectCalls walks a function body for call_expression nodes, emitting
// CALLS relationship hints the same way the Go extractor does for
// ast.CallExpr.
func (e *TreeSitterExtractor) collectCalls(fn *sitter.Node, content []byte, fromName string, res *Result) {
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() == "call_expression" || child.Type() == "call" {
				if fnNode := child.ChildByFieldName("function"); fnNode != nil {
					callee := string(content[fnNode.StartByte():fnNode.EndByte()])
					res.Relationships = append(res.Relationships, RawRelationship{
						From:          fromName,
						To:            callee,
						Type:          model.RelCalls,
						Reason:        fmt.Sprintf("%s invokes %s", fromName, callee),
						EvidenceItems: 1,
					})
				}
			}
			visit(child)
		}
	}
	visit(fn)
}

func fieldText(node *sitter.Node, field string, content []byte) string {
	n := node.ChildByFieldName(field)
	if n == nil {
		return ""
	}
	return string(content[n.StartByte():n.EndByte()])
}

func trimBases(superclass string) string {
	// Python's superclass field can be an argument_list like "(Base1, Base2)";
	// callers only use the first base for a single EXTENDS hint.
	s := superclass
	for len(s) > 0 && (s[0] == '(' || s[0] == ' ') {
		s = s[1:]
	}
	for i := 0; i < len(s); i++ {
		if s[i] == ',' || s[i] == ')' {
			return s[:i]
		}
	}
	return s
}
