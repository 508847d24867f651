package extract

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// GoExtractor extracts POIs and relationship hints from Go source via the
// standard library's go/ast — the same tree the teacher's go_parser.go
// walks, here kept to the subset the spec's POI taxonomy has room for
// (function, class-as-type, variable, import; CALLS/IMPORTS/EXTENDS).
type GoExtractor struct{}

// NewGoExtractor constructs a GoExtractor.
func NewGoExtractor() *GoExtractor { return &GoExtractor{} }

func (e *GoExtractor) Extensions() []string { return []string{".go"} }
func (e *GoExtractor) Language() string     { return "go" }

func (e *GoExtractor) Extract(path string, content []byte) (Result, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return Result{}, fmt.Errorf("extract: parse %s: %w", path, err)
	}

	var res Result
	pos := func(p token.Pos) int { return fset.Position(p).Line }

	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		line := pos(imp.Pos())
		res.POIs = append(res.POIs, RawPOI{
			Name:      importPath,
			Type:      model.POIImport,
			StartLine: line,
			EndLine:   line,
		})
		res.Relationships = append(res.Relationships, RawRelationship{
			From:          file.Name.Name,
			To:            importPath,
			Type:          model.RelImports,
			Reason:        "import declaration",
			EvidenceItems: 1,
		})
	}

	typeNames := make(map[string]bool)

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			e.extractGenDecl(d, pos, &res, typeNames)
		case *ast.FuncDecl:
			e.extractFuncDecl(d, pos, &res)
		}
	}

	return res, nil
}

func (e *GoExtractor) extractGenDecl(d *ast.GenDecl, pos func(token.Pos) int, res *Result, typeNames map[string]bool) {
	for _, spec := range d.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			typeNames[s.Name.Name] = true
			res.POIs = append(res.POIs, RawPOI{
				Name:      s.Name.Name,
				Type:      model.POIClass,
				StartLine: pos(s.Pos()),
				EndLine:   pos(s.End()),
			})
			if iface, ok := s.Type.(*ast.InterfaceType); ok {
				for _, m := range iface.Methods.List {
					if embedded, ok := m.Type.(*ast.Ident); ok && len(m.Names) == 0 {
						res.Relationships = append(res.Relationships, RawRelationship{
							From:          s.Name.Name,
							To:            embedded.Name,
							Type:          model.RelExtends,
							Reason:        "interface embeds " + embedded.Name,
							EvidenceItems: 1,
						})
					}
				}
			}
			if st, ok := s.Type.(*ast.StructType); ok {
				for _, f := range st.Fields.List {
					if len(f.Names) == 0 { // embedded field
						if ident, ok := f.Type.(*ast.Ident); ok {
							res.Relationships = append(res.Relationships, RawRelationship{
								From:          s.Name.Name,
								To:            ident.Name,
								Type:          model.RelExtends,
								Reason:        "struct embeds " + ident.Name,
								EvidenceItems: 1,
							})
						}
					}
				}
			}
		case *ast.ValueSpec:
			if d.Tok != token.VAR {
				continue
			}
			for _, name := range s.Names {
				if name.Name == "_" {
					continue
				}
				res.POIs = append(res.POIs, RawPOI{
					Name:      name.Name,
					Type:      model.POIVariable,
					StartLine: pos(name.Pos()),
					EndLine:   pos(name.Pos()),
				})
			}
		}
	}
}

func (e *GoExtractor) extractFuncDecl(d *ast.FuncDecl, pos func(token.Pos) int, res *Result) {
	name := d.Name.Name
	if d.Recv != nil && len(d.Recv.List) > 0 {
		if recvName := receiverTypeName(d.Recv.List[0].Type); recvName != "" {
			name = recvName + "." + name
		}
	}

	startLine, endLine := pos(d.Pos()), pos(d.End())
	res.POIs = append(res.POIs, RawPOI{
		Name:      name,
		Type:      model.POIFunction,
		StartLine: startLine,
		EndLine:   endLine,
	})

	if d.Body == nil {
		return
	}
	ast.Inspect(d.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		callee := calleeName(call.Fun)
		if callee == "" {
			return true
		}
		res.Relationships = append(res.Relationships, RawRelationship{
			From:          name,
			To:            callee,
			Type:          model.RelCalls,
			Reason:        fmt.Sprintf("%s invokes %s", name, callee),
			EvidenceItems: 1,
		})
		return true
	})
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	default:
		return ""
	}
}

func calleeName(expr ast.Expr) string {
	switch f := expr.(type) {
	case *ast.Ident:
		return f.Name
	case *ast.SelectorExpr:
		if ident, ok := f.X.(*ast.Ident); ok {
			return ident.Name + "." + f.Sel.Name
		}
		return f.Sel.Name
	default:
		return ""
	}
}
