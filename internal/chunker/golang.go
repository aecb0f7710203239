package chunker

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/hubgrep/hubgrep-mcp/pkg/types"
)

// chunkGo extracts symbol-level chunks from Go source through the AST.
// Syntax errors are non-fatal: the parser often returns a partial AST and
// whatever symbols it holds are still worth indexing.
func (c *Chunker) chunkGo(filePath, source string) ([]*Chunk, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, source, parser.ParseComments)
	if file == nil {
		if err != nil {
			return nil, nil // fall back to block chunking
		}
		return nil, nil
	}

	lines := strings.Split(source, "\n")
	var chunks []*Chunk

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			chunks = append(chunks, c.goFuncChunk(fset, d, filePath, lines))
		case *ast.GenDecl:
			chunks = append(chunks, c.goGenDeclChunks(fset, d, filePath, lines)...)
		}
	}

	return compactChunks(chunks), nil
}

func (c *Chunker) goFuncChunk(fset *token.FileSet, d *ast.FuncDecl, filePath string, lines []string) *Chunk {
	symType := types.SymbolFunction
	name := d.Name.Name
	if d.Recv != nil && len(d.Recv.List) > 0 {
		symType = types.SymbolMethod
		if recv := receiverTypeName(d.Recv.List[0].Type); recv != "" {
			name = recv + "." + name
		}
	}

	start, end := declRange(fset, d, d.Doc)
	return goChunk(filePath, symType, name, lines, start, end)
}

// goGenDeclChunks handles type, const, and var declarations. Each type
// spec becomes its own chunk; const and var groups stay whole.
func (c *Chunker) goGenDeclChunks(fset *token.FileSet, d *ast.GenDecl, filePath string, lines []string) []*Chunk {
	switch d.Tok {
	case token.TYPE:
		var chunks []*Chunk
		for _, spec := range d.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			symType := types.SymbolTypeDecl
			switch ts.Type.(type) {
			case *ast.StructType:
				symType = types.SymbolStruct
			case *ast.InterfaceType:
				symType = types.SymbolInterface
			}

			// Single-spec decls keep the group doc comment.
			doc := ts.Doc
			if doc == nil && len(d.Specs) == 1 {
				doc = d.Doc
			}
			start, end := declRange(fset, ts, doc)
			chunks = append(chunks, goChunk(filePath, symType, ts.Name.Name, lines, start, end))
		}
		return chunks

	case token.CONST, token.VAR:
		symType := types.SymbolConst
		if d.Tok == token.VAR {
			symType = types.SymbolVar
		}
		start, end := declRange(fset, d, d.Doc)
		return []*Chunk{goChunk(filePath, symType, genDeclName(d), lines, start, end)}

	default:
		return nil // imports are not indexed
	}
}

func goChunk(filePath string, symType types.SymbolType, name string, lines []string, start, end int) *Chunk {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return nil
	}
	return newChunk(filePath, types.LangGo, symType, name, lines, start, end)
}

// declRange returns the 1-based line span of a node, extended upward to
// include its doc comment
func declRange(fset *token.FileSet, node ast.Node, doc *ast.CommentGroup) (int, int) {
	start := fset.Position(node.Pos()).Line
	end := fset.Position(node.End()).Line
	if doc != nil {
		if docStart := fset.Position(doc.Pos()).Line; docStart < start {
			start = docStart
		}
	}
	return start, end
}

// receiverTypeName unwraps pointer and generic receivers to the base name
func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.IndexExpr:
		return receiverTypeName(t.X)
	case *ast.IndexListExpr:
		return receiverTypeName(t.X)
	}
	return ""
}

// genDeclName names a const/var group after its first identifier
func genDeclName(d *ast.GenDecl) string {
	for _, spec := range d.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok || len(vs.Names) == 0 {
			continue
		}
		return vs.Names[0].Name
	}
	return ""
}

// compactChunks drops nils left by degenerate declarations
func compactChunks(chunks []*Chunk) []*Chunk {
	out := chunks[:0]
	for _, ch := range chunks {
		if ch != nil {
			out = append(out, ch)
		}
	}
	return out
}
