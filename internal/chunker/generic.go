package chunker

import (
	"regexp"
	"strings"

	"github.com/hubgrep/hubgrep-mcp/pkg/types"
)

// declPattern recognizes one declaration form of a language
type declPattern struct {
	re      *regexp.Regexp
	symType func(match []string) types.SymbolType
	name    int // submatch index of the symbol name
	indent  int // submatch index of the leading indent
}

type blockStyle int

const (
	blockBraces blockStyle = iota // body delimited by { }
	blockIndent                  // body delimited by indentation
	blockEnd                     // body closed by an "end" keyword
)

var (
	pythonDecl = declPattern{
		re: regexp.MustCompile(`^(\s*)(?:async\s+)?(def|class)\s+([A-Za-z_]\w*)`),
		symType: func(m []string) types.SymbolType {
			if m[2] == "class" {
				return types.SymbolClass
			}
			return types.SymbolFunction
		},
		name:   3,
		indent: 1,
	}

	rubyDecl = declPattern{
		re: regexp.MustCompile(`^(\s*)(def|class|module)\s+([\w.?!]+)`),
		symType: func(m []string) types.SymbolType {
			if m[2] == "def" {
				return types.SymbolFunction
			}
			return types.SymbolClass
		},
		name:   3,
		indent: 1,
	}

	jsDecls = []declPattern{
		{
			re:      regexp.MustCompile(`^(\s*)(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$]\w*)`),
			symType: func([]string) types.SymbolType { return types.SymbolFunction },
			name:    2,
			indent:  1,
		},
		{
			re:      regexp.MustCompile(`^(\s*)(?:export\s+)?(?:abstract\s+)?class\s+([A-Za-z_$]\w*)`),
			symType: func([]string) types.SymbolType { return types.SymbolClass },
			name:    2,
			indent:  1,
		},
		{
			re:      regexp.MustCompile(`^(\s*)(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$]\w*)\s*=\s*(?:async\s*)?(?:\([^)]*\)|[A-Za-z_$]\w*)\s*=>`),
			symType: func([]string) types.SymbolType { return types.SymbolFunction },
			name:    2,
			indent:  1,
		},
	}

	tsDecls = append([]declPattern{
		{
			re:      regexp.MustCompile(`^(\s*)(?:export\s+)?interface\s+([A-Za-z_$]\w*)`),
			symType: func([]string) types.SymbolType { return types.SymbolInterface },
			name:    2,
			indent:  1,
		},
	}, jsDecls...)

	javaDecls = []declPattern{
		{
			re: regexp.MustCompile(`^(\s*)(?:public\s+|protected\s+|private\s+|static\s+|final\s+|abstract\s+)*(class|interface|enum)\s+([A-Za-z_$]\w*)`),
			symType: func(m []string) types.SymbolType {
				if m[2] == "interface" {
					return types.SymbolInterface
				}
				return types.SymbolClass
			},
			name:   3,
			indent: 1,
		},
		{
			re:      regexp.MustCompile(`^(\s+)(?:public\s+|protected\s+|private\s+|static\s+|final\s+|synchronized\s+)+[\w<>\[\],.\s]+\s+([A-Za-z_$]\w*)\s*\([^;]*\)\s*(?:throws\s+[\w,.\s]+)?\{\s*$`),
			symType: func([]string) types.SymbolType { return types.SymbolMethod },
			name:    2,
			indent:  1,
		},
	}

	rustDecls = []declPattern{
		{
			re: regexp.MustCompile(`^(\s*)(?:pub(?:\([^)]*\))?\s+)?(fn|struct|enum|trait|impl|mod)\s+([A-Za-z_]\w*)?`),
			symType: func(m []string) types.SymbolType {
				switch m[2] {
				case "fn":
					return types.SymbolFunction
				case "struct", "enum":
					return types.SymbolStruct
				case "trait":
					return types.SymbolInterface
				default:
					return types.SymbolTypeDecl
				}
			},
			name:   3,
			indent: 1,
		},
	}

	cDecls = []declPattern{
		{
			re:      regexp.MustCompile(`^(\s*)(?:typedef\s+)?(struct|enum|union|class)\s+([A-Za-z_]\w*)`),
			symType: func([]string) types.SymbolType { return types.SymbolStruct },
			name:    3,
			indent:  1,
		},
		{
			// A definition line: return type, a name, an argument list,
			// and no trailing semicolon. Control keywords are excluded.
			re:      regexp.MustCompile(`^()[\w\*][\w\*\s:<>,~&]*?\b([A-Za-z_~][\w:]*)\s*\([^;]*\)\s*(?:const\s*)?\{?\s*$`),
			symType: func([]string) types.SymbolType { return types.SymbolFunction },
			name:    2,
			indent:  1,
		},
	}

	cControlKeywords = map[string]struct{}{
		"if": {}, "for": {}, "while": {}, "switch": {}, "return": {}, "else": {},
	}
)

// chunkHeuristic chunks non-Go source using per-language declaration
// patterns. Lines not claimed by any declaration are ignored; files where
// nothing matches fall back to block chunking in ChunkSource.
func (c *Chunker) chunkHeuristic(filePath string, lang types.Language, source string) []*Chunk {
	var decls []declPattern
	style := blockBraces

	switch lang {
	case types.LangPython:
		decls, style = []declPattern{pythonDecl}, blockIndent
	case types.LangRuby:
		decls, style = []declPattern{rubyDecl}, blockEnd
	case types.LangJavaScript:
		decls = jsDecls
	case types.LangTypeScript:
		decls = tsDecls
	case types.LangJava:
		decls = javaDecls
	case types.LangRust:
		decls = rustDecls
	case types.LangC, types.LangCPP:
		decls = cDecls
	default:
		return nil
	}

	lines := strings.Split(source, "\n")
	var chunks []*Chunk

	for i := 0; i < len(lines); i++ {
		for _, p := range decls {
			m := p.re.FindStringSubmatch(lines[i])
			if m == nil {
				continue
			}
			name := m[p.name]
			if (lang == types.LangC || lang == types.LangCPP) && isControlKeyword(name) {
				continue
			}

			var end int
			switch style {
			case blockIndent:
				end = indentBlockEnd(lines, i, len(m[p.indent]))
			case blockEnd:
				end = keywordBlockEnd(lines, i, m[p.indent])
			default:
				end = braceBlockEnd(lines, i)
			}

			if end-i+1 >= MinChunkLines {
				chunks = append(chunks, newChunk(filePath, lang, p.symType(m), name, lines, i+1, end+1))
			}
			break
		}
	}
	return chunks
}

func isControlKeyword(name string) bool {
	_, ok := cControlKeywords[name]
	return ok
}

// braceBlockEnd finds the 0-based line index closing the block that opens
// at or shortly after start. Declarations with no body (prototypes,
// interface members) end at the declaration line.
func braceBlockEnd(lines []string, start int) int {
	depth := 0
	opened := false

	for i := start; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			return i
		}
		// No opening brace within two lines means a body-less decl.
		if !opened && i > start+1 {
			return start
		}
	}
	return len(lines) - 1
}

// indentBlockEnd finds the last line of an indentation-delimited body
func indentBlockEnd(lines []string, start, indent int) int {
	end := start
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if leadingSpace(lines[i]) <= indent {
			break
		}
		end = i
	}
	return end
}

// keywordBlockEnd finds the matching "end" at the declaration's indent
func keywordBlockEnd(lines []string, start int, indent string) int {
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "end" && strings.HasPrefix(lines[i], indent) && leadingSpace(lines[i]) == len(indent) {
			return i
		}
	}
	return len(lines) - 1
}

func leadingSpace(line string) int {
	n := 0
	for _, r := range line {
		if r == ' ' {
			n++
		} else if r == '\t' {
			n += 8
		} else {
			break
		}
	}
	return n
}
