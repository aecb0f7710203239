package types

import (
	"crypto/sha256"
	"errors"
)

// Language identifies the programming language of an indexed snippet
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangJava       Language = "java"
	LangRust       Language = "rust"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangRuby       Language = "ruby"
	LangUnknown    Language = "unknown"
)

// SymbolType classifies the code construct a snippet was extracted from
type SymbolType string

const (
	SymbolFunction  SymbolType = "function"
	SymbolMethod    SymbolType = "method"
	SymbolClass     SymbolType = "class"
	SymbolStruct    SymbolType = "struct"
	SymbolInterface SymbolType = "interface"
	SymbolTypeDecl  SymbolType = "type"
	SymbolConst     SymbolType = "const"
	SymbolVar       SymbolType = "var"
	SymbolBlock     SymbolType = "block" // fallback for files without recognizable symbols
)

// CodeMetadata describes the origin of an indexed code snippet.
// Entries are immutable once written and removed only alongside their vector.
type CodeMetadata struct {
	// Location
	FilePath  string
	StartLine int
	EndLine   int

	// Classification
	Language   Language
	SymbolType SymbolType
	SymbolName string
	Repository string

	// Content identity (SHA-256 of the snippet text)
	ContentHash [32]byte

	// Extra holds provider- or tool-specific attributes that have no
	// dedicated column. Keys and values are plain strings.
	Extra map[string]string
}

// ValidateLanguage checks if the language is one of the known values
func ValidateLanguage(l Language) error {
	switch l {
	case LangGo, LangPython, LangJavaScript, LangTypeScript, LangJava,
		LangRust, LangC, LangCPP, LangRuby, LangUnknown:
		return nil
	default:
		return errors.New("invalid language")
	}
}

// ValidateSymbolType checks if the symbol type is one of the known values
func ValidateSymbolType(s SymbolType) error {
	switch s {
	case SymbolFunction, SymbolMethod, SymbolClass, SymbolStruct,
		SymbolInterface, SymbolTypeDecl, SymbolConst, SymbolVar, SymbolBlock:
		return nil
	default:
		return errors.New("invalid symbol type")
	}
}

// Validate performs comprehensive validation of the metadata
func (m *CodeMetadata) Validate() error {
	if m.FilePath == "" {
		return errors.New("file path is required")
	}

	if m.StartLine <= 0 || m.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if m.StartLine > m.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	if err := ValidateLanguage(m.Language); err != nil {
		return err
	}

	if err := ValidateSymbolType(m.SymbolType); err != nil {
		return err
	}

	var zeroHash [32]byte
	if m.ContentHash == zeroHash {
		return errors.New("content hash must be computed")
	}

	return nil
}

// Overlaps reports whether two metadata entries cover overlapping line
// ranges of the same file
func (m *CodeMetadata) Overlaps(other *CodeMetadata) bool {
	if m.FilePath != other.FilePath {
		return false
	}
	return m.StartLine <= other.EndLine && other.StartLine <= m.EndLine
}

// HashContent computes the SHA-256 content hash for a snippet
func HashContent(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// LanguageForPath maps a file extension to a Language
func LanguageForPath(path string) Language {
	ext := ""
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			ext = path[i:]
			break
		}
		if path[i] == '/' {
			break
		}
	}

	switch ext {
	case ".go":
		return LangGo
	case ".py":
		return LangPython
	case ".js", ".jsx", ".mjs":
		return LangJavaScript
	case ".ts", ".tsx":
		return LangTypeScript
	case ".java":
		return LangJava
	case ".rs":
		return LangRust
	case ".c", ".h":
		return LangC
	case ".cc", ".cpp", ".cxx", ".hpp":
		return LangCPP
	case ".rb":
		return LangRuby
	default:
		return LangUnknown
	}
}
