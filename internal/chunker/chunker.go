package chunker

import (
	"fmt"
	"os"
	"strings"

	"github.com/hubgrep/hubgrep-mcp/pkg/types"
)

const (
	// MaxChunkLines caps a single chunk; oversized symbols are split
	// into consecutive block chunks.
	MaxChunkLines = 200

	// MinChunkLines drops trivial fragments like lone closing braces
	MinChunkLines = 1
)

// Chunk is one embeddable unit of code with its source location
type Chunk struct {
	Metadata types.CodeMetadata
	Content  string
}

// Chunker splits source files into symbol-level chunks. Go files go
// through the AST; other languages use declaration heuristics; anything
// unrecognized falls back to fixed-size line blocks.
type Chunker struct{}

// New creates a new Chunker instance
func New() *Chunker {
	return &Chunker{}
}

// ChunkFile reads and chunks a source file
func (c *Chunker) ChunkFile(filePath string) ([]*Chunk, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return c.ChunkSource(filePath, string(content))
}

// ChunkSource chunks source text. filePath is used for language detection
// and carried into each chunk's metadata.
func (c *Chunker) ChunkSource(filePath, source string) ([]*Chunk, error) {
	lang := types.LanguageForPath(filePath)

	var chunks []*Chunk
	var err error
	switch lang {
	case types.LangGo:
		chunks, err = c.chunkGo(filePath, source)
	case types.LangUnknown:
		chunks = c.chunkBlocks(filePath, lang, source)
	default:
		chunks = c.chunkHeuristic(filePath, lang, source)
	}
	if err != nil {
		return nil, err
	}

	// A parse that produced nothing still yields the file as blocks so
	// the content is searchable.
	if len(chunks) == 0 && strings.TrimSpace(source) != "" {
		chunks = c.chunkBlocks(filePath, lang, source)
	}

	out := make([]*Chunk, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, c.splitOversized(ch)...)
	}
	return out, nil
}

// newChunk builds a chunk from a line range, filling the content hash
func newChunk(filePath string, lang types.Language, symType types.SymbolType, symName string, lines []string, startLine, endLine int) *Chunk {
	content := strings.Join(lines[startLine-1:endLine], "\n")
	return &Chunk{
		Metadata: types.CodeMetadata{
			FilePath:    filePath,
			StartLine:   startLine,
			EndLine:     endLine,
			Language:    lang,
			SymbolType:  symType,
			SymbolName:  symName,
			ContentHash: types.HashContent(content),
		},
		Content: content,
	}
}

// splitOversized breaks a chunk longer than MaxChunkLines into
// consecutive block chunks that keep the original symbol name
func (c *Chunker) splitOversized(ch *Chunk) []*Chunk {
	lines := strings.Split(ch.Content, "\n")
	if len(lines) <= MaxChunkLines {
		return []*Chunk{ch}
	}

	var out []*Chunk
	for offset := 0; offset < len(lines); offset += MaxChunkLines {
		end := offset + MaxChunkLines
		if end > len(lines) {
			end = len(lines)
		}
		content := strings.Join(lines[offset:end], "\n")
		md := ch.Metadata
		md.StartLine = ch.Metadata.StartLine + offset
		md.EndLine = ch.Metadata.StartLine + end - 1
		md.SymbolType = types.SymbolBlock
		md.ContentHash = types.HashContent(content)
		out = append(out, &Chunk{Metadata: md, Content: content})
	}
	return out
}

// chunkBlocks is the last-resort strategy: fixed-size line blocks
func (c *Chunker) chunkBlocks(filePath string, lang types.Language, source string) []*Chunk {
	lines := strings.Split(source, "\n")

	var out []*Chunk
	for offset := 0; offset < len(lines); offset += MaxChunkLines {
		end := offset + MaxChunkLines
		if end > len(lines) {
			end = len(lines)
		}
		block := lines[offset:end]
		if strings.TrimSpace(strings.Join(block, "")) == "" {
			continue
		}
		out = append(out, newChunk(filePath, lang, types.SymbolBlock, "", lines, offset+1, end))
	}
	return out
}
