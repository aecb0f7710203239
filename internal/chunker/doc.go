// Package chunker splits source files into symbol-level chunks for
// embedding.
//
// Go files are chunked through the AST: one chunk per function, method,
// type, or const/var group, with doc comments attached. Other supported
// languages use declaration-pattern heuristics with language-appropriate
// block detection (braces, indentation, or end keywords). Files where no
// declaration is recognized fall back to fixed-size line blocks so their
// content is still searchable. Oversized chunks split into consecutive
// blocks that keep the originating symbol name.
package chunker
