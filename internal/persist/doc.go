// Package persist owns the snapshot lifecycle of the vector index:
// best-effort load at startup, scheduled auto-save, and a final save on
// shutdown, guarded so an empty index never overwrites a populated
// snapshot file.
package persist
