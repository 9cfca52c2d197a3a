// Package export writes the state document to a portable JSON file and reads
// one back. Decode is the gate for hostile input: an imported file is
// arbitrary JSON, so every field is type-checked, range-clamped and
// length-capped before it may enter the document; only an unrecognizable
// top-level shape rejects the whole import.
package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/lurioneli/Sleep-Suivour/internal/document"
	"github.com/lurioneli/Sleep-Suivour/internal/reconcile"
)

// Mode selects how an import is applied.
type Mode string

const (
	// ModeReplace swaps the current document for the imported one.
	ModeReplace Mode = "replace"
	// ModeMerge merges the imported document into the current one using
	// the same rules as a remote snapshot merge.
	ModeMerge Mode = "merge"
)

// ErrInvalidImport reports a file whose top-level shape is not a state
// document. Unlike field-level garbage, this rejects the entire import.
var ErrInvalidImport = fmt.Errorf("invalid import file")

// Encode writes the document as indented JSON.
func Encode(w io.Writer, doc *document.Document) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return nil
}

// Decode reads and sanitizes an exported document. Field-level problems are
// coerced or dropped (out-of-range goals clamp, negative-duration entries
// disappear); a wrong top-level shape fails with ErrInvalidImport.
func Decode(r io.Reader, now document.Millis) (*document.Document, error) {
	raw, err := io.ReadAll(io.LimitReader(r, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read import: %w", err)
	}
	doc, err := document.Decode(raw, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	return doc, nil
}

// Apply combines current and imported according to mode and returns the
// resulting document plus merge effects (empty for replace mode).
func Apply(current, imported *document.Document, mode Mode, now document.Millis) (*document.Document, reconcile.Effects, error) {
	switch mode {
	case ModeReplace:
		replaced := imported.Clone()
		replaced.Normalize(now)
		return replaced, reconcile.Effects{}, nil
	case ModeMerge:
		merged, effects := reconcile.MergeDocuments(current, imported, now)
		return merged, effects, nil
	default:
		return nil, reconcile.Effects{}, fmt.Errorf("unknown import mode %q", mode)
	}
}
