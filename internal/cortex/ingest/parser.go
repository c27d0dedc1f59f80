// Package ingest implements the bounded-concurrency ingestion orchestrator
// (SPEC_FULL.md §4.1): validate → parse (external) → per-item pipeline
// (normalise → summarise → identify → prepare embedding input → embed →
// persist → upsert index) → aggregate response.
package ingest

import (
	"manifold/internal/cortex/model"
)

// ParsedConversation is what the external parser hands back for one
// conversation found in an uploaded bundle: a vendor-supplied title (may be
// empty or the sentinel "Untitled") and its raw messages in vendor order.
type ParsedConversation struct {
	Title    string
	Messages []model.Message
}

// Parser turns raw uploaded bytes into a list of conversations. HTML
// parsing of specific vendor export formats is an external collaborator
// (SPEC_FULL.md §1 Out of scope) specified only at this interface; no
// component in this package implements vendor-specific HTML parsing.
type Parser interface {
	// Parse returns an error of kind cortexerr.UnsupportedFormat when no
	// vendor is detected in raw.
	Parse(raw []byte) ([]ParsedConversation, error)
}
