// Package model holds the domain entities shared across cortex components:
// Conversation, Message, Embedding, and IndexEntry (see SPEC_FULL.md §3).
package model

import (
	"math"
	"time"
)

// EmbeddingDim is the corpus-wide embedding dimension. Fixed at build time
// per the Open Question resolution in DESIGN.md.
const EmbeddingDim = 768

// UnclusteredID is the sentinel cluster id for conversations that have not
// yet been through a successful projection run.
const UnclusteredID = -1

// UnclusteredLabel is the cluster label paired with UnclusteredID.
const UnclusteredLabel = "unclustered"

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRole reports whether r is one of the recognised roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message is one role-tagged entry in a Conversation's transcript.
type Message struct {
	ConversationID string
	Sequence       int
	Role           Role
	Content        string
}

// Point3D is a 3-D visualisation coordinate.
type Point3D struct {
	X, Y, Z float64
}

// Norm returns the Euclidean norm of p.
func (p Point3D) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// Embedding is the one-to-one enrichment record for a Conversation.
type Embedding struct {
	ConversationID string
	Vector         []float32
	Projected      Point3D // visualisation point
	Start          Point3D // animation start, fixed at origin
	Magnitude      float64 // norm of Projected
}

// Conversation is the top-level entity created by ingestion.
type Conversation struct {
	ID           string
	Title        string
	Summary      string
	Topics       []string
	ClusterID    int
	ClusterLabel string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IndexEntry is the vector index's own record, owned exclusively by the
// vector index package.
type IndexEntry struct {
	ConversationID string
	Document       string
	Vector         []float32
	Metadata       map[string]string
}
