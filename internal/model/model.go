// Package model defines the logical records of the per-user knowledge graph:
// Users, Memories, Entities, Categories, Communities, and the typed edges
// between them. These are storage-agnostic; internal/graphstore maps them
// onto Cypher parameters and back.
package model

import "time"

// MemoryState is the lifecycle state of a Memory node.
type MemoryState string

const (
	MemoryStateActive     MemoryState = "active"
	MemoryStateDeleted    MemoryState = "deleted"
	MemoryStateArchived   MemoryState = "archived"
	MemoryStateSuperseded MemoryState = "superseded"
)

// Memory is a durable text fact belonging to exactly one User.
type Memory struct {
	ID         string
	UserID     string
	Content    string
	State      MemoryState
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ValidAt    time.Time
	InvalidAt  *time.Time // nil means currently valid
	Embedding  []float32
	AppName    string
	Categories []string
}

// Live reports whether the memory is visible to default reads:
// state != 'deleted' AND invalidAt IS NULL.
func (m *Memory) Live() bool {
	return m.State != MemoryStateDeleted && m.InvalidAt == nil
}

// EntityType is the open-ontology type label on an Entity node.
// The enumerated priority list is PERSON > ORGANIZATION > LOCATION >
// PRODUCT > CONCEPT > OTHER; anything outside that list is a
// domain-specific label ranked above CONCEPT/OTHER (see TypePriority).
type EntityType string

const (
	EntityTypePerson       EntityType = "PERSON"
	EntityTypeOrganization EntityType = "ORGANIZATION"
	EntityTypeLocation     EntityType = "LOCATION"
	EntityTypeProduct      EntityType = "PRODUCT"
	EntityTypeConcept      EntityType = "CONCEPT"
	EntityTypeOther        EntityType = "OTHER"
)

// enumeratedPriority ranks the closed set of well-known types from most to
// least specific. Higher value wins on upgrade (see TypePriority).
var enumeratedPriority = map[EntityType]int{
	EntityTypePerson:       100,
	EntityTypeOrganization: 90,
	EntityTypeLocation:     80,
	EntityTypeProduct:      70,
	EntityTypeConcept:      10,
	EntityTypeOther:        0,
}

// TypePriority returns the upgrade-ordering rank of an entity type. Types
// outside the enumerated list (e.g. "SERVICE", "DATABASE") are treated as
// domain-specific and rank strictly above CONCEPT/OTHER but below the four
// named top-level categories.
func TypePriority(t EntityType) int {
	if p, ok := enumeratedPriority[t]; ok {
		return p
	}
	return 50 // open-ontology domain label
}

// Entity is a person, org, location, product, concept, or domain label.
type Entity struct {
	ID                  string
	UserID              string
	Name                string
	NormalizedName      string
	Type                EntityType
	Description         string
	DescriptionEmbedding []float32
	Rank                float64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Category is a shared, global (non-per-user) classification label.
type Category struct {
	Name string
}

// Community is a cluster of related Memories owned by a User.
type Community struct {
	ID          string
	UserID      string
	Name        string
	Summary     string
	Rank        int
	Findings    []string
	MemberCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Relationship is a typed, bi-temporal edge between two Entities
// (RELATED_TO in the graph).
type Relationship struct {
	SourceEntityID string
	TargetEntityID string
	Type           string
	Description    string
	Metadata       map[string]string
	Weight         float64
	CreatedAt      time.Time
	InvalidAt      *time.Time
}

// DedupAction is the outcome of the deduplication engine.
type DedupAction string

const (
	DedupActionInsert    DedupAction = "insert"
	DedupActionSkip      DedupAction = "skip"
	DedupActionSupersede DedupAction = "supersede"
)

// PairVerdict is the LLM pair classifier's verdict on two memory texts.
type PairVerdict string

const (
	PairVerdictDuplicate  PairVerdict = "DUPLICATE"
	PairVerdictSupersedes PairVerdict = "SUPERSEDES"
	PairVerdictDifferent  PairVerdict = "DIFFERENT"
)

// WriteEvent is the per-item outcome of a batch add.
type WriteEvent string

const (
	WriteEventAdd           WriteEvent = "ADD"
	WriteEventSupersede     WriteEvent = "SUPERSEDE"
	WriteEventSkipDuplicate WriteEvent = "SKIP_DUPLICATE"
	WriteEventError         WriteEvent = "ERROR"
)
