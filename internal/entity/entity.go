// Package entity implements entity resolution: given a candidate
// name/type/description extracted from a memory, find the
// existing Entity node it refers to — by exact normalized name, then PERSON
// alias matching, then LLM-verified semantic similarity — or atomically
// create a new one. Resolution always runs through a single Cypher MERGE so
// two concurrent resolutions of the same new name race safely onto one
// node.
package entity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
	"github.com/SergiySeletsky/mem0-sub000/internal/llm"
	"github.com/SergiySeletsky/mem0-sub000/internal/model"
)

// Store is the slice of the graph adapter the resolver uses.
type Store interface {
	RunRead(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error)
	RunWrite(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error)
	VectorSearchEntities(ctx context.Context, userID string, vector []float32, topK int, minScore float64) ([]graphstore.EntityHit, error)
}

// Resolver resolves extracted entity mentions onto graph Entity nodes.
type Resolver struct {
	store Store
	llm   llm.Client
	log   *logrus.Entry
}

func New(store Store, llmClient llm.Client, log *logrus.Entry) *Resolver {
	return &Resolver{store: store, llm: llmClient, log: log}
}

// Resolve finds or creates the Entity matching name/entityType/description
// for userID, applying type and description upgrades when it resolves onto
// an existing node.
func (r *Resolver) Resolve(ctx context.Context, userID, name string, entityType model.EntityType, description string) (*model.Entity, error) {
	normalized := normalizeName(name)

	if existing, err := r.exactMatch(ctx, userID, normalized); err != nil {
		return nil, err
	} else if existing != nil {
		return r.upgrade(ctx, existing, name, entityType, description)
	}

	if entityType == model.EntityTypePerson {
		if existing, err := r.personAliasMatch(ctx, userID, name); err != nil {
			return nil, err
		} else if existing != nil {
			return r.upgrade(ctx, existing, name, entityType, description)
		}
	}

	// Semantic matching is best-effort: an embedding or LLM failure here is
	// logged and falls through to creation rather than failing the resolve.
	if description != "" {
		existing, err := r.semanticMatch(ctx, userID, name, description)
		if err != nil {
			if r.log != nil {
				r.log.WithError(err).WithField("name", name).Debug("semantic entity match unavailable, creating")
			}
		} else if existing != nil {
			return r.upgrade(ctx, existing, name, entityType, description)
		}
	}

	return r.create(ctx, userID, name, normalized, entityType, description)
}

// computeUpgrade decides the type/name/description an existing entity
// should carry after a new mention resolves onto it: the higher-priority
// type wins (model.TypePriority), the longer name wins, and the strictly
// longer description wins.
func computeUpgrade(existing *model.Entity, name string, newType model.EntityType, newDescription string) (finalType model.EntityType, finalName, finalDescription string, descriptionChanged bool) {
	finalType = existing.Type
	if model.TypePriority(newType) > model.TypePriority(existing.Type) {
		finalType = newType
	}

	finalName = existing.Name
	if len(name) > len(existing.Name) {
		finalName = name
	}

	finalDescription = existing.Description
	if len(newDescription) > len(existing.Description) {
		finalDescription = newDescription
		descriptionChanged = true
	}
	return finalType, finalName, finalDescription, descriptionChanged
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.TrimSpace(name)), " "))
}

func (r *Resolver) exactMatch(ctx context.Context, userID, normalized string) (*model.Entity, error) {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {normalizedName: $normalized})
		RETURN e.id AS id, e.name AS name, e.normalizedName AS normalizedName, e.type AS type,
		       e.description AS description, e.rank AS rank
	`
	rows, err := r.store.RunRead(ctx, query, map[string]any{"userId": userID, "normalized": normalized})
	if err != nil {
		return nil, fmt.Errorf("entity: exact match: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToEntity(rows[0], userID), nil
}

// personAliasMatch implements the PERSON alias rule: a shorter
// name (e.g. "Sam") matches an existing PERSON entity whose normalized name
// it prefixes, or that prefixes it (e.g. "Samantha Lee"), treating the two
// as the same person and upgrading to the longer form.
func (r *Resolver) personAliasMatch(ctx context.Context, userID, name string) (*model.Entity, error) {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {type: 'PERSON'})
		RETURN e.id AS id, e.name AS name, e.normalizedName AS normalizedName, e.type AS type,
		       e.description AS description, e.rank AS rank
	`
	rows, err := r.store.RunRead(ctx, query, map[string]any{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("entity: person alias match: %w", err)
	}

	normalized := normalizeName(name)
	for _, row := range rows {
		existingNorm, _ := row["normalizedName"].(string)
		if existingNorm == "" {
			continue
		}
		if strings.HasPrefix(existingNorm, normalized) || strings.HasPrefix(normalized, existingNorm) {
			return rowToEntity(row, userID), nil
		}
	}
	return nil, nil
}

// semanticMatch embeds description, searches entity_vectors for similar
// candidates, and asks the LLM to confirm the first candidate it considers
// plausible refers to the same real-world entity.
func (r *Resolver) semanticMatch(ctx context.Context, userID, name, description string) (*model.Entity, error) {
	embeddings, err := r.llm.Embed(ctx, []string{description})
	if err != nil || len(embeddings) == 0 {
		return nil, fmt.Errorf("entity: embed description for semantic match: %w", err)
	}

	// Floor is deliberately low: this is only a recall
	// filter ahead of the LLM confirmation step below, not the match
	// decision itself, so it's tuned to avoid dropping legitimate candidates.
	candidates, err := r.store.VectorSearchEntities(ctx, userID, embeddings[0], 3, 0.3)
	if err != nil {
		return nil, fmt.Errorf("entity: semantic candidate search: %w", err)
	}

	for _, c := range candidates {
		system := "You decide whether two entity mentions refer to the same real-world person, organization, " +
			"location, product, or concept. Respond with exactly one word: YES or NO."
		user := fmt.Sprintf("Entity A: %s (%s)\nEntity B: %s", name, description, c.Name)
		raw, err := r.llm.Complete(ctx, system, user)
		if err != nil {
			return nil, fmt.Errorf("entity: semantic match llm call: %w", err)
		}
		if strings.Contains(strings.ToUpper(raw), "YES") {
			return r.exactByID(ctx, userID, c.ID)
		}
	}
	return nil, nil
}

func (r *Resolver) exactByID(ctx context.Context, userID, id string) (*model.Entity, error) {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {id: $id})
		RETURN e.id AS id, e.name AS name, e.normalizedName AS normalizedName, e.type AS type,
		       e.description AS description, e.rank AS rank
	`
	rows, err := r.store.RunRead(ctx, query, map[string]any{"userId": userID, "id": id})
	if err != nil {
		return nil, fmt.Errorf("entity: lookup by id: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToEntity(rows[0], userID), nil
}

// upgrade applies the type-priority and description-length upgrade rules
// to an existing entity, persisting only when something
// actually changes, then fires off the description re-embedding.
func (r *Resolver) upgrade(ctx context.Context, existing *model.Entity, name string, newType model.EntityType, newDescription string) (*model.Entity, error) {
	finalType, finalName, finalDescription, descriptionChanged := computeUpgrade(existing, name, newType, newDescription)

	if finalType == existing.Type && finalName == existing.Name && !descriptionChanged {
		return existing, nil
	}

	const query = `
		MATCH (e:Entity {id: $id})
		SET e.type = $type, e.name = $name, e.description = $description, e.updatedAt = datetime()
		RETURN e.id AS id
	`
	_, err := r.store.RunWrite(ctx, query, map[string]any{
		"id":          existing.ID,
		"type":        string(finalType),
		"name":        finalName,
		"description": finalDescription,
	})
	if err != nil {
		return nil, fmt.Errorf("entity: upgrade write: %w", err)
	}

	existing.Type = finalType
	existing.Name = finalName
	existing.Description = finalDescription

	if descriptionChanged {
		r.embedDescriptionAsync(existing.UserID, existing.ID, finalDescription)
	}
	return existing, nil
}

// create atomically merges a new Entity node. MERGE on (userId,
// normalizedName) with ON CREATE SET is what makes two concurrent
// resolutions of a brand-new name converge onto a single node instead of
// racing a duplicate-constraint violation.
func (r *Resolver) create(ctx context.Context, userID, name, normalized string, entityType model.EntityType, description string) (*model.Entity, error) {
	id := uuid.NewString()
	const query = `
		MERGE (u:User {userId: $userId})
		MERGE (u)-[:HAS_ENTITY]->(e:Entity {userId: $userId, normalizedName: $normalized})
		ON CREATE SET e.id = $id, e.name = $name, e.type = $type, e.description = $description,
		              e.createdAt = datetime(), e.updatedAt = datetime(), e.rank = 0.0
		RETURN e.id AS id, e.name AS name, e.normalizedName AS normalizedName, e.type AS type,
		       e.description AS description, e.rank AS rank
	`
	rows, err := r.store.RunWrite(ctx, query, map[string]any{
		"userId":      userID,
		"normalized":  normalized,
		"id":          id,
		"name":        name,
		"type":        string(entityType),
		"description": description,
	})
	if err != nil {
		return nil, fmt.Errorf("entity: create: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("entity: create returned no row")
	}
	entity := rowToEntity(rows[0], userID)

	if description != "" {
		r.embedDescriptionAsync(userID, entity.ID, description)
	}
	return entity, nil
}

// embedDescriptionAsync persists the entity's description embedding
// fire-and-forget: the caller's write has already committed the Entity
// node, and a missing embedding only degrades future semantic matches, not
// correctness of the just-completed write.
func (r *Resolver) embedDescriptionAsync(userID, entityID, description string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		embeddings, err := r.llm.Embed(ctx, []string{description})
		if err != nil || len(embeddings) == 0 {
			if r.log != nil {
				r.log.WithError(err).WithField("entityId", entityID).Warn("background entity description embedding failed")
			}
			return
		}

		const query = `MATCH (e:Entity {id: $id}) SET e.descriptionEmbedding = $embedding`
		if _, err := r.store.RunWrite(ctx, query, map[string]any{"id": entityID, "embedding": embeddings[0]}); err != nil && r.log != nil {
			r.log.WithError(err).WithField("entityId", entityID).Warn("background entity description embedding persist failed")
		}
	}()
}

// DeleteEntity removes an Entity node and its edges. This is an explicit
// admin operation; regular writes never delete entities.
func (r *Resolver) DeleteEntity(ctx context.Context, userID, entityID string) error {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {id: $id})
		DETACH DELETE e
	`
	_, err := r.store.RunWrite(ctx, query, map[string]any{"userId": userID, "id": entityID})
	if err != nil {
		return fmt.Errorf("entity: delete: %w", err)
	}
	return nil
}

func rowToEntity(row graphstore.Record, userID string) *model.Entity {
	e := &model.Entity{UserID: userID}
	if v, ok := row["id"].(string); ok {
		e.ID = v
	}
	if v, ok := row["name"].(string); ok {
		e.Name = v
	}
	if v, ok := row["normalizedName"].(string); ok {
		e.NormalizedName = v
	}
	if v, ok := row["type"].(string); ok {
		e.Type = model.EntityType(v)
	}
	if v, ok := row["description"].(string); ok {
		e.Description = v
	}
	if v, ok := row["rank"].(float64); ok {
		e.Rank = v
	}
	return e
}
