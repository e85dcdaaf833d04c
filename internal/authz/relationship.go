package authz

import (
	"context"
	"errors"
	"fmt"
)

// MaxChainDepth bounds ownership chain traversal. Every resource type must
// reach its controlling principals within this many parent hops; the bound
// keeps decision latency a small, fixed number of lookups.
const MaxChainDepth = 3

// RelationshipResolver walks a resource's ownership chain within one tenant
// namespace and reports how a principal relates to it.
type RelationshipResolver struct {
	resources ResourceStore
}

func NewRelationshipResolver(resources ResourceStore) *RelationshipResolver {
	return &RelationshipResolver{resources: resources}
}

// Resolve walks from the referenced resource through its parent chain.
// A missing leaf yields Relationship{Exists: false} rather than an error:
// the decision point owns the choice of how much to reveal. A missing
// ancestor is a data-integrity fault and is surfaced as ErrBrokenChain.
func (r *RelationshipResolver) Resolve(ctx context.Context, namespace, principalID string, ref ResourceRef) (Relationship, error) {
	var rel Relationship
	cur := &ref
	for depth := 0; cur != nil; depth++ {
		if depth > MaxChainDepth {
			return Relationship{}, fmt.Errorf("%w: %s/%s", ErrChainDepthExceeded, ref.Type, ref.ID)
		}
		rec, err := r.resources.Describe(ctx, namespace, *cur)
		if errors.Is(err, ErrNotFound) {
			if depth == 0 {
				return Relationship{}, nil
			}
			return Relationship{}, fmt.Errorf("%w: %s/%s missing parent %s/%s",
				ErrBrokenChain, ref.Type, ref.ID, cur.Type, cur.ID)
		}
		if err != nil {
			return Relationship{}, err
		}
		if depth == 0 {
			rel.Exists = true
			rel.Public = rec.Public
		}
		if principalID != "" && rec.OwnerID != "" && rec.OwnerID == principalID {
			rel.Owner = true
		}
		for _, p := range rec.ParticipantIDs {
			if principalID != "" && p == principalID {
				rel.Participant = true
				break
			}
		}
		if rel.OrganizationID == "" {
			rel.OrganizationID = rec.OrganizationID
		}
		cur = rec.Parent
	}
	return rel, nil
}
