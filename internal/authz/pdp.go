package authz

import (
	"context"
	"fmt"
	"strings"
)

// PDP is the policy decision point. It is a pure function of the role and
// relationship snapshots plus the rule table: it performs no writes and
// keeps no state across decisions.
type PDP struct {
	roles *RoleResolver
	rels  *RelationshipResolver
}

func NewPDP(dir DirectoryStore, resources ResourceStore) *PDP {
	return &PDP{
		roles: NewRoleResolver(dir),
		rels:  NewRelationshipResolver(resources),
	}
}

// Roles exposes the underlying role resolver for callers that need
// privileged authority checks (the lifecycle orchestrator).
func (p *PDP) Roles() *RoleResolver { return p.roles }

// Decide evaluates the precedence chain for one request:
//
//  1. system administrator
//  2. public visibility (read only)
//  3. direct ownership
//  4. organization role
//  5. indirect participant
//  6. deny
//
// namespace must already be resolved; appExternalID gates namespace entry
// via the principal's app-access grant when non-empty.
func (p *PDP) Decide(ctx context.Context, principalID string, action Action, ref ResourceRef, namespace, appExternalID string) (Decision, error) {
	principalID = strings.TrimSpace(principalID)
	if !ValidAction(action) {
		return Decision{}, fmt.Errorf("%w: action %q", ErrInvalidInput, action)
	}
	rule, ok := RuleFor(ref.Type)
	if !ok {
		return Decision{}, fmt.Errorf("%w: resource type %q", ErrInvalidInput, ref.Type)
	}
	if strings.TrimSpace(ref.ID) == "" {
		return Decision{}, fmt.Errorf("%w: resource id is required", ErrInvalidInput)
	}

	snap, err := p.roles.Resolve(ctx, principalID)
	if err != nil {
		return Decision{}, err
	}

	// Rule 1: the super-role short-circuits everything.
	if snap.SystemAdmin {
		return allow(ReasonSystemAdmin), nil
	}

	// Operating inside an application namespace requires an active grant
	// before any per-resource rule applies. Collapsed to not-visible so a
	// suspended principal learns nothing about the resource.
	if appExternalID != "" && !snap.HasActiveGrant(appExternalID) {
		return deny(ReasonNotVisible, ReasonNotVisible), nil
	}

	rel, err := p.rels.Resolve(ctx, namespace, principalID, ref)
	if err != nil {
		return Decision{}, err
	}
	if !rel.Exists {
		// Nonexistent and unauthorized look identical to a principal with
		// no relationship; there is nothing here to relate to.
		return deny(ReasonNotVisible, ReasonNotVisible), nil
	}

	// Rule 2: public wins for read, even over private ownership.
	if action == ActionRead && rule.PublicRead && rel.Public {
		return allow(ReasonPublicRead), nil
	}

	// Rule 3: direct ownership, for types that permit owner self-service.
	if rel.Owner && rule.Owner[action] {
		return allow(ReasonOwner), nil
	}

	// Rule 4: organization role meets or exceeds the action's minimum.
	memberRole, isMember := Role(""), false
	if rel.OrganizationID != "" {
		memberRole, isMember = snap.OrgRole(rel.OrganizationID)
		if min, gated := rule.OrgRole[action]; gated && isMember && memberRole.AtLeast(min) {
			return allow(ReasonOrgRole), nil
		}
	}

	// Rule 5: indirect participant, for the actions that relationship unlocks.
	if rel.Participant && rule.Participant[action] {
		return allow(ReasonParticipant), nil
	}

	// Rule 6: deny, with the most specific reason the taxonomy offers.
	reason := ReasonNotVisible
	switch {
	case isMember:
		reason = ReasonInsufficientRole
	case rel.Participant:
		reason = ReasonNotParticipant
	case len(rule.Owner) > 0:
		reason = ReasonNotOwner
	}

	// Principals with zero relationship to the resource get the generic
	// code so denial does not confirm existence; partial relationships
	// (member of the owning org, participant) may see the specific one.
	surface := reason
	if !rel.Owner && !rel.Participant && !isMember {
		surface = ReasonNotVisible
	}
	return deny(reason, surface), nil
}

// Engine binds the PDP to a namespace resolver so callers present the raw
// application context. Namespace resolution happens first: which resource a
// reference names depends on which tenant is asking.
type Engine struct {
	pdp        *PDP
	namespaces NamespaceResolver
}

func NewEngine(pdp *PDP, namespaces NamespaceResolver) *Engine {
	return &Engine{pdp: pdp, namespaces: namespaces}
}

// Authorize resolves the tenant namespace (fail-closed) and evaluates the
// decision chain. An unresolvable application context fails the whole
// request rather than defaulting to another tenant's data.
func (e *Engine) Authorize(ctx context.Context, principalID string, action Action, ref ResourceRef, appExternalID string) (Decision, error) {
	namespace, err := e.namespaces.ResolveNamespace(ctx, appExternalID)
	if err != nil {
		return Decision{}, err
	}
	return e.pdp.Decide(ctx, principalID, action, ref, namespace, appExternalID)
}

// Roles exposes the role resolver backing this engine.
func (e *Engine) Roles() *RoleResolver { return e.pdp.Roles() }
