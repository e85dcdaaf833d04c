package authz

// Rule is one centralized entry of the per-resource-type rule table. Each
// field maps onto one step of the decision precedence chain; keeping the
// whole table in one place makes the five precedence rules auditable
// together instead of drifting across per-type predicates.
type Rule struct {
	// PublicRead allows read for anyone when the resource itself is
	// flagged public. Public wins over private ownership for reads.
	PublicRead bool

	// Owner lists the actions direct ownership unlocks. Most types allow
	// full owner self-service; a few (audit records) never let ownership
	// grant writes.
	Owner map[Action]bool

	// OrgRole gives the minimum organization role per action. A higher
	// role inherits everything a lower role may do.
	OrgRole map[Action]Role

	// Participant lists the actions an indirect participant relationship
	// unlocks (read and create, never delete of others' content).
	Participant map[Action]bool
}

var (
	ownerFull = map[Action]bool{
		ActionRead: true, ActionUpdate: true, ActionDelete: true,
	}
	ownerReadOnly = map[Action]bool{
		ActionRead: true,
	}
	participantReadCreate = map[Action]bool{
		ActionRead: true, ActionCreate: true,
	}
)

var ruleTable = map[ResourceType]Rule{
	ResourceConciergeProfile: {
		PublicRead: true,
		Owner:      ownerFull,
		OrgRole: map[Action]Role{
			ActionRead:   RoleViewer,
			ActionCreate: RoleAgent,
			ActionUpdate: RoleAgent,
			ActionDelete: RoleAdmin,
		},
	},
	ResourceClientProfile: {
		Owner: ownerFull,
		OrgRole: map[Action]Role{
			ActionRead:   RoleViewer,
			ActionCreate: RoleAgent,
			ActionUpdate: RoleAgent,
			ActionDelete: RoleAdmin,
		},
	},
	ResourceConversation: {
		OrgRole: map[Action]Role{
			ActionRead:   RoleAdmin,
			ActionDelete: RoleAdmin,
		},
		Participant: participantReadCreate,
	},
	ResourceMessage: {
		// The sender owns their own messages; participants of the parent
		// conversation may read and post but never delete others' content.
		Owner: ownerFull,
		OrgRole: map[Action]Role{
			ActionRead: RoleAdmin,
		},
		Participant: participantReadCreate,
	},
	ResourceItinerary: {
		PublicRead: true,
		Owner:      ownerFull,
		OrgRole: map[Action]Role{
			ActionRead:   RoleViewer,
			ActionCreate: RoleAgent,
			ActionUpdate: RoleAgent,
			ActionDelete: RoleAdmin,
		},
	},
	ResourceItineraryItem: {
		Owner: ownerFull,
		OrgRole: map[Action]Role{
			ActionRead:   RoleViewer,
			ActionCreate: RoleAgent,
			ActionUpdate: RoleAgent,
			ActionDelete: RoleAdmin,
		},
	},
	ResourceInvitation: {
		// Invitations have no individual owner; organization-role logic
		// decides, and only admins manage them.
		OrgRole: map[Action]Role{
			ActionRead:   RoleAdmin,
			ActionCreate: RoleAdmin,
			ActionUpdate: RoleAdmin,
			ActionDelete: RoleAdmin,
		},
	},
	ResourceAuditRecord: {
		Owner: ownerReadOnly,
		OrgRole: map[Action]Role{
			ActionRead: RoleAdmin,
		},
	},
}

// RuleFor returns the rule table entry for a resource type.
func RuleFor(t ResourceType) (Rule, bool) {
	rule, ok := ruleTable[t]
	return rule, ok
}

// KnownResourceType reports whether t has a rule table entry.
func KnownResourceType(t ResourceType) bool {
	_, ok := ruleTable[t]
	return ok
}

// ValidAction reports whether a is a recognized action verb.
func ValidAction(a Action) bool {
	switch a {
	case ActionRead, ActionCreate, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}
