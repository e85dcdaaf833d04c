package authz

import "time"

// Action is a request verb evaluated by the decision point.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Role is an organization-scoped role. Higher roles are strict supersets of
// lower ones; any new role must keep the hierarchy monotonic.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
)

func (r Role) level() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleAgent:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether r grants everything min grants.
func (r Role) AtLeast(min Role) bool {
	return r.level() > 0 && r.level() >= min.level()
}

// Valid reports whether r is a known organization role.
func (r Role) Valid() bool { return r.level() > 0 }

// AppRole is a principal's role within a registered application.
type AppRole string

const (
	AppRoleUser  AppRole = "user"
	AppRoleAdmin AppRole = "admin"
	AppRoleOwner AppRole = "owner"
)

// GrantStatus is the lifecycle status of an app-access grant.
type GrantStatus string

const (
	GrantActive    GrantStatus = "active"
	GrantSuspended GrantStatus = "suspended"
	GrantDeleted   GrantStatus = "deleted"
)

// ResourceType identifies a kind of protected resource.
type ResourceType string

const (
	ResourceConciergeProfile ResourceType = "concierge_profile"
	ResourceClientProfile    ResourceType = "client_profile"
	ResourceConversation     ResourceType = "conversation"
	ResourceMessage          ResourceType = "message"
	ResourceItinerary        ResourceType = "itinerary"
	ResourceItineraryItem    ResourceType = "itinerary_item"
	ResourceInvitation       ResourceType = "invitation"
	ResourceAuditRecord      ResourceType = "audit_record"
)

// ResourceRef identifies one resource instance.
type ResourceRef struct {
	Type ResourceType `json:"type"`
	ID   string       `json:"id"`
}

// Principal is an authenticated actor. Principals are deactivated, never
// hard-deleted; account erasure strips their memberships, grants and data
// but keeps the deactivated row so finished runs stay attributable.
type Principal struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	SystemAdmin  bool      `json:"system_admin"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Organization is a tenant-scoped entity owning memberships and downstream resources.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership links a principal to an organization with exactly one role.
type Membership struct {
	PrincipalID    string    `json:"principal_id"`
	OrganizationID string    `json:"organization_id"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// AppAccessGrant governs whether a principal may operate inside an
// application's namespace at all, prior to any per-resource check.
type AppAccessGrant struct {
	PrincipalID   string      `json:"principal_id"`
	AppExternalID string      `json:"app_external_id"`
	Role          AppRole     `json:"role"`
	Status        GrantStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Invitation scopes a prospective membership. Consumed exactly once.
type Invitation struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Role           Role       `json:"role"`
	Email          string     `json:"email"`
	TokenHash      string     `json:"-"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RoleSnapshot is the Role Resolver output: a point-in-time view of a
// principal's privileges. An unknown or inactive principal yields an empty
// snapshot, which the decision point treats as deny for every non-public action.
type RoleSnapshot struct {
	PrincipalID string
	Known       bool
	SystemAdmin bool
	OrgRoles    map[string]Role
	AppGrants   map[string]AppAccessGrant
}

// OrgRole returns the principal's role within the given organization.
func (s RoleSnapshot) OrgRole(orgID string) (Role, bool) {
	role, ok := s.OrgRoles[orgID]
	return role, ok
}

// HasActiveGrant reports whether the principal holds an active grant for the app.
func (s RoleSnapshot) HasActiveGrant(appExternalID string) bool {
	grant, ok := s.AppGrants[appExternalID]
	return ok && grant.Status == GrantActive
}

// Relationship is the Relationship Resolver output for one (principal, resource) pair.
type Relationship struct {
	Exists         bool
	Owner          bool
	Participant    bool
	OrganizationID string
	Public         bool
}

// Record is the store-level description of a resource: enough to walk its
// ownership chain without knowing the type-specific data shape.
type Record struct {
	Ref            ResourceRef
	OwnerID        string
	ParticipantIDs []string
	OrganizationID string
	Parent         *ResourceRef
	Public         bool
}
