package authz

import "context"

// DirectoryStore reads platform-global identity and membership state.
// Implementations must return ErrNotFound for unknown principals.
type DirectoryStore interface {
	Principal(ctx context.Context, id string) (Principal, error)
	MembershipsForPrincipal(ctx context.Context, principalID string) ([]Membership, error)
	GrantsForPrincipal(ctx context.Context, principalID string) ([]AppAccessGrant, error)
}

// ResourceStore describes resources within one tenant namespace. Describe
// must return ErrNotFound when the reference does not exist in the given
// namespace; a reference that exists only in another namespace is not found.
type ResourceStore interface {
	Describe(ctx context.Context, namespace string, ref ResourceRef) (Record, error)
}

// DirectoryAdmin mutates platform-global identity state. Provisioning is a
// privileged surface; the decision path only ever reads.
type DirectoryAdmin interface {
	CreatePrincipal(ctx context.Context, email, passwordHash string, systemAdmin bool) (Principal, error)
	PrincipalByEmail(ctx context.Context, email string) (Principal, error)
	DeactivatePrincipal(ctx context.Context, principalID string) error
	CreateOrganization(ctx context.Context, name string) (Organization, error)
	UpsertMembership(ctx context.Context, m Membership) error
	UpsertGrant(ctx context.Context, g AppAccessGrant) error
	CreateInvitation(ctx context.Context, inv Invitation) (Invitation, error)
	// ConsumeInvitation accepts an unexpired invitation exactly once and
	// returns the membership it created.
	ConsumeInvitation(ctx context.Context, tokenHash, principalID string) (Membership, error)
}

// NamespaceResolver maps an application external ID to its data namespace.
// An empty external ID resolves to the platform's own namespace; an unknown
// one is a hard failure, never a fallback.
type NamespaceResolver interface {
	ResolveNamespace(ctx context.Context, appExternalID string) (string, error)
}
