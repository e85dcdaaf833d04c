package authz

import (
	"context"
	"testing"
)

func TestRoleSnapshotUnknownPrincipal(t *testing.T) {
	dir := NewInMemoryDirectory()
	rr := NewRoleResolver(dir)

	snap, err := rr.Resolve(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if snap.Known {
		t.Fatal("unknown principal must yield an empty snapshot, not an error")
	}
	if snap.SystemAdmin || len(snap.OrgRoles) != 0 || len(snap.AppGrants) != 0 {
		t.Fatalf("empty snapshot expected, got %+v", snap)
	}
}

func TestRoleSnapshotInactivePrincipal(t *testing.T) {
	dir := NewInMemoryDirectory()
	rr := NewRoleResolver(dir)

	p := activePrincipal("sleeper")
	p.Active = false
	p.SystemAdmin = true
	dir.PutPrincipal(p)
	dir.PutMembership(Membership{PrincipalID: "sleeper", OrganizationID: "org-1", Role: RoleAdmin})

	snap, err := rr.Resolve(context.Background(), "sleeper")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if snap.SystemAdmin || len(snap.OrgRoles) != 0 {
		t.Fatalf("deactivation must strip all privileges, got %+v", snap)
	}
}

func TestRoleSnapshotAggregation(t *testing.T) {
	dir := NewInMemoryDirectory()
	rr := NewRoleResolver(dir)

	dir.PutPrincipal(activePrincipal("multi"))
	dir.PutMembership(Membership{PrincipalID: "multi", OrganizationID: "org-1", Role: RoleAdmin})
	dir.PutMembership(Membership{PrincipalID: "multi", OrganizationID: "org-2", Role: RoleViewer})
	dir.PutGrant(AppAccessGrant{PrincipalID: "multi", AppExternalID: "app-1", Role: AppRoleUser, Status: GrantActive})
	dir.PutGrant(AppAccessGrant{PrincipalID: "multi", AppExternalID: "app-2", Role: AppRoleOwner, Status: GrantSuspended})

	snap, err := rr.Resolve(context.Background(), "multi")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !snap.Known {
		t.Fatal("known principal")
	}
	if role, ok := snap.OrgRole("org-1"); !ok || role != RoleAdmin {
		t.Fatalf("org-1 admin expected, got %v %v", role, ok)
	}
	if role, ok := snap.OrgRole("org-2"); !ok || role != RoleViewer {
		t.Fatalf("org-2 viewer expected, got %v %v", role, ok)
	}
	if _, ok := snap.OrgRole("org-3"); ok {
		t.Fatal("no membership in org-3")
	}
	if !snap.HasActiveGrant("app-1") {
		t.Fatal("active grant for app-1")
	}
	if snap.HasActiveGrant("app-2") {
		t.Fatal("suspended grant must not count as active")
	}
}

func TestRoleLevels(t *testing.T) {
	if !RoleAdmin.AtLeast(RoleViewer) || !RoleAdmin.AtLeast(RoleAgent) || !RoleAdmin.AtLeast(RoleAdmin) {
		t.Fatal("admin dominates every role")
	}
	if RoleViewer.AtLeast(RoleAgent) {
		t.Fatal("viewer is below agent")
	}
	if !RoleAgent.AtLeast(RoleViewer) {
		t.Fatal("agent dominates viewer")
	}
	if Role("stranger").Valid() {
		t.Fatal("unknown role name must be invalid")
	}
}
