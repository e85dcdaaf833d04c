package authz

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testNS = "app_one"

type staticNamespaces map[string]string

func (s staticNamespaces) ResolveNamespace(_ context.Context, appExternalID string) (string, error) {
	if appExternalID == "" {
		return "platform", nil
	}
	ns, ok := s[appExternalID]
	if !ok {
		return "", errors.New("application not found")
	}
	return ns, nil
}

func newFixture() (*InMemoryDirectory, *InMemoryResources, *PDP) {
	dir := NewInMemoryDirectory()
	res := NewInMemoryResources()
	return dir, res, NewPDP(dir, res)
}

func activePrincipal(id string) Principal {
	now := time.Now().UTC()
	return Principal{ID: id, Email: id + "@example.com", Active: true, CreatedAt: now, UpdatedAt: now}
}

func TestDenyByDefaultForFreshPrincipal(t *testing.T) {
	dir, res, pdp := newFixture()
	ctx := context.Background()

	dir.PutPrincipal(activePrincipal("fresh"))
	res.Put(testNS, Record{
		Ref:            ResourceRef{Type: ResourceClientProfile, ID: "c1"},
		OwnerID:        "someone-else",
		OrganizationID: "org-1",
	})

	for _, action := range []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete} {
		d, err := pdp.Decide(ctx, "fresh", action, ResourceRef{Type: ResourceClientProfile, ID: "c1"}, testNS, "")
		if err != nil {
			t.Fatalf("Decide(%s): %v", action, err)
		}
		if d.Allowed {
			t.Fatalf("expected deny for %s, got allow (%s)", action, d.Reason)
		}
		if d.Surface != ReasonNotVisible {
			t.Fatalf("expected collapsed surface reason for stranger, got %s", d.Surface)
		}
	}
}

func TestSystemAdminAllowsEverything(t *testing.T) {
	dir, _, pdp := newFixture()
	ctx := context.Background()

	admin := activePrincipal("root")
	admin.SystemAdmin = true
	dir.PutPrincipal(admin)

	// Even a reference that does not exist: the super-role short-circuits.
	d, err := pdp.Decide(ctx, "root", ActionDelete, ResourceRef{Type: ResourceMessage, ID: "missing"}, testNS, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Allowed || d.Reason != ReasonSystemAdmin {
		t.Fatalf("expected system-admin allow, got %+v", d)
	}
}

func TestInactivePrincipalLosesPrivileges(t *testing.T) {
	dir, res, pdp := newFixture()
	ctx := context.Background()

	p := activePrincipal("dormant")
	p.Active = false
	dir.PutPrincipal(p)
	dir.PutMembership(Membership{PrincipalID: "dormant", OrganizationID: "org-1", Role: RoleAdmin})
	res.Put(testNS, Record{
		Ref:            ResourceRef{Type: ResourceClientProfile, ID: "c1"},
		OrganizationID: "org-1",
	})

	d, err := pdp.Decide(ctx, "dormant", ActionRead, ResourceRef{Type: ResourceClientProfile, ID: "c1"}, testNS, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Allowed {
		t.Fatal("deactivated principal should be denied")
	}
}

func TestPublicReadWinsOverPrivateOwnership(t *testing.T) {
	dir, res, pdp := newFixture()
	ctx := context.Background()

	dir.PutPrincipal(activePrincipal("anyone"))
	res.Put(testNS, Record{
		Ref:            ResourceRef{Type: ResourceItinerary, ID: "it-1"},
		OwnerID:        "owner-1",
		OrganizationID: "org-1",
		Public:         true,
	})

	d, err := pdp.Decide(ctx, "anyone", ActionRead, ResourceRef{Type: ResourceItinerary, ID: "it-1"}, testNS, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Allowed || d.Reason != ReasonPublicRead {
		t.Fatalf("expected public-read allow, got %+v", d)
	}

	// Public never unlocks writes.
	d, err = pdp.Decide(ctx, "anyone", ActionUpdate, ResourceRef{Type: ResourceItinerary, ID: "it-1"}, testNS, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Allowed {
		t.Fatal("public flag must not unlock update")
	}
}

func TestOwnerSelfService(t *testing.T) {
	dir, res, pdp := newFixture()
	ctx := context.Background()

	dir.PutPrincipal(activePrincipal("owner-1"))
	res.Put(testNS, Record{
		Ref:     ResourceRef{Type: ResourceClientProfile, ID: "c1"},
		OwnerID: "owner-1",
	})

	for _, action := range []Action{ActionRead, ActionUpdate, ActionDelete} {
		d, err := pdp.Decide(ctx, "owner-1", action, ResourceRef{Type: ResourceClientProfile, ID: "c1"}, testNS, "")
		if err != nil {
			t.Fatalf("Decide(%s): %v", action, err)
		}
		if !d.Allowed || d.Reason != ReasonOwner {
			t.Fatalf("expected owner allow for %s, got %+v", action, d)
		}
	}
}

func TestAuditRecordOwnershipNeverGrantsWrite(t *testing.T) {
	dir, res, pdp := newFixture()
	ctx := context.Background()

	dir.PutPrincipal(activePrincipal("actor"))
	res.Put(testNS, Record{
		Ref:            ResourceRef{Type: ResourceAuditRecord, ID: "a1"},
		OwnerID:        "actor",
		OrganizationID: "org-1",
	})

	d, err := pdp.Decide(ctx, "actor", ActionRead, ResourceRef{Type: ResourceAuditRecord, ID: "a1"}, testNS, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Allowed {
		t.Fatal("owner should read own audit record")
	}
	for _, action := range []Action{ActionUpdate, ActionDelete} {
		d, err := pdp.Decide(ctx, "actor", action, ResourceRef{Type: ResourceAuditRecord, ID: "a1"}, testNS, "")
		if err != nil {
			t.Fatalf("Decide(%s): %v", action, err)
		}
		if d.Allowed {
			t.Fatalf("ownership must not grant %s on audit records", action)
		}
	}
}

func TestOrgRoleMonotonicity(t *testing.T) {
	dir, res, pdp := newFixture()
	ctx := context.Background()

	for id, role := range map[string]Role{"v": RoleViewer, "a": RoleAgent, "ad": RoleAdmin} {
		dir.PutPrincipal(activePrincipal(id))
		dir.PutMembership(Membership{PrincipalID: id, OrganizationID: "org-1", Role: role})
	}
	res.Put(testNS, Record{
		Ref:            ResourceRef{Type: ResourceClientProfile, ID: "c1"},
		OwnerID:        "owner-elsewhere",
		OrganizationID: "org-1",
	})

	ref := ResourceRef{Type: ResourceClientProfile, ID: "c1"}
	actions := []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete}
	allowed := func(principal string, action Action) bool {
		d, err := pdp.Decide(ctx, principal, action, ref, testNS, "")
		if err != nil {
			t.Fatalf("Decide(%s, %s): %v", principal, action, err)
		}
		return d.Allowed
	}

	for _, action := range actions {
		v, a, ad := allowed("v", action), allowed("a", action), allowed("ad", action)
		if v && !a {
			t.Fatalf("viewer allowed %s but agent denied", action)
		}
		if a && !ad {
			t.Fatalf("agent allowed %s but admin denied", action)
		}
	}
	if !allowed("v", ActionRead) {
		t.Fatal("viewer should read org-scoped client profile")
	}
	if allowed("v", ActionUpdate) {
		t.Fatal("viewer must not update")
	}
	if !allowed("a", ActionUpdate) {
		t.Fatal("agent should update (scenario B)")
	}
	if allowed("a", ActionDelete) {
		t.Fatal("delete requires admin")
	}
	if !allowed("ad", ActionDelete) {
		t.Fatal("admin should delete")
	}
}

func TestInsufficientRoleSurfacesSpecificReason(t *testing.T) {
	dir, res, pdp := newFixture()
	ctx := context.Background()

	dir.PutPrincipal(activePrincipal("v"))
	dir.PutMembership(Membership{PrincipalID: "v", OrganizationID: "org-1", Role: RoleViewer})
	res.Put(testNS, Record{
		Ref:            ResourceRef{Type: ResourceClientProfile, ID: "c1"},
		OrganizationID: "org-1",
	})

	d, err := pdp.Decide(ctx, "v", ActionDelete, ResourceRef{Type: ResourceClientProfile, ID: "c1"}, testNS, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Allowed {
		t.Fatal("viewer must not delete")
	}
	// An org member has a partial relationship: the specific reason is safe.
	if d.Surface != ReasonInsufficientRole {
		t.Fatalf("expected insufficient-role surface for org member, got %s", d.Surface)
	}
}

func TestConversationParticipants(t *testing.T) {
	dir, res, pdp := newFixture()
	ctx := context.Background()

	// Scenario C: U owns the client side, V is the concierge, W is unrelated.
	for _, id := range []string{"u", "v", "w"} {
		dir.PutPrincipal(activePrincipal(id))
	}
	conv := ResourceRef{Type: ResourceConversation, ID: "conv-1"}
	res.Put(testNS, Record{
		Ref:            conv,
		ParticipantIDs: []string{"u", "v"},
		OrganizationID: "org-1",
	})
	res.Put(testNS, Record{
		Ref:     ResourceRef{Type: ResourceMessage, ID: "m1"},
		OwnerID: "u",
		Parent:  &conv,
	})

	msg := ResourceRef{Type: ResourceMessage, ID: "m1"}

	// The concierge side may read and reply.
	for _, action := range []Action{ActionRead, ActionCreate} {
		d, err := pdp.Decide(ctx, "v", action, msg, testNS, "")
		if err != nil {
			t.Fatalf("Decide(v, %s): %v", action, err)
		}
		if !d.Allowed || d.Reason != ReasonParticipant {
			t.Fatalf("expected participant allow for %s, got %+v", action, d)
		}
	}

	// Participants never delete others' content.
	d, err := pdp.Decide(ctx, "v", ActionDelete, msg, testNS, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Allowed {
		t.Fatal("participant must not delete another's message")
	}

	// The sender may delete their own message via ownership.
	d, err = pdp.Decide(ctx, "u", ActionDelete, msg, testNS, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Allowed || d.Reason != ReasonOwner {
		t.Fatalf("expected owner delete, got %+v", d)
	}

	// A stranger sees nothing.
	d, err = pdp.Decide(ctx, "w", ActionRead, msg, testNS, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Allowed || d.Surface != ReasonNotVisible {
		t.Fatalf("expected collapsed deny for stranger, got %+v", d)
	}
}

func TestAppGrantGatesNamespaceEntry(t *testing.T) {
	dir, res, pdp := newFixture()
	ctx := context.Background()

	dir.PutPrincipal(activePrincipal("u"))
	res.Put(testNS, Record{
		Ref:     ResourceRef{Type: ResourceClientProfile, ID: "c1"},
		OwnerID: "u",
	})

	ref := ResourceRef{Type: ResourceClientProfile, ID: "c1"}

	// No grant: denied before per-resource rules, even for the owner.
	d, err := pdp.Decide(ctx, "u", ActionRead, ref, testNS, "app-1")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Allowed || d.Surface != ReasonNotVisible {
		t.Fatalf("expected not-visible deny without grant, got %+v", d)
	}

	dir.PutGrant(AppAccessGrant{PrincipalID: "u", AppExternalID: "app-1", Role: AppRoleUser, Status: GrantActive})
	d, err = pdp.Decide(ctx, "u", ActionRead, ref, testNS, "app-1")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected owner allow with active grant, got %+v", d)
	}

	dir.PutGrant(AppAccessGrant{PrincipalID: "u", AppExternalID: "app-1", Role: AppRoleUser, Status: GrantSuspended})
	d, err = pdp.Decide(ctx, "u", ActionRead, ref, testNS, "app-1")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Allowed {
		t.Fatal("suspended grant must gate namespace entry")
	}
}

func TestAllowImpliesARuleHeld(t *testing.T) {
	dir, res, pdp := newFixture()
	ctx := context.Background()

	dir.PutPrincipal(activePrincipal("member"))
	dir.PutMembership(Membership{PrincipalID: "member", OrganizationID: "org-1", Role: RoleAgent})
	dir.PutPrincipal(activePrincipal("owner"))
	conv := ResourceRef{Type: ResourceConversation, ID: "cv"}
	res.Put(testNS, Record{Ref: conv, ParticipantIDs: []string{"member"}, OrganizationID: "org-1"})
	res.Put(testNS, Record{
		Ref:            ResourceRef{Type: ResourceItinerary, ID: "i1"},
		OwnerID:        "owner",
		OrganizationID: "org-1",
		Public:         true,
	})

	cases := []struct {
		principal string
		action    Action
		ref       ResourceRef
	}{
		{"member", ActionRead, ResourceRef{Type: ResourceItinerary, ID: "i1"}},
		{"member", ActionUpdate, ResourceRef{Type: ResourceItinerary, ID: "i1"}},
		{"member", ActionRead, conv},
		{"owner", ActionDelete, ResourceRef{Type: ResourceItinerary, ID: "i1"}},
	}
	for _, tc := range cases {
		d, err := pdp.Decide(ctx, tc.principal, tc.action, tc.ref, testNS, "")
		if err != nil {
			t.Fatalf("Decide(%s, %s, %s): %v", tc.principal, tc.action, tc.ref.Type, err)
		}
		if !d.Allowed {
			t.Fatalf("expected allow for %+v, got %+v", tc, d)
		}
		switch d.Reason {
		case ReasonSystemAdmin, ReasonPublicRead, ReasonOwner, ReasonOrgRole, ReasonParticipant:
		default:
			t.Fatalf("allow must cite a precedence rule, got %s", d.Reason)
		}
	}
}

func TestEngineFailsClosedOnUnknownApplication(t *testing.T) {
	dir, res, pdp := newFixture()
	engine := NewEngine(pdp, staticNamespaces{"app-1": testNS})
	ctx := context.Background()

	dir.PutPrincipal(activePrincipal("u"))
	res.Put(testNS, Record{Ref: ResourceRef{Type: ResourceClientProfile, ID: "c1"}, OwnerID: "u"})

	if _, err := engine.Authorize(ctx, "u", ActionRead, ResourceRef{Type: ResourceClientProfile, ID: "c1"}, "ghost-app"); err == nil {
		t.Fatal("unknown application must fail the request")
	}
}

func TestDecideRejectsInvalidInput(t *testing.T) {
	_, _, pdp := newFixture()
	ctx := context.Background()

	if _, err := pdp.Decide(ctx, "u", Action("drop"), ResourceRef{Type: ResourceMessage, ID: "m"}, testNS, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for action, got %v", err)
	}
	if _, err := pdp.Decide(ctx, "u", ActionRead, ResourceRef{Type: "blob", ID: "m"}, testNS, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for resource type, got %v", err)
	}
	if _, err := pdp.Decide(ctx, "u", ActionRead, ResourceRef{Type: ResourceMessage}, testNS, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing id, got %v", err)
	}
}
