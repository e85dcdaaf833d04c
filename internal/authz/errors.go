package authz

import "errors"

var (
	ErrNotFound           = errors.New("authz: not found")
	ErrInvalidInput       = errors.New("authz: invalid input")
	ErrUnauthenticated    = errors.New("authz: unauthenticated")
	ErrChainDepthExceeded = errors.New("authz: ownership chain depth exceeded")
	ErrBrokenChain        = errors.New("authz: broken ownership chain")
)

// Reason is a decision outcome code drawn from a closed taxonomy.
type Reason string

const (
	// Allow reasons, ordered by rule precedence.
	ReasonSystemAdmin Reason = "system-admin"
	ReasonPublicRead  Reason = "public-read"
	ReasonOwner       Reason = "owner"
	ReasonOrgRole     Reason = "organization-role"
	ReasonParticipant Reason = "participant"

	// Deny reasons.
	ReasonNotOwner         Reason = "not-owner"
	ReasonInsufficientRole Reason = "insufficient-role"
	ReasonNotParticipant   Reason = "not-participant"
	ReasonNotVisible       Reason = "resource-not-visible"
)

// Decision is the decision point's verdict. Reason is the precise internal
// code used for auditing; Surface is the caller-facing code after collapsing
// anything that would leak resource existence to unrelated principals.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"-"`
	Surface Reason `json:"reason,omitempty"`
}

func allow(reason Reason) Decision {
	return Decision{Allowed: true, Reason: reason, Surface: reason}
}

func deny(reason, surface Reason) Decision {
	return Decision{Allowed: false, Reason: reason, Surface: surface}
}
