package types

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ActorRef identifies who or what is initiating a mutation or query.
type ActorRef struct {
	ID   uuid.UUID
	Type string
}

const (
	// ActorRoleAdmin represents administrators with override authority; their
	// rollbacks of active project overrides skip the approval pipeline.
	ActorRoleAdmin = "admin"
	// ActorRoleApprover represents actors allowed to decide override requests.
	ActorRoleApprover = "approver"
	// ActorRoleMember represents regular project members.
	ActorRoleMember = "member"
	// ActorRoleService represents machine actors (migrations, seeders).
	ActorRoleService = "service"
)

// RoleName normalizes the actor role for comparisons.
func (a ActorRef) RoleName() string {
	return strings.ToLower(strings.TrimSpace(a.Type))
}

// IsRole reports whether the actor matches the provided role.
func (a ActorRef) IsRole(role string) bool {
	return a.RoleName() == strings.ToLower(strings.TrimSpace(role))
}

// IsAdmin reports whether the actor carries override authority.
func (a ActorRef) IsAdmin() bool { return a.IsRole(ActorRoleAdmin) }

// PolicyAction enumerates the authorization actions enforced by the guard.
// Host applications can remap these to their own ACL systems.
type PolicyAction string

const (
	PolicyActionPreferencesRead  PolicyAction = "preferences:read"
	PolicyActionPreferencesWrite PolicyAction = "preferences:write"
	PolicyActionOverridesPropose PolicyAction = "overrides:propose"
	PolicyActionOverridesDecide  PolicyAction = "overrides:decide"
	PolicyActionOverridesRevoke  PolicyAction = "overrides:revoke"
	PolicyActionOverridesToggle  PolicyAction = "overrides:toggle"
	PolicyActionTemplatesWrite   PolicyAction = "templates:write"
	PolicyActionTemplatesApply   PolicyAction = "templates:apply"
	PolicyActionHistoryRead      PolicyAction = "history:read"
	PolicyActionHistoryRollback  PolicyAction = "history:rollback"
)

// PolicyCheck captures the authorization context for a single command/query.
// Target carries the user or project the action applies to.
type PolicyCheck struct {
	Actor  ActorRef
	Action PolicyAction
	Target uuid.UUID
}

// AuthorizationPolicy governs whether an actor may perform the action. The
// engine never implements roles itself; hosts plug their policy in here.
type AuthorizationPolicy interface {
	Authorize(ctx context.Context, check PolicyCheck) error
}

// AuthorizationPolicyFunc adapts bare functions to AuthorizationPolicy.
type AuthorizationPolicyFunc func(ctx context.Context, check PolicyCheck) error

// Authorize implements AuthorizationPolicy.
func (f AuthorizationPolicyFunc) Authorize(ctx context.Context, check PolicyCheck) error {
	return f(ctx, check)
}

// AllowAllAuthorizationPolicy allows every action.
type AllowAllAuthorizationPolicy struct{}

// Authorize implements AuthorizationPolicy.
func (AllowAllAuthorizationPolicy) Authorize(context.Context, PolicyCheck) error { return nil }

// ErrUnauthorized indicates the configured policy rejected the action.
var ErrUnauthorized = errors.New("go-preferences: actor not authorized for action")
