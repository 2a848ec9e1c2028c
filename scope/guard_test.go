package scope

import (
	"context"
	"testing"

	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGuard_Enforce(t *testing.T) {
	ctx := context.Background()
	actor := types.ActorRef{ID: uuid.New(), Type: types.ActorRoleMember}
	target := uuid.New()

	var seen types.PolicyCheck
	allow := NewGuard(types.AuthorizationPolicyFunc(func(_ context.Context, check types.PolicyCheck) error {
		seen = check
		return nil
	}))
	require.NoError(t, allow.Enforce(ctx, actor, types.PolicyActionPreferencesWrite, target))
	require.Equal(t, actor, seen.Actor)
	require.Equal(t, types.PolicyActionPreferencesWrite, seen.Action)
	require.Equal(t, target, seen.Target)

	deny := NewGuard(types.AuthorizationPolicyFunc(func(context.Context, types.PolicyCheck) error {
		return types.ErrUnauthorized
	}))
	require.ErrorIs(t, deny.Enforce(ctx, actor, types.PolicyActionPreferencesWrite, target), types.ErrUnauthorized)

	// An empty action never reaches the policy.
	require.NoError(t, deny.Enforce(ctx, actor, "", target))
}

func TestGuard_NilPolicyAllows(t *testing.T) {
	g := NewGuard(nil)
	err := g.Enforce(context.Background(), types.ActorRef{ID: uuid.New()}, types.PolicyActionHistoryRollback, uuid.New())
	require.NoError(t, err)
}

func TestEnsure(t *testing.T) {
	g := Ensure(nil)
	require.NotNil(t, g)
	require.NoError(t, g.Enforce(context.Background(), types.ActorRef{}, types.PolicyActionPreferencesRead, uuid.Nil))

	deny := NewGuard(types.AuthorizationPolicyFunc(func(context.Context, types.PolicyCheck) error {
		return types.ErrUnauthorized
	}))
	err := Ensure(deny).Enforce(context.Background(), types.ActorRef{}, types.PolicyActionPreferencesRead, uuid.Nil)
	require.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestNopGuard(t *testing.T) {
	err := NopGuard().Enforce(context.Background(), types.ActorRef{}, types.PolicyActionOverridesDecide, uuid.New())
	require.NoError(t, err)
}
