package command

import (
	"context"
	"time"

	"github.com/goliatone/go-preferences/cache"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/scope"
)

func safeClock(clock types.Clock) types.Clock {
	if clock != nil {
		return clock
	}
	return types.SystemClock{}
}

func safeLogger(logger types.Logger) types.Logger {
	if logger != nil {
		return logger
	}
	return types.NopLogger{}
}

func safeIDGen(idGen types.IDGenerator) types.IDGenerator {
	if idGen != nil {
		return idGen
	}
	return types.UUIDGenerator{}
}

func safeHooks(hooks types.Hooks) types.Hooks {
	return hooks
}

func safeScopeGuard(g scope.Guard) scope.Guard {
	return scope.Ensure(g)
}

func safeInvalidator(inv cache.Invalidator) cache.Invalidator {
	if inv != nil {
		return inv
	}
	return cache.Nop{}
}

func now(clock types.Clock) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock.Now()
}

func emitChangeHook(ctx context.Context, hooks types.Hooks, event types.ChangeEvent) {
	if hooks.AfterChange == nil {
		return
	}
	hooks.AfterChange(ctx, event)
}
