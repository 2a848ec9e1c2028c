package command

import (
	"context"

	gocommand "github.com/goliatone/go-command"
	"github.com/goliatone/go-preferences/history"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/scope"
	"github.com/google/uuid"
)

// RollbackCommandConfig wires dependencies for rollback commands.
type RollbackCommandConfig struct {
	Rollbacker *history.Rollbacker
	ScopeGuard scope.Guard
	Logger     types.Logger
}

// RollbackInput reverts a single recorded change.
type RollbackInput struct {
	ChangeID uuid.UUID
	Actor    types.ActorRef
	Result   *types.ChangeRecord
}

// Type implements gocommand.Message.
func (RollbackInput) Type() string {
	return "command.history.rollback"
}

// Validate implements gocommand.Message.
func (input RollbackInput) Validate() error {
	switch {
	case input.ChangeID == uuid.Nil:
		return ErrChangeIDRequired
	case input.Actor.ID == uuid.Nil:
		return ErrActorRequired
	default:
		return nil
	}
}

// RollbackCommand reverts one change through the rollback service.
type RollbackCommand struct {
	rollbacker *history.Rollbacker
	guard      scope.Guard
	logger     types.Logger
}

// NewRollbackCommand constructs the handler.
func NewRollbackCommand(cfg RollbackCommandConfig) *RollbackCommand {
	return &RollbackCommand{
		rollbacker: cfg.Rollbacker,
		guard:      safeScopeGuard(cfg.ScopeGuard),
		logger:     safeLogger(cfg.Logger),
	}
}

var _ gocommand.Commander[RollbackInput] = (*RollbackCommand)(nil)

// Execute reverts the change.
func (c *RollbackCommand) Execute(ctx context.Context, input RollbackInput) error {
	if c.rollbacker == nil {
		return types.ErrMissingRollbacker
	}
	if err := input.Validate(); err != nil {
		return err
	}
	if err := c.guard.Enforce(ctx, input.Actor, types.PolicyActionHistoryRollback, input.ChangeID); err != nil {
		return err
	}
	entry, err := c.rollbacker.Rollback(ctx, input.ChangeID, input.Actor.ID)
	if err != nil {
		return err
	}
	if input.Result != nil && entry != nil {
		*input.Result = *entry
	}
	return nil
}

// RollbackBatchInput reverts every change in a recorded batch.
type RollbackBatchInput struct {
	BatchID uuid.UUID
	Actor   types.ActorRef
	Result  *[]types.ChangeRecord
}

// Type implements gocommand.Message.
func (RollbackBatchInput) Type() string {
	return "command.history.rollback_batch"
}

// Validate implements gocommand.Message.
func (input RollbackBatchInput) Validate() error {
	switch {
	case input.BatchID == uuid.Nil:
		return ErrBatchIDRequired
	case input.Actor.ID == uuid.Nil:
		return ErrActorRequired
	default:
		return nil
	}
}

// RollbackBatchCommand reverts a whole batch atomically.
type RollbackBatchCommand struct {
	rollbacker *history.Rollbacker
	guard      scope.Guard
	logger     types.Logger
}

// NewRollbackBatchCommand constructs the handler.
func NewRollbackBatchCommand(cfg RollbackCommandConfig) *RollbackBatchCommand {
	return &RollbackBatchCommand{
		rollbacker: cfg.Rollbacker,
		guard:      safeScopeGuard(cfg.ScopeGuard),
		logger:     safeLogger(cfg.Logger),
	}
}

var _ gocommand.Commander[RollbackBatchInput] = (*RollbackBatchCommand)(nil)

// Execute reverts the batch.
func (c *RollbackBatchCommand) Execute(ctx context.Context, input RollbackBatchInput) error {
	if c.rollbacker == nil {
		return types.ErrMissingRollbacker
	}
	if err := input.Validate(); err != nil {
		return err
	}
	if err := c.guard.Enforce(ctx, input.Actor, types.PolicyActionHistoryRollback, input.BatchID); err != nil {
		return err
	}
	entries, err := c.rollbacker.RollbackBatch(ctx, input.BatchID, input.Actor.ID)
	if err != nil {
		return err
	}
	if input.Result != nil {
		*input.Result = entries
	}
	return nil
}
