package types

import (
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Text codes attached to engine errors so callers (UI, CLI, API) can branch
// without string-matching messages.
const (
	TextCodeUnknownKey             = "UNKNOWN_PREFERENCE_KEY"
	TextCodeValidation             = "PREFERENCE_VALIDATION"
	TextCodeCategoryNotOverridable = "CATEGORY_NOT_OVERRIDABLE"
	TextCodeConflict               = "PREFERENCE_CONFLICT"
	TextCodeStoreUnavailable       = "STORE_UNAVAILABLE"
	TextCodeInvalidRollback        = "INVALID_ROLLBACK"
	TextCodeInvalidTransition      = "INVALID_OVERRIDE_TRANSITION"
)

// NewUnknownKeyError reports resolution or mutation against a key with no
// system default. Never silently defaulted.
func NewUnknownKeyError(key string) error {
	return goerrors.New(fmt.Sprintf("go-preferences: no system default for key %q", key), goerrors.CategoryNotFound).
		WithCode(goerrors.CodeNotFound).
		WithTextCode(TextCodeUnknownKey).
		WithMetadata(map[string]any{"key": key})
}

// NewValidationError reports a value that violates the system default
// constraints. Raised before any write.
func NewValidationError(key, reason string) error {
	return goerrors.New(fmt.Sprintf("go-preferences: invalid value for %q: %s", key, reason), goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeValidation).
		WithMetadata(map[string]any{"key": key, "reason": reason})
}

// NewCategoryNotOverridableError reports a project override attempt for a
// category the project toggle does not allow.
func NewCategoryNotOverridableError(projectID uuid.UUID, category string) error {
	return goerrors.New(fmt.Sprintf("go-preferences: category %q not overridable for project %s", category, projectID), goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeCategoryNotOverridable).
		WithMetadata(map[string]any{"project_id": projectID.String(), "category": category})
}

// NewConflictError reports an optimistic-concurrency violation. The caller
// should re-read and retry.
func NewConflictError(key string, expectedVersion int) error {
	return goerrors.New(fmt.Sprintf("go-preferences: version conflict writing %q (expected version %d)", key, expectedVersion), goerrors.CategoryConflict).
		WithCode(goerrors.CodeConflict).
		WithTextCode(TextCodeConflict).
		WithMetadata(map[string]any{"key": key, "expected_version": expectedVersion})
}

// NewStoreUnavailableError wraps a store timeout/outage after retries are
// exhausted. The read path fails closed instead of serving stale data.
func NewStoreUnavailableError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "go-preferences: preference store unavailable").
		WithCode(goerrors.CodeInternal).
		WithTextCode(TextCodeStoreUnavailable)
}

// NewInvalidRollbackError reports a rollback target that is missing, already
// reverted, or whose reversal would violate a current invariant.
func NewInvalidRollbackError(reason string, meta map[string]any) error {
	return goerrors.New(fmt.Sprintf("go-preferences: rollback rejected: %s", reason), goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeInvalidRollback).
		WithMetadata(meta)
}

// NewInvalidTransitionError reports an approval state machine transition that
// is not reachable from the current state.
func NewInvalidTransitionError(overrideID uuid.UUID, from, to ApprovalState) error {
	return goerrors.New(fmt.Sprintf("go-preferences: override %s cannot transition %s -> %s", overrideID, from, to), goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeInvalidTransition).
		WithMetadata(map[string]any{"override_id": overrideID.String(), "from": string(from), "to": string(to)})
}

// HasTextCode reports whether err carries the supplied engine text code.
func HasTextCode(err error, code string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == code
}

// IsUnknownKey reports whether err is an unknown preference key error.
func IsUnknownKey(err error) bool { return HasTextCode(err, TextCodeUnknownKey) }

// IsValidation reports whether err is a constraint validation error.
func IsValidation(err error) bool { return HasTextCode(err, TextCodeValidation) }

// IsCategoryNotOverridable reports whether err is a disabled-category error.
func IsCategoryNotOverridable(err error) bool {
	return HasTextCode(err, TextCodeCategoryNotOverridable)
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool { return HasTextCode(err, TextCodeConflict) }

// IsStoreUnavailable reports whether err is a store outage error.
func IsStoreUnavailable(err error) bool { return HasTextCode(err, TextCodeStoreUnavailable) }

// IsInvalidRollback reports whether err is a rejected rollback.
func IsInvalidRollback(err error) bool { return HasTextCode(err, TextCodeInvalidRollback) }

// IsInvalidTransition reports whether err is an invalid approval transition.
func IsInvalidTransition(err error) bool { return HasTextCode(err, TextCodeInvalidTransition) }
