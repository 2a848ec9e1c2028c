package command

import (
	"errors"

	"github.com/goliatone/go-preferences/pkg/types"
)

var (
	// ErrActorRequired indicates an actor reference was not supplied.
	ErrActorRequired = types.ErrActorRequired
	// ErrUserIDRequired occurs when user-scoped commands omit the user.
	ErrUserIDRequired = types.ErrUserIDRequired
	// ErrProjectIDRequired occurs when project-scoped commands omit the project.
	ErrProjectIDRequired = types.ErrProjectIDRequired
	// ErrPreferenceKeyRequired indicates the preference key was missing.
	ErrPreferenceKeyRequired = types.ErrKeyRequired
	// ErrPreferenceValueRequired indicates the preference value payload was missing.
	ErrPreferenceValueRequired = errors.New("go-preferences: preference value required")
	// ErrDefaultRequired indicates the system default payload was missing.
	ErrDefaultRequired = errors.New("go-preferences: system default payload required")
	// ErrOverrideIDRequired occurs when decision commands omit the override id.
	ErrOverrideIDRequired = errors.New("go-preferences: override id required")
	// ErrTemplateRequired indicates the template payload was missing.
	ErrTemplateRequired = errors.New("go-preferences: template payload required")
	// ErrTemplateIDRequired occurs when apply commands omit the template id.
	ErrTemplateIDRequired = errors.New("go-preferences: template id required")
	// ErrChangeIDRequired occurs when rollback commands omit the change id.
	ErrChangeIDRequired = errors.New("go-preferences: change id required")
	// ErrBatchIDRequired occurs when batch rollback commands omit the batch id.
	ErrBatchIDRequired = errors.New("go-preferences: batch id required")
	// ErrOverridesDisabled indicates project overrides are disabled via feature gate.
	ErrOverridesDisabled = errors.New("go-preferences: project overrides disabled")
	// ErrTemplatesDisabled indicates templates are disabled via feature gate.
	ErrTemplatesDisabled = errors.New("go-preferences: templates disabled")
)
