package preferences

import "github.com/goliatone/go-preferences/service"

// Re-export the service package entry point so consumers can do
// `preferences.New(...)` without importing internal wiring helpers.
type (
	Service  = service.Service
	Config   = service.Config
	Commands = service.Commands
	Queries  = service.Queries
)

// New constructs the preference engine runtime using the provided
// configuration.
func New(cfg Config) (*Service, error) {
	return service.New(cfg)
}
