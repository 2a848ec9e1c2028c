package migrations

import (
	"io/fs"

	preferences "github.com/goliatone/go-preferences"
)

func init() {
	coreFS, err := fs.Sub(preferences.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return
	}
	Register(coreFS)
}
