// Package migrations holds the devicehub schema: accounts (clients,
// companies, super users and the company-client link), recovery tokens,
// devices and the audit trail.
//
// A blank import registers the files with the database package:
//
//	import _ "github.com/nerrad567/devicehub-core/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/database"
)

//go:embed *.sql
var schema embed.FS

func init() {
	database.MigrationsFS = schema
}
