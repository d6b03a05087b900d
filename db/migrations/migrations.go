// Package migrations contains the SQL migrations for the reconciler database,
// embedded so the binary can migrate itself.
package migrations

import (
	"embed"
)

//go:embed *.sql
var FS embed.FS
