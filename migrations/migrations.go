// Package migrations bundles the SQL schema applied by `curafile-server migrate up`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
