// Package migrations embebe los scripts SQL del keystore PostgreSQL.
package migrations

import "embed"

// FS contiene los *_up.sql, aplicados en orden lexicográfico.
//
//go:embed *.sql
var FS embed.FS
