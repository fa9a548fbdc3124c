// Package migrations embeds the payment service schema migrations.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
