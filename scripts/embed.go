// Package scripts embeds the database provisioning files so the running
// binary can serve them regardless of its working directory.
package scripts

import _ "embed"

//go:embed schema.sql
var SchemaSQL []byte
