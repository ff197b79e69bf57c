package sqlassets

import _ "embed"

//go:embed schema/tenants.sql
var TenantsSQL string

//go:embed schema/schema_versions.sql
var SchemaVersionsSQL string

//go:embed schema/records.sql
var RecordsSQL string
