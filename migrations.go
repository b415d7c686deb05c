package billingportal

import "embed"

//go:embed migrations/postgres/*.sql
var MigrationsFS embed.FS
