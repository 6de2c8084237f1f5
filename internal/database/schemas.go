package database

import "embed"

//go:embed schemas/*.sql
var schemaFS embed.FS

var schemaFiles = map[string]string{
	"universe":  "schemas/universe_schema.sql",
	"portfolio": "schemas/portfolio_schema.sql",
	"ledger":    "schemas/ledger_schema.sql",
	"agents":    "schemas/agents_schema.sql",
	"config":    "schemas/config_schema.sql",
	"history":   "schemas/history_schema.sql",
	"cache":     "schemas/cache_schema.sql",
}

// schemaFor returns the embedded schema for a database name.
func schemaFor(name string) (string, bool) {
	file, ok := schemaFiles[name]
	if !ok {
		return "", false
	}
	content, err := schemaFS.ReadFile(file)
	if err != nil {
		return "", false
	}
	return string(content), true
}
