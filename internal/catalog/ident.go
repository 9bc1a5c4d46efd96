package catalog

import "strings"

// QuoteIdent double-quotes an identifier for safe interpolation into DDL
// and data statements. Embedded quotes are doubled.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteQualified quotes a schema-qualified name as "schema"."name".
func QuoteQualified(schema, name string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(name)
}
