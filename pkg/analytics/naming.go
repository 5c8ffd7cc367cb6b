// Package analytics writes synced rows into the engine's PostgreSQL store
// and derives the deterministic table names the rest of the system keys on.
package analytics

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
)

// maxTableNameLength is PostgreSQL's identifier limit.
const maxTableNameLength = 63

// TargetTableName derives the analytics table for one source table. The
// name is deterministic so repeated syncs land in the same table:
// conn_{first 8 hex of connection id}_{sanitized source table}.
func TargetTableName(connectionID uuid.UUID, sourceTable string) string {
	short := strings.ReplaceAll(connectionID.String(), "-", "")[:8]
	name := fmt.Sprintf("conn_%s_%s", short, sanitizeTablePart(sourceTable))
	if len(name) > maxTableNameLength {
		name = name[:maxTableNameLength]
	}
	return name
}

// sanitizeTablePart lowercases and replaces anything outside [a-z0-9_].
// Source identifiers were already screened, but dots and dollars from
// qualified names still need flattening.
func sanitizeTablePart(table string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(table) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// EntityLabel renders a human-readable singular label for a source table,
// for display in analytics listings ("customer_orders" -> "customer order").
func EntityLabel(sourceTable string) string {
	cleaned := strings.ReplaceAll(sanitizeTablePart(sourceTable), "_", " ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return ""
	}

	words := strings.Fields(cleaned)
	words[len(words)-1] = inflection.Singular(words[len(words)-1])
	return strings.Join(words, " ")
}
