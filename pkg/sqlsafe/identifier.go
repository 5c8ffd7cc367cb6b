// Package sqlsafe screens identifiers that must be interpolated into SQL.
// Source table names come from customer databases and flow into both source
// SELECTs and analytics DDL, so they are validated before interpolation.
package sqlsafe

import (
	"fmt"
	"regexp"

	libinjection "github.com/corazawaf/libinjection-go"
)

// identifierPattern is deliberately conservative: word characters plus the
// separators real-world table names use. Anything fancier is rejected even
// if it would be quotable.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$.\-]*$`)

// MaxIdentifierLength matches the tightest limit among supported engines
// (Oracle's 128-byte cap post-12.2; older limits are caught by the engine).
const MaxIdentifierLength = 128

// ValidateIdentifier rejects table/column names that could not have come
// from a sane catalog listing. Returns nil for acceptable names.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("empty identifier")
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("identifier %q exceeds %d characters", name, MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("identifier %q contains invalid characters", name)
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(name); isSQLi {
		return fmt.Errorf("identifier %q matches injection fingerprint %s", name, fingerprint)
	}
	return nil
}
