package tenant

import (
	"fmt"
	"regexp"
)

var idRegexp = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateID checks that a tenant identifier conforms to naming rules.
// Tenant IDs become directory names, so the character set is restricted.
func ValidateID(id string) error {
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("invalid tenant id %q: must match ^[a-zA-Z0-9_-]{1,64}$", id)
	}
	return nil
}
