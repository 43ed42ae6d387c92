package session

import (
	"fmt"
	"regexp"
)

// MaxNameLen bounds session names; a name becomes a directory under
// ~/.pazar/sessions and appears in lock and log paths.
const MaxNameLen = 64

var namePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateName rejects names that cannot serve as a session directory.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("session name %q exceeds %d characters", name, MaxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("session name %q: only lowercase letters, digits, '-' and '_' are allowed", name)
	}
	return nil
}
