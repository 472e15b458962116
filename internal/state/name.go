package state

import (
	"strings"

	"github.com/Iron-Ham/ralphloop/internal/errors"
)

// ValidateName checks that name can be used as a session name. Names end up
// in log and transcript file names, so they must be a single path element.
func ValidateName(name string) error {
	var reason string
	switch {
	case strings.TrimSpace(name) == "":
		reason = "session name is required"
	case strings.ContainsAny(name, `/\`):
		reason = "session name must not contain a path separator"
	case strings.Contains(name, ".."):
		reason = "session name must not contain '..'"
	case strings.ContainsRune(name, 0):
		reason = "session name must not contain NUL"
	default:
		return nil
	}
	return errors.NewValidationError(reason).WithField("name").WithValue(name)
}
