package project

import (
	"strings"

	"github.com/hpungsan/deckhand/internal/errors"
)

// ValidateName checks a project name before it is placed in a URL path.
// Names are single path components: the API maps them straight onto a
// directory under its projects root.
func ValidateName(name string) error {
	return validateComponent("project name", name)
}

// ValidateFileName checks a file name within a project. The API only
// accepts files directly inside the project directory.
func ValidateFileName(name string) error {
	return validateComponent("file name", name)
}

func validateComponent(what, s string) error {
	if s == "" {
		return errors.NewInvalidRequest(what + " is required")
	}
	if strings.TrimSpace(s) != s {
		return errors.NewInvalidRequest(what + " must not have leading or trailing whitespace")
	}
	if s == "." || s == ".." {
		return errors.NewInvalidRequest(what + " must not be . or ..")
	}
	if strings.ContainsAny(s, `/\`) {
		return errors.NewInvalidRequest(what + " must be a single path component")
	}
	if strings.ContainsRune(s, 0) {
		return errors.NewInvalidRequest(what + " must not contain NUL bytes")
	}
	return nil
}
