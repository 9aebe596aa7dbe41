package errors

import (
	"strings"
	"unicode"
)

// maxIDLength bounds project and panel identifiers.
const maxIDLength = 256

// ValidateProjectID validates a project identifier for safety.
// Project ids are used in URL paths, push room names and cache keys, so the
// rules are conservative:
//   - No empty ids
//   - No control characters or null bytes
//   - No path separators or traversal sequences
//   - Maximum length of 256 characters
func ValidateProjectID(id string) error {
	return validateID("project", id)
}

// ValidatePanelID validates a panel identifier.
// It applies the same rules as [ValidateProjectID].
func ValidatePanelID(id string) error {
	return validateID("panel", id)
}

func validateID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return New(ErrCodeValidation, "%s id cannot be empty", kind)
	}

	if len(id) > maxIDLength {
		return New(ErrCodeValidation, "%s id too long (max %d characters)", kind, maxIDLength)
	}

	for _, r := range id {
		if unicode.IsControl(r) {
			return New(ErrCodeValidation, "%s id contains invalid control characters", kind)
		}
	}

	dangerousPatterns := []string{
		"..",   // Parent directory
		"/",    // Path separator
		"\\",   // Backslash (Windows path)
		"\x00", // Null byte
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(id, pattern) {
			return New(ErrCodeValidation, "%s id contains invalid characters: %q", kind, pattern)
		}
	}

	return nil
}

// ValidateURL validates a URL string for safety.
// It ensures the URL has a safe scheme (http or https).
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme")
	}

	return nil
}
