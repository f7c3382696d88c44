package utils

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const minPasswordLength = 8

// ValidateEmail checks if email is valid
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePassword returns a user-facing reason when password is too weak.
func ValidatePassword(password string) (bool, string) {
	if len(password) < minPasswordLength {
		return false, "Password must be at least 8 characters"
	}
	return true, ""
}

// SanitizeInput trims whitespace and strips NUL bytes from free text.
func SanitizeInput(input string) string {
	return strings.ReplaceAll(strings.TrimSpace(input), "\x00", "")
}
