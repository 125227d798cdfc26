package auth

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Field limits.
const (
	maxEmailLength       = 255
	minUsernameLength    = 3
	maxUsernameLength    = 30
	minPasswordLength    = 8
	maxPasswordLength    = 128
	maxDisplayNameLength = 100
)

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-]*$`)
)

// ValidateEmail returns the problems with an e-mail address, if any.
func ValidateEmail(email string) []string {
	var problems []string
	if len(email) > maxEmailLength {
		problems = append(problems, "Email must be at most 255 characters")
	}
	if !emailPattern.MatchString(email) {
		problems = append(problems, "Email must be a valid email address")
	}
	return problems
}

// ValidateUsername returns the problems with a username, if any.
func ValidateUsername(username string) []string {
	var problems []string
	if n := len(username); n < minUsernameLength || n > maxUsernameLength {
		problems = append(problems, "Username must be between 3 and 30 characters")
	}
	if username != "" && !usernamePattern.MatchString(username) {
		problems = append(problems,
			"Username must start with a letter and contain only letters, numbers, underscores and hyphens")
	}
	return problems
}

// ValidatePassword returns every strength rule the password fails.
func ValidatePassword(password string) []string {
	var problems []string

	n := utf8.RuneCountInString(password)
	if n < minPasswordLength {
		problems = append(problems, "Password must be at least 8 characters")
	}
	if n > maxPasswordLength {
		problems = append(problems, "Password must be at most 128 characters")
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter {
		problems = append(problems, "Password must contain at least one letter")
	}
	if !hasDigit {
		problems = append(problems, "Password must contain at least one number")
	}
	return problems
}

func validateDisplayName(name string) []string {
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return []string{"Display name must be at most 100 characters"}
	}
	return nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
