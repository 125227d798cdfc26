package auth

import (
	"context"
	"fmt"
)

// seedPasswordBytes is the entropy of the generated admin password.
const seedPasswordBytes = 18

// SeedAdmin creates an active, verified ADMIN account when the user table
// is empty and returns the generated password. It returns "" when accounts
// already exist. The caller must show the password to the operator once.
func SeedAdmin(ctx context.Context, users CredentialStore, hasher PasswordHasher, email string) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		return "", nil
	}

	// The random part alone may lack a digit or letter.
	password, err := randomToken(seedPasswordBytes)
	if err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password = "a1" + password

	hash, err := hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Email:         normaliseEmail(email),
		Username:      "admin",
		DisplayName:   "Administrator",
		PasswordHash:  hash,
		Role:          RoleAdmin,
		Status:        StatusActive,
		EmailVerified: true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}
	return password, nil
}
