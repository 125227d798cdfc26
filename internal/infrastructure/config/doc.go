// Package config handles loading and validating forum core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading a local .env file for development secrets
//   - Overriding with environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Sensitive values (JWT secret, broker and Redis passwords) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Forum.Name)
package config
