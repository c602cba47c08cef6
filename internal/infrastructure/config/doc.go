// Package config handles loading and validating devicehub configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with DEVICEHUB_* environment variables
//   - Development-only fallback signing secrets
//   - Validation of required fields and secret hygiene
//
// Security Considerations:
//   - Signing secrets and the frontend base URL should be set via environment variables
//   - Access and refresh tokens are signed with different secrets; Validate enforces it
//   - Fallback secrets are only ever substituted when environment is "development"
//
// Usage:
//
//	cfg, err := config.Load("configs/devicehub.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
