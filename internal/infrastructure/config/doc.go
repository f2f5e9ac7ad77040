// Package config handles loading and validating SmartRack Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Sensitive values (JWT secret, API keys, broker passwords) should be set
//     via environment variables or a .env file, never committed to config.yaml
//   - The process refuses to start without a JWT secret
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Auth.MaxRefreshTokens)
package config
