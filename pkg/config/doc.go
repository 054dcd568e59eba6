// Package config loads netpilot configuration.
//
// Configuration comes from a YAML file, NETPILOT_* environment variables
// and an optional .env file, in this order of precedence (later wins):
//
//  1. Default values (defined in defaults.go)
//  2. Values from the YAML file
//  3. Variables from .env (never overriding the real environment)
//  4. Environment variables
//
// Environment variables follow NETPILOT_SECTION_FIELD, for example:
//
//   - NETPILOT_STORE_DSN overrides store.dsn
//   - NETPILOT_ACME_DNS_PROVIDER overrides acme.dns_provider
//   - NETPILOT_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Load validates the result and returns a ValidationError listing every
// invalid field. There is no global instance; callers pass *Config to the
// components that need it.
//
//	cfg, err := config.Load("netpilot.yaml")
//	if err != nil {
//		return err
//	}
package config
