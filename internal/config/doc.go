// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Every section is optional; an empty file yields a relay listening on DefaultRelayPort
// with the dashboard hub on DefaultHubPort and NATS publishing disabled.
package config
