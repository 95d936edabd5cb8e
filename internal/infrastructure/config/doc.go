// Package config loads the bridge's YAML configuration.
//
// Values come from built-in defaults, then the file, then WIZBRIDGE_*
// environment variables (credentials, hosts, ports, bridge identity).
// Load validates the result and reports every problem in one error.
//
// Keep broker passwords and InfluxDB tokens in the environment rather
// than the file.
package config
