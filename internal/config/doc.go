// Package config loads server configuration from an optional YAML file
// with HUBGREP_* environment overrides on top. Defaults cover every index
// parameter so the server runs with no file at all.
package config
