// Package config loads the paramd daemon configuration. Values are layered
// defaults, then a YAML file, then PARAMD_* environment variables; command
// line flags are applied on top by the caller.
package config
