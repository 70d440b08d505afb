// Package config loads the avauthn service configuration.
//
// The configuration is a YAML file with ${VAR} and ${VAR:-default}
// substitution. Missing values take the defaults from DefaultConfig and
// the result is validated before use. A Watcher reloads the file when it
// changes and keeps the previous configuration when a reload fails.
//
// Settings read from AVAUTHN_* environment variables locate the file and
// override a few values before it is loaded.
package config
