// Package config loads and validates the YAML configuration for the
// Kiln engine, including engine tuning, persistence settings, telemetry
// settings, and the managed resource definitions. A Watcher can reload
// the file on change.
package config
