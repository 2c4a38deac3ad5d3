// Package config loads, normalizes, and validates stagewise configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// STAGEWISE_STORE_DSN. The Config type centralizes every knob the daemon and
// CLI need: state and log directories, the task store backend, engine pool
// sizing and the firing interval.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
