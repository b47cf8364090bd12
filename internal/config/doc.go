// Package config loads, normalizes, and validates avatarreel configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// AVATARREEL_DEVICE. The Config type centralizes every knob the CLI and the
// pipeline need: engine checkouts, capture devices, matting thresholds, and
// encoder settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
