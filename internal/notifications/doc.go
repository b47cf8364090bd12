// Package notifications announces finished runs via ntfy.
//
// NewService publishes to the topic URL configured in config.toml and returns
// a no-op implementation when no topic is set, so the orchestrator can call
// it unconditionally. Delivery failures are returned to the caller, which
// logs them without failing the run.
package notifications
