// Package services defines shared utilities consumed by the pipeline stages
// and their external tool adapters.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and the active engine
//     for logging.
//   - Error-kind markers plus the Wrap helper that tags every failure with the
//     stage that detected it, so the orchestrator and CLI can report which
//     stage failed and why.
//
// Use these helpers when wiring new stage logic so failure reporting stays
// uniform across the pipeline.
package services
