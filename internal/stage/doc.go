// Package stage names the pipeline stages and the per-stage reports shared by
// the orchestrator, the run history, and the CLI.
package stage
