// Package pipeline turns a voice clip and a portrait into the final vertical
// video.
//
// Resolve validates raw CLI options against the loaded configuration and
// produces an immutable artifact.PipelineConfig; it is the only place that
// reports InvalidConfig for flag combinations, so no stage ever starts on a
// contradictory request. Orchestrator.Run then picks the engine and matting
// variants once, checks their models, and executes Audio, Animate, Matte,
// Composite and Encode strictly in order inside a run-scoped work directory.
//
// Any stage error aborts the run with a *services.StageError naming the
// stage; nothing is retried and no stage falls back to a cheaper variant.
// The encoded file reaches the destination through exactly one rename, so a
// failed run never leaves a file there.
package pipeline
