// Package artifact defines the immutable values handed from one pipeline
// stage to the next: the source audio and portrait, the raw animated clip,
// masked frame sequences, composited frames, and the resolved run
// configuration.
//
// Stages never mutate an artifact they receive; each produces a new value
// that points at files inside the run workdir.
package artifact
