// Package encoding muxes a composited frame sequence and its voice track into
// the final H.264/AAC MP4.
//
// The Encoder refuses sequences whose duration differs from the audio by more
// than one frame interval, streams ffmpeg's machine-readable progress to an
// optional callback, and re-probes the result so a file that ffmpeg reported
// as written but that has the wrong geometry, frame rate or length never
// reaches the output directory. Partial files are removed on any failure.
package encoding
