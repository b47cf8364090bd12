// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video stream properties
//   - Format: container-level metadata (duration, size, bitrate)
//
// Inspect executes ffprobe and returns the parsed Result. Stream helpers
// resolve rational frame rates and frame counts used to check that encoded
// output stays aligned with its audio track.
package ffprobe
