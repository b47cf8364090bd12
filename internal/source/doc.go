// Package source acquires the inputs a run animates: the voice clip, either
// recorded live from the default input device or loaded from disk, and for
// LivePortrait the driving video, recorded from the webcam or loaded.
//
// Capture shells out to ffmpeg with the platform capture backend
// (avfoundation on macOS, pulse or v4l2 on Linux). Loaded files are validated
// with ffprobe so unreadable media fails before any model runs.
package source
