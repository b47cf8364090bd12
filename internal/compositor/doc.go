// Package compositor places the masked avatar onto the vertical 1080x1920
// canvas over the chosen background and writes one PNG per output frame.
//
// Backgrounds are cover-scaled and center-cropped to the canvas. A still
// image is reused for every frame; a video background advances one frame per
// output frame and loops. Without a background a dark vertical gradient is
// used. The avatar is scaled to the canvas height and centered horizontally,
// except in passthrough mode where the whole frame is letterboxed on black.
//
// Blending is a single pass per frame: the mask (including chroma-key rules)
// is evaluated, the masked avatar is resampled with Catmull-Rom, and the
// result is composited over the background.
package compositor
