// Package matting separates the animated subject from its original backdrop.
//
// Every mode first decodes the raw clip into numbered PNG frames at the
// clip's native rate. The AI mode then runs a person segmentation model over
// the frame directory and stores one soft alpha mask per frame. Chroma-key
// mode attaches a color-distance rule to each frame and leaves pixel work to
// the compositor. Passthrough marks every pixel as foreground.
package matting
