package encoding

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"avatarreel/internal/artifact"
	"avatarreel/internal/media/ffprobe"
)

const frameRateTolerance = 0.01

// CheckAlignment reports an error when the sequence and the audio track
// differ in length by more than one frame interval.
func CheckAlignment(seq artifact.CompositedSequence, audio artifact.Audio) error {
	if seq.Frames <= 0 || seq.FPS <= 0 {
		return errors.New("sequence has no frames")
	}
	if audio.Duration <= 0 {
		return errors.New("audio duration unknown")
	}
	interval := artifact.FrameInterval(seq.FPS)
	video := seq.Duration()
	if drift := absDuration(video - audio.Duration); drift > interval {
		return fmt.Errorf("video %s vs audio %s differs by %s (limit %s)",
			video.Round(time.Millisecond), audio.Duration.Round(time.Millisecond),
			drift.Round(time.Millisecond), interval.Round(time.Millisecond))
	}
	return nil
}

// verifyOutput checks the probed container against the sequence that produced it.
func verifyOutput(probe ffprobe.Result, seq artifact.CompositedSequence, audio artifact.Audio) error {
	var problems []string

	video, ok := probe.VideoStream()
	if !ok {
		return errors.New("output has no video stream")
	}
	if !strings.EqualFold(video.CodecName, "h264") {
		problems = append(problems, fmt.Sprintf("video codec %q, want h264", video.CodecName))
	}
	if video.Width != seq.Width || video.Height != seq.Height {
		problems = append(problems, fmt.Sprintf("resolution %dx%d, want %dx%d", video.Width, video.Height, seq.Width, seq.Height))
	}
	if fps := video.FrameRate(); math.Abs(fps-seq.FPS) > frameRateTolerance {
		problems = append(problems, fmt.Sprintf("frame rate %.3f, want %.3f", fps, seq.FPS))
	}

	track, ok := probe.AudioStream()
	if !ok {
		problems = append(problems, "output has no audio stream")
	} else if !strings.EqualFold(track.CodecName, "aac") {
		problems = append(problems, fmt.Sprintf("audio codec %q, want aac", track.CodecName))
	}

	seconds := video.DurationSeconds()
	if seconds <= 0 {
		seconds = probe.DurationSeconds()
	}
	if seconds <= 0 || math.IsNaN(seconds) {
		problems = append(problems, "output duration unknown")
	} else {
		got := time.Duration(seconds * float64(time.Second))
		interval := artifact.FrameInterval(seq.FPS)
		if drift := absDuration(got - audio.Duration); drift > interval {
			problems = append(problems, fmt.Sprintf("duration %s, audio %s (limit %s)",
				got.Round(time.Millisecond), audio.Duration.Round(time.Millisecond), interval.Round(time.Millisecond)))
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
