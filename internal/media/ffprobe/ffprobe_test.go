package ffprobe

import (
	"math"
	"testing"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video"},
			{CodecType: "audio"},
			{CodecType: "audio"},
		},
		Format: Format{
			Duration: "123.45",
			Size:     "1000",
			BitRate:  "32000",
		},
	}
	if result.VideoStreamCount() != 1 {
		t.Fatalf("expected 1 video stream, got %d", result.VideoStreamCount())
	}
	if result.AudioStreamCount() != 2 {
		t.Fatalf("expected 2 audio streams, got %d", result.AudioStreamCount())
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
	if result.BitRate() != 32000 {
		t.Fatalf("unexpected bitrate: %d", result.BitRate())
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{
		Format: Format{
			Duration: "bad",
			Size:     "-1",
			BitRate:  "nope",
		},
	}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if result.BitRate() != 0 {
		t.Fatalf("expected bitrate 0, got %d", result.BitRate())
	}
}

func TestStreamFrameRate(t *testing.T) {
	tests := []struct {
		name   string
		stream Stream
		want   float64
	}{
		{"avg preferred", Stream{AvgFrameRate: "25/1", RFrameRate: "50/1"}, 25},
		{"ntsc rational", Stream{AvgFrameRate: "30000/1001"}, 30000.0 / 1001.0},
		{"fallback to r_frame_rate", Stream{AvgFrameRate: "0/0", RFrameRate: "24/1"}, 24},
		{"plain number", Stream{RFrameRate: "30"}, 30},
		{"unknown", Stream{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stream.FrameRate(); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("FrameRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStreamFrameCount(t *testing.T) {
	if got := (Stream{NBFrames: "250"}).FrameCount(0); got != 250 {
		t.Fatalf("nb_frames: got %d", got)
	}
	if got := (Stream{Duration: "10.0", AvgFrameRate: "25/1"}).FrameCount(0); got != 250 {
		t.Fatalf("duration*fps: got %d", got)
	}
	if got := (Stream{AvgFrameRate: "25/1"}).FrameCount(4); got != 100 {
		t.Fatalf("fallback duration: got %d", got)
	}
	if got := (Stream{}).FrameCount(4); got != 0 {
		t.Fatalf("unknown fps: got %d", got)
	}
}

func TestParseSelectsStreams(t *testing.T) {
	payload := []byte(`{"streams":[
		{"index":0,"codec_type":"audio","codec_name":"pcm_s16le","sample_rate":"44100","channels":1},
		{"index":1,"codec_type":"video","codec_name":"h264","width":1080,"height":1920,"avg_frame_rate":"25/1","pix_fmt":"yuv420p"}
	],"format":{"duration":"10.000000","format_name":"mov,mp4"}}`)
	result, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	video, ok := result.VideoStream()
	if !ok || video.Width != 1080 || video.Height != 1920 || video.PixFmt != "yuv420p" {
		t.Fatalf("unexpected video stream: %+v", video)
	}
	audio, ok := result.AudioStream()
	if !ok || audio.SampleRateHz() != 44100 || audio.Channels != 1 {
		t.Fatalf("unexpected audio stream: %+v", audio)
	}
	if string(result.RawJSON()) != string(payload) {
		t.Fatal("raw payload not preserved")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}
