package ffprobe_test

import (
	"math"
	"testing"

	"avsync/internal/media/ffprobe"
)

const sampleOutput = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "h264",
      "codec_type": "video",
      "r_frame_rate": "30000/1001",
      "width": 1920,
      "height": 1080
    },
    {
      "index": 1,
      "codec_name": "aac",
      "codec_type": "audio",
      "sample_rate": "48000",
      "channels": 2
    }
  ],
  "format": {
    "filename": "input.mp4",
    "nb_streams": 2,
    "duration": "60.5",
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2"
  }
}`

func TestParseStreams(t *testing.T) {
	result, err := ffprobe.Parse([]byte(sampleOutput))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	video, ok := result.VideoStream()
	if !ok {
		t.Fatal("expected video stream")
	}
	if video.CodecName != "h264" {
		t.Fatalf("video codec = %q, want h264", video.CodecName)
	}

	audio, ok := result.AudioStream()
	if !ok {
		t.Fatal("expected audio stream")
	}
	if audio.CodecName != "aac" {
		t.Fatalf("audio codec = %q, want aac", audio.CodecName)
	}
	if result.Format.FormatName == "" {
		t.Fatal("expected format name")
	}
}

func TestFrameRate(t *testing.T) {
	result, err := ffprobe.Parse([]byte(sampleOutput))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	fps := result.FrameRate()
	if math.Abs(fps-29.97) > 0.01 {
		t.Fatalf("FrameRate = %v, want ~29.97", fps)
	}
}

func TestFrameRateMissingVideo(t *testing.T) {
	result, err := ffprobe.Parse([]byte(`{"streams":[{"index":0,"codec_type":"audio","codec_name":"pcm_s16le"}],"format":{}}`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if _, ok := result.VideoStream(); ok {
		t.Fatal("did not expect a video stream")
	}
	if fps := result.FrameRate(); fps != 0 {
		t.Fatalf("FrameRate = %v, want 0", fps)
	}
}

func TestFrameRateDegenerateRationals(t *testing.T) {
	cases := map[string]float64{
		`{"streams":[{"codec_type":"video","r_frame_rate":"25"}],"format":{}}`:      25,
		`{"streams":[{"codec_type":"video","r_frame_rate":"0/0"}],"format":{}}`:     0,
		`{"streams":[{"codec_type":"video","r_frame_rate":""}],"format":{}}`:        0,
		`{"streams":[{"codec_type":"video","r_frame_rate":"24000/0"}],"format":{}}`: 0,
	}
	for payload, want := range cases {
		result, err := ffprobe.Parse([]byte(payload))
		if err != nil {
			t.Fatalf("Parse returned error: %v", err)
		}
		if fps := result.FrameRate(); fps != want {
			t.Fatalf("FrameRate for %s = %v, want %v", payload, fps, want)
		}
	}
}

func TestParseInvalidJSON(t *testing.T) {
	if _, err := ffprobe.Parse([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
