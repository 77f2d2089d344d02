package supervisor

import (
	"strings"
	"testing"
)

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("flag %q missing from %v", flag, args)
	return ""
}

func hasArg(args []string, want string) bool {
	for _, arg := range args {
		if arg == want {
			return true
		}
	}
	return false
}

func TestNormalizeResolution(t *testing.T) {
	tests := []struct {
		in   string
		want Resolution
	}{
		{"720p", Resolution720p},
		{" 720P ", Resolution720p},
		{"480p", Resolution480p},
		{"1080p", Resolution480p},
		{"", Resolution480p},
	}
	for _, tt := range tests {
		if got := NormalizeResolution(tt.in); got != tt.want {
			t.Errorf("NormalizeResolution(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildTranscodeArgsProfiles(t *testing.T) {
	args := buildTranscodeArgs("rtmp://src.example/app/key", "rtmp://127.0.0.1:1935/live/abc", Resolution720p)

	if got := argValue(t, args, "-vf"); got != "scale=-2:720" {
		t.Fatalf("scale = %q", got)
	}
	if got := argValue(t, args, "-b:v"); got != "2500k" {
		t.Fatalf("video bitrate = %q", got)
	}
	if got := argValue(t, args, "-b:a"); got != "128k" {
		t.Fatalf("audio bitrate = %q", got)
	}
	if got := argValue(t, args, "-progress"); got != "pipe:1" {
		t.Fatalf("progress sink = %q", got)
	}
	if !hasArg(args, "-nostats") {
		t.Fatal("missing -nostats")
	}
	if args[len(args)-1] != "rtmp://127.0.0.1:1935/live/abc" {
		t.Fatalf("publish target = %q", args[len(args)-1])
	}
	if args[len(args)-2] != "flv" {
		t.Fatalf("output format = %q", args[len(args)-2])
	}
}

func TestBuildTranscodeArgsInputFlags(t *testing.T) {
	rtsp := buildTranscodeArgs("rtsp://cam.example/feed", "rtmp://127.0.0.1:1935/live/x", Resolution480p)
	if got := argValue(t, rtsp, "-rtsp_transport"); got != "tcp" {
		t.Fatalf("rtsp transport = %q", got)
	}

	udp := buildTranscodeArgs("udp://239.0.0.1:5000", "rtmp://127.0.0.1:1935/live/x", Resolution480p)
	if got := argValue(t, udp, "-fflags"); got != "+genpts+discardcorrupt" {
		t.Fatalf("udp fflags = %q", got)
	}
	if got := argValue(t, udp, "-err_detect"); got != "ignore_err" {
		t.Fatalf("udp err_detect = %q", got)
	}

	http := buildTranscodeArgs("http://origin.example/stream.ts", "rtmp://127.0.0.1:1935/live/x", Resolution480p)
	if hasArg(http, "-rtsp_transport") || hasArg(http, "-err_detect") {
		t.Fatal("http input picked up protocol-specific flags")
	}
	if got := argValue(t, http, "-vf"); !strings.HasPrefix(got, "scale=") {
		t.Fatalf("scale filter = %q", got)
	}
}
