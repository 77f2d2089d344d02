package supervisor

import "strings"

// Resolution is one of the supported output quality profiles.
type Resolution string

const (
	Resolution480p Resolution = "480p"
	Resolution720p Resolution = "720p"
)

// NormalizeResolution maps the input onto the closed profile set, falling
// back to 480p for unknown values.
func NormalizeResolution(value string) Resolution {
	switch Resolution(strings.ToLower(strings.TrimSpace(value))) {
	case Resolution720p:
		return Resolution720p
	default:
		return Resolution480p
	}
}

type encodingProfile struct {
	scale        string
	videoBitrate string
	videoMaxRate string
	bufferSize   string
	audioBitrate string
	gopLength    string
}

var encodingProfiles = map[Resolution]encodingProfile{
	Resolution480p: {
		scale:        "-2:480",
		videoBitrate: "1000k",
		videoMaxRate: "1100k",
		bufferSize:   "2000k",
		audioBitrate: "96k",
		gopLength:    "48",
	},
	Resolution720p: {
		scale:        "-2:720",
		videoBitrate: "2500k",
		videoMaxRate: "2750k",
		bufferSize:   "5000k",
		audioBitrate: "128k",
		gopLength:    "48",
	},
}

// buildTranscodeArgs assembles the ffmpeg argument list for one stream. Two
// axes drive the result: the input protocol adds reliability flags, and the
// resolution profile fixes the encoding ladder. Progress output goes to
// stdout as key=value blocks; stderr stays free-form diagnostics.
func buildTranscodeArgs(sourceURL, publishURL string, resolution Resolution) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-progress", "pipe:1",
		"-nostats",
	}

	switch {
	case strings.HasPrefix(sourceURL, "udp://"):
		// Lossy transport: widen the probe window and tolerate damaged
		// packets instead of aborting the input.
		args = append(args,
			"-probesize", "5000000",
			"-analyzeduration", "5000000",
			"-fflags", "+genpts+discardcorrupt",
			"-err_detect", "ignore_err",
		)
	case strings.HasPrefix(sourceURL, "rtsp://"):
		args = append(args, "-rtsp_transport", "tcp")
	}

	profile := encodingProfiles[resolution]

	args = append(args,
		"-i", sourceURL,
		"-vf", "scale="+profile.scale,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-b:v", profile.videoBitrate,
		"-maxrate", profile.videoMaxRate,
		"-bufsize", profile.bufferSize,
		"-g", profile.gopLength,
		"-c:a", "aac",
		"-b:a", profile.audioBitrate,
		"-ar", "44100",
		"-f", "flv",
		publishURL,
	)
	return args
}
