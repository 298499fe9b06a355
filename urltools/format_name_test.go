package urltools

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatNameFromURL(t *testing.T) {
	for url, expected := range map[string]string{
		"out.mp4":                      "mp4",
		"/tmp/OUT.MKV":                 "matroska",
		"file:///tmp/out.ts":           "mpegts",
		"rtmp://localhost/live/stream": "flv",
		"srt://127.0.0.1:9000":         "mpegts",
		"http://localhost/live.flv":    "flv",
		"http://localhost/live":        "",
		"out.unknown":                  "",
		"out":                          "",
	} {
		require.Equal(t, expected, FormatNameFromURL(url), url)
	}
}
