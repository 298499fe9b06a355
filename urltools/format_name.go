// Package urltools guesses media container formats from URLs.
package urltools

import (
	"net/url"
	"path/filepath"
	"strings"
)

var formatByScheme = map[string]string{
	"rtmp":  "flv",
	"rtmps": "flv",
	"srt":   "mpegts",
	"udp":   "mpegts",
	"tcp":   "mpegts",
	"rtp":   "rtp_mpegts",
	"rtsp":  "rtsp",
}

var formatByExtension = map[string]string{
	".mp4":  "mp4",
	".m4a":  "mp4",
	".m4v":  "mp4",
	".mov":  "mov",
	".mkv":  "matroska",
	".mka":  "matroska",
	".webm": "webm",
	".flv":  "flv",
	".ts":   "mpegts",
	".mts":  "mpegts",
	".m2ts": "mpegts",
	".m3u8": "hls",
	".nut":  "nut",
}

// FormatNameFromURL returns the muxer the destination most likely needs,
// or an empty string if libav should guess it itself.
func FormatNameFromURL(urlString string) string {
	u, err := url.Parse(urlString)
	if err != nil || u.Scheme == "" || u.Scheme == "file" || len(u.Scheme) == 1 {
		// plain paths, including Windows ones ("C:\...")
		return FormatNameFromFileExtension(urlString)
	}
	if name, ok := formatByScheme[strings.ToLower(u.Scheme)]; ok {
		return name
	}
	return FormatNameFromFileExtension(u.Path)
}

func FormatNameFromFileExtension(path string) string {
	return formatByExtension[strings.ToLower(filepath.Ext(path))]
}
