package orchestrator

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"hls-archiver/internal/hls"
)

// FormatTable renders renditions as the fixed-width table printed by
// list-formats mode. TBR is BANDWIDTH in kbit/s.
func FormatTable(renditions []hls.Rendition) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%-10s %-8s %-10s %-4s %-6s %-24s\n", "NAME", "GROUP-ID", "RESOLUTION", "FPS", "TBR", "CODECS"))
	b.WriteString(fmt.Sprintf("%s %s %s %s %s %s\n",
		strings.Repeat("-", 10), strings.Repeat("-", 8), strings.Repeat("-", 10),
		strings.Repeat("-", 4), strings.Repeat("-", 6), strings.Repeat("-", 24)))

	for _, r := range renditions {
		tbr := fmt.Sprintf("%dk", r.Format.Bandwidth/1000)
		b.WriteString(fmt.Sprintf("%-10s %-8s %-10s %-4s %-6s %-24s\n",
			r.Media.Name, r.Media.GroupID, r.Format.Resolution, r.Format.FrameRate, tbr, r.Format.Codecs))
	}

	return b.String()
}

// unsafeNameChars matches everything not allowed in an output file name.
var unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\-. \[\]()]`)

// CleanName replaces characters unsafe for file names with "_" and trims
// surrounding spaces.
func CleanName(name string) string {
	return strings.TrimSpace(unsafeNameChars.ReplaceAllString(name, "_"))
}

// genericIndexNames are manifest names that say nothing about the recording.
var genericIndexNames = map[string]bool{
	"index": true, "playlist": true, "public": true, "normal": true,
	"chunklist": true, "master": true, "source": true,
}

// NameFromURL derives an output name from a playlist URL: the manifest name
// without extension, prefixed with its directory when the name is generic.
func NameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || u.Path == "/" {
		return CleanName(raw)
	}
	dir, file := path.Split(strings.TrimSuffix(u.Path, "/"))
	stem := strings.TrimSuffix(file, path.Ext(file))
	if genericIndexNames[strings.ToLower(stem)] {
		if parent := path.Base(strings.TrimSuffix(dir, "/")); parent != "" && parent != "." && parent != "/" {
			stem = parent + " " + stem
		}
	}
	return CleanName(stem)
}
