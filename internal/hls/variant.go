package hls

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
)

// ManifestExt is the file extension of rendition manifests.
const ManifestExt = ".m3u8"

// Attribute keys read from #EXT-X-MEDIA and #EXT-X-STREAM-INF.
const (
	AttrName       = "NAME"
	AttrGroupID    = "GROUP-ID"
	AttrType       = "TYPE"
	AttrBandwidth  = "BANDWIDTH"
	AttrResolution = "RESOLUTION"
	AttrFrameRate  = "FRAME-RATE"
	AttrCodecs     = "CODECS"
)

// Media is the typed view of an #EXT-X-MEDIA tag.
type Media struct {
	Name    string `json:"name"`
	GroupID string `json:"group_id"`
	Type    string `json:"type"`
}

// Format is the typed view of an #EXT-X-STREAM-INF tag.
type Format struct {
	Bandwidth  int64  `json:"bandwidth"`
	Resolution string `json:"resolution"`
	FrameRate  string `json:"frame_rate"`
	Codecs     string `json:"codecs"`
}

// Rendition is one selectable variant of a multi-variant manifest.
type Rendition struct {
	// Location is the URI exactly as written in the manifest.
	Location string `json:"location"`
	// URL is Location resolved against the manifest URL.
	URL string `json:"url"`

	Media  Media  `json:"media"`
	Format Format `json:"format"`

	// Raw attributes, never nil. Optional format keys are always present.
	MediaAttrs  map[string]string `json:"-"`
	FormatAttrs map[string]string `json:"-"`
}

// ResolveVariants fetches a multi-variant manifest and parses its renditions.
// A fetch failure is returned as is; the caller aborts the job.
func ResolveVariants(ctx context.Context, f Fetcher, manifestURL string, log *slog.Logger) ([]Rendition, error) {
	log.Debug("retrieving playlist", slog.String("component", "variant-resolver"), slog.String("url", manifestURL))
	body, err := f.Fetch(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", manifestURL, err)
	}
	renditions := ParseVariants(string(body), manifestURL, log)
	if len(renditions) == 0 && IsMediaPlaylist(string(body)) {
		log.Info("manifest is a media playlist, using it as the only rendition",
			slog.String("component", "variant-resolver"), slog.String("url", manifestURL))
		renditions = []Rendition{SingleRendition(manifestURL)}
	}
	return renditions, nil
}

// IsMediaPlaylist reports whether body lists segments rather than renditions.
func IsMediaPlaylist(body string) bool {
	return strings.Contains(body, "#EXTINF:")
}

// SingleRendition describes a media playlist that was served in place of a
// multi-variant manifest. It is named "Source" so SelectorBest picks it.
func SingleRendition(manifestURL string) Rendition {
	return newRendition(manifestURL, manifestURL,
		map[string]string{AttrName: SourceName, AttrGroupID: "", AttrType: ""},
		map[string]string{AttrBandwidth: "0", AttrFrameRate: "", AttrResolution: "", AttrCodecs: ""})
}

// ParseVariants scans a multi-variant manifest in order, pairing the most recent
// media and stream-format tags with the next manifest URI line.
func ParseVariants(body, manifestURL string, log *slog.Logger) []Rendition {
	log = log.With(slog.String("component", "variant-resolver"))
	base, _ := url.Parse(manifestURL)

	var (
		out         []Rendition
		mediaAttrs  map[string]string
		formatAttrs map[string]string
	)
	for _, line := range splitLines(body) {
		switch {
		case strings.HasPrefix(line, TagMedia):
			mediaAttrs = ParseAttributes(line)
		case strings.HasPrefix(line, TagStreamInf):
			formatAttrs = ParseAttributes(line)
		case strings.HasPrefix(line, "#"):
		case !strings.HasSuffix(line, ManifestExt):
			log.Debug("unexpected line in manifest", slog.String("line", line))
		case formatAttrs == nil:
			log.Warn("no format details for playlist, skipping", slog.String("location", line))
		default:
			if mediaAttrs == nil {
				log.Debug("no media details for playlist, using format details", slog.String("location", line))
				mediaAttrs = map[string]string{
					AttrName:    synthesizeName(line, formatAttrs),
					AttrGroupID: "",
					AttrType:    "",
				}
			}
			for _, k := range []string{AttrFrameRate, AttrResolution, AttrCodecs} {
				if _, ok := formatAttrs[k]; !ok {
					formatAttrs[k] = ""
				}
			}
			out = append(out, newRendition(line, resolve(base, line), mediaAttrs, formatAttrs))
			mediaAttrs, formatAttrs = nil, nil
		}
	}
	return out
}

// synthesizeName names a rendition that had no #EXT-X-MEDIA tag: "Source" when
// the location mentions it, else the vertical resolution, else the first path
// segment without its extension.
func synthesizeName(location string, formatAttrs map[string]string) string {
	if strings.Contains(location, "source") {
		return "Source"
	}
	if _, height, ok := strings.Cut(formatAttrs[AttrResolution], "x"); ok && height != "" {
		return height + "p"
	}
	first, _, _ := strings.Cut(location, "/")
	name, _, _ := strings.Cut(first, ".")
	return name
}

func newRendition(location, resolved string, mediaAttrs, formatAttrs map[string]string) Rendition {
	return Rendition{
		Location: location,
		URL:      resolved,
		Media: Media{
			Name:    mediaAttrs[AttrName],
			GroupID: mediaAttrs[AttrGroupID],
			Type:    mediaAttrs[AttrType],
		},
		Format: Format{
			Bandwidth:  parseBandwidth(formatAttrs[AttrBandwidth]),
			Resolution: formatAttrs[AttrResolution],
			FrameRate:  formatAttrs[AttrFrameRate],
			Codecs:     formatAttrs[AttrCodecs],
		},
		MediaAttrs:  mediaAttrs,
		FormatAttrs: formatAttrs,
	}
}

// parseBandwidth accepts integer and decimal forms; anything else is 0.
func parseBandwidth(s string) int64 {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

// resolve joins a manifest URI onto the manifest URL. When the manifest URL is
// unknown or either side fails to parse, the URI is returned unchanged.
func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// splitLines splits a manifest body into trimmed, non-blank lines.
func splitLines(body string) []string {
	raw := strings.Split(body, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
