package hls

import (
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
)

var (
	// ErrUnrecognizedHost is returned by Derive when the base URL matches no
	// known hosting pattern. Callers fall back to the base URL alone.
	ErrUnrecognizedHost = errors.New("hls: unrecognized playlist host")

	// ErrNoPlaylist means no usable playlist URL was available.
	ErrNoPlaylist = errors.New("hls: no playlist url")
)

// Logical rendition keys as published by the site's media metadata.
const (
	KeyURL        = "url"
	KeyPlaylist   = "_url_playlist"
	KeyNormal     = "_url_normal"
	KeyPublic     = "url_public"
	KeyAudio      = "url_audio"
	KeySource     = "url_source"
	KeyHigh       = "url_high"
	KeyMedium     = "url_medium"
	KeyLowLatency = "url_low_latency"
	KeyULL        = "url_ull"
)

// MediaKeys is the order in which keys are tried when picking a base URL.
var MediaKeys = []string{
	KeyURL, KeyPublic, KeyPlaylist, KeyNormal, KeySource,
	KeyHigh, KeyMedium, KeyLowLatency, KeyULL, KeyAudio,
}

// Pattern is a recognised playlist hosting layout.
type Pattern int

const (
	PatternUnknown Pattern = iota
	// PatternLegacy is the single-index S3 layout; nothing can be derived.
	PatternLegacy
	// PatternCurrent is the CDN layout with "normal" and "public" index names.
	PatternCurrent
	// PatternGame is the CDN layout for game content with a bitrate ladder.
	PatternGame
)

func (p Pattern) String() string {
	switch p {
	case PatternLegacy:
		return "legacy"
	case PatternCurrent:
		return "current"
	case PatternGame:
		return "game"
	}
	return "unknown"
}

var (
	legacyHost  = regexp.MustCompile(`^https?://openrec-live\.s3\.amazonaws\.com/studio/[0-9]+/(?P<vid>[0-9]+)/index\.m3u8$`)
	currentHost = regexp.MustCompile(`^https?://[a-z0-9]+\.cloudfront\.net/[a-f0-9]+/(?P<pname>[^/]+)\.m3u8$`)
	gameHost    = regexp.MustCompile(`^https?://[a-z0-9]+\.cloudfront\.net/[0-9]+/[0-9]+_[a-zA-Z]+/game/(?P<pname>[^/]+)\.m3u8$`)
)

type pathTemplate struct {
	key  string
	path string
}

// Relative path templates, joined onto the base URL with the manifest
// extension appended.
var (
	normalMap = []pathTemplate{
		{KeyURL, "normal"},
		{KeyPlaylist, "playlist"},
		{KeyPublic, "public"},
		{KeyAudio, "aac"},
		{KeySource, "chunklist_source/chunklist"},
		{KeyHigh, "chunklist_high/chunklist"},
		{KeyMedium, "chunklist_medium/chunklist"},
		{KeyLowLatency, "chunklist_low/chunklist"},
	}
	playlistMap = []pathTemplate{
		{KeyURL, "playlist"},
		{KeyNormal, "normal"},
		{KeyPublic, "public"},
		{KeyAudio, "aac"},
		{KeySource, "chunklist_source/chunklist"},
		{KeyHigh, "chunklist_high/chunklist"},
		{KeyMedium, "chunklist_medium/chunklist"},
		{KeyLowLatency, "chunklist_low/chunklist"},
		{KeyULL, "chunklist_144p/chunklist"},
	}
	gameMap = []pathTemplate{
		{KeySource, "source"},
		{KeyHigh, "2000kbps"},
		{KeyMedium, "1000kbps"},
	}
)

// Classify reports the hosting pattern of base and, for the CDN layouts, the
// index playlist name.
func Classify(base string) (Pattern, string) {
	if legacyHost.MatchString(base) {
		return PatternLegacy, ""
	}
	if m := currentHost.FindStringSubmatch(base); m != nil {
		return PatternCurrent, m[currentHost.SubexpIndex("pname")]
	}
	if m := gameHost.FindStringSubmatch(base); m != nil {
		return PatternGame, m[gameHost.SubexpIndex("pname")]
	}
	return PatternUnknown, ""
}

// Derive returns a copy of known with candidate URLs filled in for every
// rendition key the base URL's hosting pattern implies. Non-empty entries in
// known are never overwritten. The derived URLs may not exist on the server.
//
// For an unrecognised host the copy is returned together with
// ErrUnrecognizedHost.
func Derive(base string, known map[string]string, log *slog.Logger) (map[string]string, Pattern, error) {
	log = log.With(slog.String("component", "deriver"))
	out := make(map[string]string, len(known)+len(playlistMap))
	for k, v := range known {
		out[k] = v
	}

	pattern, index := Classify(base)
	var templates []pathTemplate
	switch pattern {
	case PatternLegacy:
		log.Info("older hosting found, format metadata will be sparse", slog.String("url", base))
		out[KeyURL] = base
		return out, pattern, nil
	case PatternCurrent:
		switch index {
		case "normal":
			templates = normalMap
		case "public":
			templates = playlistMap
		default:
			log.Warn("index playlist not identified, assuming playlist layout", slog.String("index", index))
			templates = playlistMap
		}
	case PatternGame:
		log.Info("game playlist found", slog.String("index", index))
		templates = gameMap
	default:
		log.Warn("unrecognized playlist host", slog.String("url", base))
		return out, pattern, ErrUnrecognizedHost
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return out, PatternUnknown, ErrUnrecognizedHost
	}
	for _, t := range templates {
		if out[t.key] != "" {
			continue
		}
		out[t.key] = resolve(baseURL, t.path+ManifestExt)
	}
	return out, pattern, nil
}

// PickBaseURL chooses the playlist URL derivation starts from: the public
// playlist when present, else the first non-empty entry in MediaKeys order,
// else the first non-empty entry by key name.
func PickBaseURL(media map[string]string) (string, error) {
	if u := media[KeyPublic]; u != "" {
		return u, nil
	}
	for _, k := range MediaKeys {
		if u := media[k]; u != "" {
			return u, nil
		}
	}
	keys := make([]string, 0, len(media))
	for k := range media {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if media[k] != "" {
			return media[k], nil
		}
	}
	return "", ErrNoPlaylist
}

// MasterURL returns the multi-variant manifest of a rendition set: the
// playlist index when known, otherwise the plain url entry.
func MasterURL(media map[string]string) (string, error) {
	if u := media[KeyPlaylist]; u != "" {
		return u, nil
	}
	if u := media[KeyURL]; u != "" {
		return u, nil
	}
	return "", ErrNoPlaylist
}
