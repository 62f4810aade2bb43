package hls

import (
	"regexp"
	"strings"
)

// Manifest tag prefixes recognised by the variant resolver.
const (
	TagMedia     = "#EXT-X-MEDIA:"
	TagStreamInf = "#EXT-X-STREAM-INF:"
)

// attrPattern matches KEY=VALUE pairs where VALUE is either quoted (and may
// contain commas) or runs until the next comma.
var attrPattern = regexp.MustCompile(`([A-Z0-9-]+)=("[^"]+"|[^",]+)(?:,|$)`)

// ParseAttributes parses the attribute list of a manifest tag line such as
// `#EXT-X-STREAM-INF:BANDWIDTH=800000,CODECS="avc1.4d401e,mp4a.40.2"`.
// Quotes around values are stripped. Malformed input yields an empty or
// partial map, never an error.
func ParseAttributes(line string) map[string]string {
	if strings.HasPrefix(line, "#") {
		if _, rest, ok := strings.Cut(line, ":"); ok {
			line = rest
		}
	}

	attrs := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(line, -1) {
		val := m[2]
		if len(val) >= 2 && strings.HasPrefix(val, `"`) {
			val = val[1 : len(val)-1]
		}
		attrs[m[1]] = val
	}
	return attrs
}
