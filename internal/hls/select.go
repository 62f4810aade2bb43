package hls

import "errors"

// SelectorBest picks the "Source" rendition if any, else the highest bandwidth.
const SelectorBest = "best"

// ErrFormatNotFound is returned by Select when nothing matches the selector.
var ErrFormatNotFound = errors.New("hls: no format found")

// SourceName is the media name of the original-quality rendition.
const SourceName = "Source"

// Select chooses a rendition by media name, group id, or SelectorBest. For an
// exact selector the first match in manifest order wins. For SelectorBest the
// first rendition named "Source" wins unconditionally; otherwise the first
// rendition with the strictly greatest positive bandwidth wins.
func Select(renditions []Rendition, selector string) (Rendition, error) {
	if selector == SelectorBest {
		return selectBest(renditions)
	}
	for _, r := range renditions {
		if r.Media.Name == selector || r.Media.GroupID == selector {
			return r, nil
		}
	}
	return Rendition{}, ErrFormatNotFound
}

func selectBest(renditions []Rendition) (Rendition, error) {
	best := -1
	var bestBandwidth int64
	for i, r := range renditions {
		if r.Media.Name == SourceName {
			return r, nil
		}
		if r.Format.Bandwidth > bestBandwidth {
			best, bestBandwidth = i, r.Format.Bandwidth
		}
	}
	if best < 0 {
		return Rendition{}, ErrFormatNotFound
	}
	return renditions[best], nil
}
