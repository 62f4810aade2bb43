package hls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/grafov/m3u8"
)

// Fetcher performs a single GET and returns the response body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SegmentRef is one media segment. Index is the zero-based position in the
// manifest and the only ordering key used for reassembly.
type SegmentRef struct {
	URL   string
	Index int
}

// FetchSegments downloads a rendition manifest and lists its segments along
// with a summary of the playlist. There is no retry here; a failed fetch is
// returned to the caller. A summary that cannot be decoded only carries the
// segment count.
func FetchSegments(ctx context.Context, f Fetcher, manifestURL string) ([]SegmentRef, Summary, error) {
	body, err := f.Fetch(ctx, manifestURL)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("fetch segment list %s: %w", manifestURL, err)
	}
	segs := ParseSegments(string(body), manifestURL)
	summary, err := Describe(body)
	if err != nil {
		summary = Summary{Segments: len(segs)}
	}
	return segs, summary, nil
}

// ParseSegments returns every non-comment, non-blank line of body as a segment,
// resolved against manifestURL.
func ParseSegments(body, manifestURL string) []SegmentRef {
	base, _ := url.Parse(manifestURL)
	var segs []SegmentRef
	for _, line := range splitLines(body) {
		if strings.HasPrefix(line, "#") {
			continue
		}
		segs = append(segs, SegmentRef{URL: resolve(base, line), Index: len(segs)})
	}
	return segs
}

// Summary describes a media playlist.
type Summary struct {
	Segments       int
	TargetDuration time.Duration
	Duration       time.Duration
	// Ended is true when the playlist carries #EXT-X-ENDLIST.
	Ended bool
}

// Describe decodes a media playlist body and summarises it. It is informational
// only; segment order always comes from ParseSegments.
func Describe(body []byte) (Summary, error) {
	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return Summary{}, fmt.Errorf("decode media playlist: %w", err)
	}
	if listType != m3u8.MEDIA {
		return Summary{}, errors.New("decode media playlist: not a media playlist")
	}
	mp := p.(*m3u8.MediaPlaylist)

	s := Summary{
		Segments:       int(mp.Count()),
		TargetDuration: seconds(float64(mp.TargetDuration)),
		Ended:          mp.Closed,
	}
	var total float64
	for _, seg := range mp.Segments {
		if seg == nil {
			continue
		}
		total += seg.Duration
	}
	s.Duration = seconds(total)
	return s, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
