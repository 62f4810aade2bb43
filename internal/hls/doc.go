// Package hls resolves HLS manifests into selectable renditions and ordered
// segment lists.
//
// The flow is: Derive fills in candidate rendition URLs from a known base
// playlist, ResolveVariants parses the multi-variant manifest, Select picks one
// rendition and FetchSegments lists the media segments of that rendition.
package hls
