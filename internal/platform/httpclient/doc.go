// Package httpclient provides the HTTP client shared by manifest and segment
// fetches.
//
// It handles:
//   - Custom header and User-Agent injection on every request
//   - A cookie jar keyed by public suffix, so CDN cookies set while fetching a
//     manifest are sent with its segments
//   - Decoding of br (brotli) and gzip response bodies
//   - An optional request rate limit shared by all workers of a client
//
// The client makes exactly one attempt per call. Retry policy belongs to the
// caller: manifest failures abort a job, segment failures are retried by the
// downloader.
package httpclient
