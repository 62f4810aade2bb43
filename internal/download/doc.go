// Package download fetches the segments of one rendition with a bounded worker
// pool and reassembles them, in manifest order, into a single transport stream.
//
// Usage:
//
//	d := download.New(client, download.Options{
//	    Workers:  10,
//	    Attempts: 5,
//	    Log:      log,
//	})
//	res, err := d.Run(ctx, download.Job{Name: name, Dir: dir, Segments: segs})
//
// Segments are written to "<name>.seg<N>" artifacts next to the output while
// a single consumer appends them to "<name>.ts.tmp" as soon as the next index
// is available. The temporary output is renamed to "<name>.ts" only when every
// segment has been written.
package download
