// Package models defines data structures shared across the mirror job.
package models

import "time"

// Bucket names one of the per-row link categories.
type Bucket string

const (
	BucketSlides   Bucket = "slides"
	BucketReading  Bucket = "reading"
	BucketHomework Bucket = "homework"
)

// Directive is a resolved download instruction: one source URL and the
// filename it should land under inside its bucket directory.
type Directive struct {
	URL      string
	Filename string
	// Article marks links that resolve to an HTML page rather than a
	// downloadable asset; these become pointer stubs without a fetch.
	Article bool
}

// Row is the plan derived from one schedule-table row: a slugged directory
// name plus the three link buckets in dispatch order.
type Row struct {
	Slug    string
	Buckets []RowBucket
}

// RowBucket pairs a bucket with the directives targeting it.
type RowBucket struct {
	Name       Bucket
	Directives []Directive
}

// Artifact is one unit of pipeline work: bytes destined for a path relative
// to the output root. Stub artifacts carry rendered pointer markdown instead
// of fetched content.
type Artifact struct {
	Path      string
	Data      []byte
	SourceURL string
	Stub      bool

	// Done, when set, is invoked exactly once after the artifact has been
	// written (or rejected) so the owning bucket can be awaited.
	Done func()
}

// MirrorResult summarises one run of the mirror job.
type MirrorResult struct {
	StartTime    time.Time
	EndTime      time.Time
	RowCount     int
	RequestCount int
	ErrorCount   int
	SkippedLinks int
	FailedURLs   []string
	ErrorsByType map[string]int
}
