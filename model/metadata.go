package model

// ScoreMetadata is what the external metadata table knows about a source
// file, keyed by its base filename.
type ScoreMetadata struct {
	Title    string
	Composer string
	Year     uint
}
