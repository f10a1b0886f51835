// Package dataset defines the labeled-row model and the pure transformations
// applied to it: classification, deduplication, and class balancing.
package dataset

import "errors"

// Label is the binary climate classification attached to every row.
type Label string

// Supported labels.
const (
	LabelRelated   Label = "Related to climate"
	LabelUnrelated Label = "Not related to climate"
)

// DefaultClimateTag is the tag narrative that marks an activity as climate related.
const DefaultClimateTag = "International Climate Finance"

// DefaultSeed keeps balancing reproducible across runs.
const DefaultSeed uint64 = 1337

// Errors returned for malformed activities or impossible balancing requests.
var (
	ErrMissingIdentifier    = errors.New("activity has no iati_identifier")
	ErrMissingTitle         = errors.New("activity has no title narrative")
	ErrInsufficientMajority = errors.New("not enough unrelated rows to balance the dataset")
)

// Activity is a single raw document returned by the datastore search API.
type Activity struct {
	IATIIdentifier string   `json:"iati_identifier"`
	TitleNarrative []string `json:"title_narrative"`
	TagNarrative   []string `json:"tag_narrative,omitempty"`
}

// Row is a labeled training example.
type Row struct {
	IATIIdentifier string `json:"iati_identifier"`
	Text           string `json:"text"`
	Label          Label  `json:"label"`
}

// Counts tallies rows per label.
type Counts struct {
	Related   int `json:"related"`
	Unrelated int `json:"unrelated"`
}

// Total returns the number of rows across both labels.
func (c Counts) Total() int {
	return c.Related + c.Unrelated
}

// Count tallies rows per label.
func Count(rows []Row) Counts {
	var c Counts
	for _, r := range rows {
		switch r.Label {
		case LabelRelated:
			c.Related++
		case LabelUnrelated:
			c.Unrelated++
		}
	}
	return c
}
