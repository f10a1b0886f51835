package dataset

import (
	"fmt"
	"slices"
)

// Classify turns a raw activity into a labeled row. The first title narrative
// becomes the row text; the label is LabelRelated iff climateTag is one of the
// activity's tag narratives.
func Classify(activity Activity, climateTag string) (Row, error) {
	if activity.IATIIdentifier == "" {
		return Row{}, ErrMissingIdentifier
	}
	if len(activity.TitleNarrative) == 0 {
		return Row{}, fmt.Errorf("%s: %w", activity.IATIIdentifier, ErrMissingTitle)
	}
	label := LabelUnrelated
	if slices.Contains(activity.TagNarrative, climateTag) {
		label = LabelRelated
	}
	return Row{
		IATIIdentifier: activity.IATIIdentifier,
		Text:           activity.TitleNarrative[0],
		Label:          label,
	}, nil
}

// ClassifyAll classifies a batch, stopping at the first malformed activity.
func ClassifyAll(activities []Activity, climateTag string) ([]Row, error) {
	rows := make([]Row, 0, len(activities))
	for _, a := range activities {
		row, err := Classify(a, climateTag)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
