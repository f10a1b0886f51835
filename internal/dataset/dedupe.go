package dataset

// Deduplicate drops rows that exactly match an earlier row, preserving the
// order of first occurrences.
func Deduplicate(rows []Row) []Row {
	seen := make(map[Row]struct{}, len(rows))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
