package dataset

import (
	"fmt"
	"math/rand/v2"
)

// Balance downsamples the unrelated class to the size of the related class.
// The related rows keep their order and come first, followed by the sampled
// unrelated rows in sample order. The same seed always selects the same rows.
func Balance(rows []Row, seed uint64) ([]Row, error) {
	var related, unrelated []Row
	for _, r := range rows {
		if r.Label == LabelRelated {
			related = append(related, r)
		} else {
			unrelated = append(unrelated, r)
		}
	}
	n := len(related)
	if len(unrelated) < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientMajority, n, len(unrelated))
	}

	out := make([]Row, 0, 2*n)
	out = append(out, related...)
	return append(out, sample(unrelated, n, seed)...), nil
}

// sample draws n rows uniformly without replacement using a partial
// Fisher-Yates shuffle over an index slice, leaving rows untouched.
func sample(rows []Row, n int, seed uint64) []Row {
	if n == 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	out := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
		out = append(out, rows[idx[i]])
	}
	return out
}
