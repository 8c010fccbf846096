package topics

import (
	"errors"
	"sort"
)

// DefaultTopK is the number of topics a cycle works on when the caller does
// not say otherwise.
const DefaultTopK = 5

// ErrNoTopics is returned by Rank when there is nothing to rank.
var ErrNoTopics = errors.New("no topics available")

// Rank returns the k highest-scoring records. Records with equal scores keep
// their input order. k <= 0 means DefaultTopK. The input slice is not
// modified.
func Rank(records []Record, k int) ([]Record, error) {
	if len(records) == 0 {
		return nil, ErrNoTopics
	}
	if k <= 0 {
		k = DefaultTopK
	}

	ranked := make([]Record, len(records))
	copy(ranked, records)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

// Titles returns the topic strings of records, in order.
func Titles(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Topic)
	}
	return out
}
