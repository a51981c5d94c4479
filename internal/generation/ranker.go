package generation

import (
	"sort"

	"github.com/rankforge/api/internal/model"
)

// Rank picks the best candidate: one that ends cleanly beats one that is cut
// off, then fewer missing sections wins, then more words. Ties keep the
// input order.
func Rank(candidates []model.Candidate) (model.Candidate, bool) {
	if len(candidates) == 0 {
		return model.Candidate{}, false
	}
	sorted := make([]model.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Cutoff != b.Cutoff {
			return !a.Cutoff
		}
		if a.MissingSections != b.MissingSections {
			return a.MissingSections < b.MissingSections
		}
		return a.Words > b.Words
	})
	return sorted[0], true
}
