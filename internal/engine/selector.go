package engine

import (
	"fmt"
	"sort"

	"github.com/hadylab/slipstream/internal/models"
)

// SelectVariant picks the variant to download from a master playlist:
// highest declared bandwidth wins. The sort is stable so ties keep their
// playlist order. Resolution is advisory only and never consulted;
// bandwidth is the one attribute guaranteed present and monotonically
// tied to quality.
func SelectVariant(variants []models.Variant) (models.Variant, error) {
	if len(variants) == 0 {
		return models.Variant{}, fmt.Errorf("no variants available")
	}

	sorted := make([]models.Variant, len(variants))
	copy(sorted, variants)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Bandwidth > sorted[j].Bandwidth
	})

	return sorted[0], nil
}
