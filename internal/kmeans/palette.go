package kmeans

import (
	"fmt"
	"math/rand"
	"slices"
)

// Palette is handed out in order before any random colour is drawn.
var Palette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// Colors returns k distinct cluster colours. Clusters beyond the palette get
// random colours that are not part of it.
func Colors(k int, rd *rand.Rand) []string {
	out := make([]string, 0, k)
	for i := range min(k, len(Palette)) {
		out = append(out, Palette[i])
	}
	for len(out) < k {
		c := fmt.Sprintf("#%06x", rd.Intn(0x1000000))
		if slices.Contains(Palette, c) || slices.Contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}
