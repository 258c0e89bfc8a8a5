package quality

import (
	"maps"
	"slices"
)

// Counts holds the agreement counts for one cluster.
type Counts struct {
	TP, FP, FN int
}

func (c Counts) add(o Counts) Counts {
	return Counts{TP: c.TP + o.TP, FP: c.FP + o.FP, FN: c.FN + o.FN}
}

// Scores derived from Counts. Every ratio with a zero denominator is 0.
type Scores struct {
	Counts
	Precision float64
	Recall    float64
	F1        float64
	F05       float64
	F2        float64
}

type Report struct {
	Clusters map[int]Scores
	Total    Scores
}

// Compare measures the automatic membership against a manual one. For each
// cluster c a student counts as
//   - TP when both put it in c,
//   - FP when only the automatic clustering puts it in c,
//   - FN when only the manual clustering puts it in c.
//
// Students missing from one side count as a disagreement.
func Compare(auto, manual map[string]int) Report {
	clusters := make(map[int]Counts)
	for s, c := range auto {
		m, ok := manual[s]
		counts := clusters[c]
		if ok && m == c {
			counts.TP++
		} else {
			counts.FP++
		}
		clusters[c] = counts
	}
	for s, m := range manual {
		if c, ok := auto[s]; ok && c == m {
			continue
		}
		counts := clusters[m]
		counts.FN++
		clusters[m] = counts
	}

	r := Report{Clusters: make(map[int]Scores, len(clusters))}
	var total Counts
	for _, c := range slices.Sorted(maps.Keys(clusters)) {
		r.Clusters[c] = Score(clusters[c])
		total = total.add(clusters[c])
	}
	r.Total = Score(total)
	return r
}

// Score computes precision, recall and the F1, F0.5 and F2 measures.
func Score(c Counts) Scores {
	s := Scores{Counts: c}
	s.Precision = ratio(float64(c.TP), float64(c.TP+c.FP))
	s.Recall = ratio(float64(c.TP), float64(c.TP+c.FN))
	p, r := s.Precision, s.Recall
	if p+r == 0 {
		return s
	}
	s.F1 = ratio(2*p*r, p+r)
	s.F05 = ratio(1.25*p*r, 0.25*p+r)
	s.F2 = ratio(5*p*r, 4*p+r)
	return s
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
