package hostcall

import "sort"

// levenshteinDistance is the edit distance between two strings, used only
// to rank "did you mean" suggestions for a missing import label.
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}
	matrix := make([][]int, len(s1)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(s2)+1)
	}
	for i := 0; i <= len(s1); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(s2); j++ {
		matrix[0][j] = j
	}
	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			del := matrix[i-1][j] + 1
			ins := matrix[i][j-1] + 1
			sub := matrix[i-1][j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			matrix[i][j] = m
		}
	}
	return matrix[len(s1)][len(s2)]
}

// Suggest returns the bound import labels closest (by edit distance) to an
// unresolved label, spec.md §7's missing-import diagnostic enriched with a
// "did you mean" hint — useful when a guest import table has a typo'd or
// slightly-wrong-cased name for a stub that is in fact implemented.
func (t *Table) Suggest(label string, max int) []string {
	type scored struct {
		name string
		dist int
	}
	var candidates []scored
	const threshold = 3
	seen := make(map[string]bool)
	for k, f := range t.byName {
		full := k.module + "!" + f.Name
		if seen[full] {
			continue
		}
		seen[full] = true
		if d := levenshteinDistance(label, full); d <= threshold && d > 0 {
			candidates = append(candidates, scored{full, d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist == candidates[j].dist {
			return candidates[i].name < candidates[j].name
		}
		return candidates[i].dist < candidates[j].dist
	})
	out := make([]string, 0, max)
	for i := 0; i < len(candidates) && i < max; i++ {
		out = append(out, candidates[i].name)
	}
	return out
}
