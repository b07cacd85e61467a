package digest

import (
	"bulletin/internal/core"
	"fmt"
	"sort"
	"strings"
)

// Compose renders the synthesis input: one "## source" section per source in
// first-seen order, articles before rankings, each entry
// "- title (metric): summary". Rankings are listed by descending downloads.
func Compose(items []core.Item, rankings []core.Ranking) string {
	var b strings.Builder

	var itemOrder []string
	itemsBySource := make(map[string][]core.Item)
	for _, it := range items {
		if _, ok := itemsBySource[it.Source]; !ok {
			itemOrder = append(itemOrder, it.Source)
		}
		itemsBySource[it.Source] = append(itemsBySource[it.Source], it)
	}
	for _, source := range itemOrder {
		fmt.Fprintf(&b, "## %s\n", source)
		for _, it := range itemsBySource[source] {
			b.WriteString("- ")
			b.WriteString(it.Title)
			if author := core.Deref(it.Author); author != "" {
				fmt.Fprintf(&b, " (by %s)", author)
			}
			fmt.Fprintf(&b, ": %s\n", oneLine(core.Deref(it.Summary)))
		}
		b.WriteString("\n")
	}

	var rankingOrder []string
	rankingsBySource := make(map[string][]core.Ranking)
	for _, r := range rankings {
		if _, ok := rankingsBySource[r.Source]; !ok {
			rankingOrder = append(rankingOrder, r.Source)
		}
		rankingsBySource[r.Source] = append(rankingsBySource[r.Source], r)
	}
	for _, source := range rankingOrder {
		group := rankingsBySource[source]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Downloads > group[j].Downloads })

		fmt.Fprintf(&b, "## %s\n", source)
		for _, r := range group {
			fmt.Fprintf(&b, "- %s (%s downloads): %s\n", r.ModelName, formatCount(r.Downloads), oneLine(core.Deref(r.Summary)))
		}
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String())
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// formatCount renders n with thousands separators.
func formatCount(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}
