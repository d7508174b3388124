package util

import (
	"sort"
	"strings"
)

// DisplaySnippet collapses whitespace and cuts s to maxRunes for API previews.
func DisplaySnippet(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 280
	}
	s = strings.Join(strings.Fields(SanitizeText(s)), " ")
	runes := []rune(s)
	if len(runes) > maxRunes {
		return strings.TrimSpace(string(runes[:maxRunes])) + "..."
	}
	return s
}

// EvidenceSnippet picks the sentences of text that share the most terms with query.
func EvidenceSnippet(text, query string, maxRunes int) string {
	terms := queryTerms(query)
	sentences := splitSentences(strings.Join(strings.Fields(SanitizeText(text)), " "))
	if len(terms) == 0 || len(sentences) < 2 {
		return DisplaySnippet(text, maxRunes)
	}

	type scored struct {
		idx   int
		score int
	}
	list := make([]scored, len(sentences))
	for i, s := range sentences {
		low := strings.ToLower(s)
		n := 0
		for _, t := range terms {
			if strings.Contains(low, t) {
				n++
			}
		}
		list[i] = scored{idx: i, score: n}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })
	if list[0].score == 0 {
		return DisplaySnippet(text, maxRunes)
	}

	picked := []int{list[0].idx}
	if list[1].score > 0 {
		picked = append(picked, list[1].idx)
		sort.Ints(picked)
	}
	parts := make([]string, 0, len(picked))
	for _, i := range picked {
		parts = append(parts, sentences[i])
	}
	return DisplaySnippet(strings.Join(parts, " "), maxRunes)
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "what": {}, "how": {},
	"why": {}, "which": {}, "that": {}, "this": {}, "with": {}, "from": {}, "does": {}, "can": {},
}

func queryTerms(q string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 8)
	for _, f := range strings.Fields(strings.ToLower(q)) {
		f = strings.Trim(f, ",.;:!?()[]{}\"'`")
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func splitSentences(s string) []string {
	out := make([]string, 0, 8)
	start := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			if x := strings.TrimSpace(s[start : i+1]); x != "" {
				out = append(out, x)
			}
			start = i + 1
		}
	}
	if x := strings.TrimSpace(s[start:]); x != "" {
		out = append(out, x)
	}
	return out
}
