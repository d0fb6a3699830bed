package document

import (
	"sort"
	"strings"
	"time"
)

// Aggregate assembles a DocumentResult from per-page outcomes. Pages are
// ordered by index; the aggregate confidence is the mean over all pages.
func Aggregate(id, source string, pages []Page, elapsed time.Duration) *DocumentResult {
	ordered := make([]Page, len(pages))
	copy(ordered, pages)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	result := &DocumentResult{
		ID:        id,
		Source:    source,
		Pages:     ordered,
		Elapsed:   elapsed,
		CreatedAt: time.Now().UTC(),
	}

	counts := make(map[Method]int, len(methodRank))
	var sum float64
	for _, p := range ordered {
		sum += p.Confidence
		counts[p.Method]++
		if p.ErrorCode != "" {
			result.Errors = append(result.Errors, PageError{Page: p.Index, Code: p.ErrorCode, Message: p.Error})
		}
	}
	if len(ordered) > 0 {
		result.Confidence = sum / float64(len(ordered))
	}
	result.Method = predominant(counts)

	return result
}

func predominant(counts map[Method]int) Method {
	var best Method
	bestCount := 0
	for m, c := range counts {
		if c > bestCount || (c == bestCount && rank(m) < rank(best)) {
			best, bestCount = m, c
		}
	}
	return best
}

func rank(m Method) int {
	if r, ok := methodRank[m]; ok {
		return r
	}
	return len(methodRank)
}

// ReadablePages counts pages that produced a result from their source.
func (d *DocumentResult) ReadablePages() int {
	n := 0
	for _, p := range d.Pages {
		if p.Method != MethodUnreadable {
			n++
		}
	}
	return n
}

// Text joins the page texts in page order, separated by a blank line.
func (d *DocumentResult) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// MethodCounts returns how many pages used each method.
func (d *DocumentResult) MethodCounts() map[Method]int {
	counts := make(map[Method]int)
	for _, p := range d.Pages {
		counts[p.Method]++
	}
	return counts
}
