// Package trunc bounds tool results before they enter conversation
// history, keeping the replayed context inside the provider's window
// across iterations. Truncation is idempotent: applying it to an already
// truncated result changes nothing.
package trunc

import (
	"fmt"
	"unicode/utf8"

	"github.com/conduitlabs/conduit/internal/toolreg"
)

const (
	// maxRows is the row threshold for tabular data; above it the table
	// is reduced to headRows + a marker row + tailRows.
	maxRows  = 10
	headRows = 5
	tailRows = 5

	// maxHits caps search-result payloads.
	maxHits = 5

	// DefaultTextBudget is the character cap for free-text payloads.
	DefaultTextBudget = 1500
)

// Apply enforces the truncation policy on res in place and returns it.
// id identifies the untruncated entry so a capped text payload can point
// back at it for re-lookup. textBudget <= 0 uses DefaultTextBudget.
func Apply(res *toolreg.Result, id string, textBudget int) *toolreg.Result {
	if res == nil || res.Truncated {
		return res
	}
	if textBudget <= 0 {
		textBudget = DefaultTextBudget
	}

	switch data := res.Data.(type) {
	case []toolreg.Row:
		truncateRows(res, data)
	case []toolreg.SearchHit:
		truncateHits(res, data)
	case string:
		truncateText(res, data, id, textBudget)
	case toolreg.BatchReport:
		truncateBatch(data, id, textBudget)
	}
	return res
}

// truncateBatch bounds each sub-result of a batch report. The report
// itself stays untruncated; the per-entry Truncated flags carry the
// idempotence.
func truncateBatch(report toolreg.BatchReport, id string, textBudget int) {
	for i, entry := range report.Results {
		Apply(entry.Result, fmt.Sprintf("%s/%d", id, i), textBudget)
	}
}

func truncateRows(res *toolreg.Result, rows []toolreg.Row) {
	total := len(rows)
	if total <= maxRows {
		return
	}
	omitted := total - headRows - tailRows
	out := make([]toolreg.Row, 0, headRows+tailRows+1)
	out = append(out, rows[:headRows]...)
	out = append(out, toolreg.Row{
		"_truncated": fmt.Sprintf("... %d rows omitted ...", omitted),
	})
	out = append(out, rows[total-tailRows:]...)

	res.Data = out
	res.Truncated = true
	res.ContextSummary = fmt.Sprintf(
		"showing first %d and last %d of %d rows (%d omitted)",
		headRows, tailRows, total, omitted)
}

func truncateHits(res *toolreg.Result, hits []toolreg.SearchHit) {
	total := len(hits)
	if total <= maxHits {
		return
	}
	res.Data = hits[:maxHits]
	res.Truncated = true
	res.ContextSummary = fmt.Sprintf("showing top %d of %d matches", maxHits, total)
}

func truncateText(res *toolreg.Result, text, id string, budget int) {
	if len(text) <= budget {
		return
	}
	// Back the cut off to a rune boundary so the kept prefix stays
	// valid UTF-8.
	cut := budget
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	res.Data = text[:cut] + "…"
	res.Truncated = true
	res.ContextSummary = fmt.Sprintf(
		"text truncated to %d of %d characters; full result available under id %s",
		budget, len(text), id)
}
