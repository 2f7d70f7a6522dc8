package processing

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultPreviewRows is how many rows a summary shows when the caller does
// not say.
const DefaultPreviewRows = 3

// maxValueLen caps each rendered cell so a single wide property cannot blow
// up the prompt built from the summary.
const maxValueLen = 80

// Summary is a digest of a result set: count, shape and a short preview.
// It is what the format step sees; raw rows never leave the execute step.
type Summary struct {
	Rows    int
	Columns []string
	Preview []map[string]any
}

// Summarize builds a Summary keeping at most previewRows rows.
func Summarize(rows []map[string]any, previewRows int) Summary {
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}

	cols := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			cols[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(cols))
	for c := range cols {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	n := len(rows)
	if n > previewRows {
		n = previewRows
	}
	preview := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		row := make(map[string]any, len(rows[i]))
		for k, v := range rows[i] {
			row[k] = v
		}
		preview[i] = row
	}

	return Summary{Rows: len(rows), Columns: columns, Preview: preview}
}

// Empty reports whether the result set had no rows.
func (s Summary) Empty() bool {
	return s.Rows == 0
}

// String renders the summary on a single line.
func (s Summary) String() string {
	if s.Rows == 0 {
		return "no results"
	}

	var sb strings.Builder
	if s.Rows == 1 {
		sb.WriteString("1 row")
	} else {
		fmt.Fprintf(&sb, "%d rows", s.Rows)
	}
	if len(s.Columns) > 0 {
		fmt.Fprintf(&sb, "; columns: %s", strings.Join(s.Columns, ", "))
	}
	if len(s.Preview) > 0 {
		parts := make([]string, len(s.Preview))
		for i, row := range s.Preview {
			parts[i] = renderRow(s.Columns, row)
		}
		fmt.Fprintf(&sb, "; preview: %s", strings.Join(parts, "; "))
		if s.Rows > len(s.Preview) {
			fmt.Fprintf(&sb, "; +%d more", s.Rows-len(s.Preview))
		}
	}
	return sb.String()
}

func renderRow(columns []string, row map[string]any) string {
	cells := make([]string, 0, len(row))
	for _, c := range columns {
		v, ok := row[c]
		if !ok {
			continue
		}
		cells = append(cells, c+": "+truncate(fmt.Sprint(v), maxValueLen))
	}
	return "{" + strings.Join(cells, ", ") + "}"
}

// truncate shortens s to at most max runes, marking the cut.
func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max-3])) + "..."
}
