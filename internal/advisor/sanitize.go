package advisor

import (
	"strings"
	"unicode/utf8"
)

const (
	maxInput       = 2000
	maxBulkInput   = 200
	maxHistoryItem = 5000
)

var delimiterReplacer = strings.NewReplacer(
	`"""`, `'''`,
	"[TASK_DATA]", "(TASK_DATA)",
	"[/TASK_DATA]", "(/TASK_DATA)",
	"`", "'",
)

// Sanitize trims, truncates to max runes and neutralizes the prompt
// delimiters so untrusted text cannot close a data section.
func Sanitize(in string, max int) string {
	clean := strings.TrimSpace(in)
	if utf8.RuneCountInString(clean) > max {
		clean = string([]rune(clean)[:max])
	}
	return delimiterReplacer.Replace(clean)
}
