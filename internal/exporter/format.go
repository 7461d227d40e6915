package exporter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// formatFloat formats a score with exactly 3 decimal places
func formatFloat(f float64) string {
	return fmt.Sprintf("%.3f", f)
}

func formatInt(i int) string {
	return strconv.Itoa(i)
}

// slug turns a column name such as "Feature 1" into "feature_1"
func slug(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
