package catalog

import (
	"fmt"
	"strings"

	"github.com/pgmove/pgmove/internal/util"
)

// NormalizeList converts the possible shapes of a catalog aggregate result
// into one canonical ordered list of strings. Depending on the driver and
// the query, an aggregated column may arrive as a native string slice, as
// the Postgres array literal form "{a,b,c}", or as a bare comma-separated
// string. Callers never see the raw representation.
func NormalizeList(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case []string:
		if len(v) == 0 {
			return nil
		}
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		var out []string
		for _, elem := range v {
			out = append(out, fmt.Sprint(elem))
		}
		return out
	case string:
		return parseArrayLiteral(v)
	default:
		return parseArrayLiteral(fmt.Sprint(raw))
	}
}

// parseArrayLiteral splits "{a,b,c}" or "a,b,c" into elements, honoring
// double-quoted elements that contain commas or braces.
func parseArrayLiteral(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "{}" {
		return nil
	}

	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return splitQuoted(s[1 : len(s)-1])
	}
	return util.SplitCSV(s)
}

// splitQuoted splits the inner text of an array literal on commas that are
// outside double quotes. Backslash escapes inside quotes are unescaped.
func splitQuoted(s string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	escaped := false
	hadQuotes := false

	emit := func() {
		elem := cur.String()
		cur.Reset()
		if !hadQuotes {
			elem = strings.TrimSpace(elem)
			if elem == "" {
				return
			}
		}
		hadQuotes = false
		out = append(out, elem)
	}

	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && inQuotes:
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
			hadQuotes = true
		case r == ',' && !inQuotes:
			emit()
		default:
			cur.WriteRune(r)
		}
	}
	emit()
	return out
}
