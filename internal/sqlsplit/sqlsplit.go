// Package sqlsplit splits SQL script text into independently executable
// statements. The splitter is line based and tracks a single open
// dollar-quote tag, so procedural bodies with embedded semicolons are never
// split. Nested distinct dollar-quote tags are not supported; one quoting
// depth is assumed.
package sqlsplit

import "strings"

// Split returns the statements contained in text, in order, with internal
// formatting preserved and the terminating semicolon stripped. A trailing
// unterminated statement is still returned.
func Split(text string) []string {
	var stmts []string
	var buf []string
	openTag := ""

	emit := func() {
		joined := strings.TrimRight(strings.Join(buf, "\n"), " \t\r\n")
		joined = strings.TrimSuffix(joined, ";")
		if strings.TrimSpace(joined) != "" {
			stmts = append(stmts, joined)
		}
		buf = buf[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		// Blank lines and comment lines before a statement starts are not
		// part of any statement.
		if len(buf) == 0 && openTag == "" {
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
		}

		openTag = scanTags(line, openTag)
		buf = append(buf, line)

		if openTag == "" && strings.HasSuffix(trimmed, ";") {
			emit()
		}
	}

	if len(buf) > 0 {
		emit()
	}
	return stmts
}

// scanTags updates the open dollar-quote tag across one line. A token of
// the form $ident$ opens quoting when none is open, closes it when it
// matches the open tag exactly, and is ignored otherwise.
func scanTags(line, open string) string {
	for i := 0; i < len(line); i++ {
		if line[i] != '$' {
			continue
		}
		j := i + 1
		for j < len(line) && isTagChar(line[j]) {
			j++
		}
		if j >= len(line) || line[j] != '$' {
			continue
		}
		tok := line[i : j+1]
		switch {
		case open == "":
			open = tok
		case tok == open:
			open = ""
		}
		i = j
	}
	return open
}

func isTagChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
