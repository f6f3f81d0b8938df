package controls

import "strings"

// indentOf returns the width of the leading whitespace of line, counting a
// tab as eight columns.
func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 8 - n%8
		default:
			return n
		}
	}
	return n
}

// isCodeLine reports whether line carries a statement.
func isCodeLine(line string) bool {
	t := strings.TrimSpace(line)
	return t != "" && !strings.HasPrefix(t, "#")
}

// runsAtImport reports whether the Python statement on lines[idx] (0-based)
// executes when the module is imported. Statements nested in a def or
// async def body run later; module-level and class-body statements run at
// import. Scope is recovered from indentation by walking outward through the
// enclosing blocks.
func runsAtImport(lines []string, idx int) bool {
	if idx < 0 || idx >= len(lines) {
		return false
	}
	indent := indentOf(lines[idx])
	for i := idx - 1; i >= 0 && indent > 0; i-- {
		if !isCodeLine(lines[i]) {
			continue
		}
		outer := indentOf(lines[i])
		if outer >= indent {
			continue
		}
		head := strings.TrimSpace(lines[i])
		if strings.HasPrefix(head, "def ") || strings.HasPrefix(head, "async def ") {
			return false
		}
		indent = outer
	}
	return true
}
