package language

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Advisory variable capture. Interpreters are invoked as fresh processes,
// so simple top-level assignments from earlier submissions are replayed as
// a preamble on later ones. This is best-effort snapshotting, not an
// evaluator: anything the patterns miss is simply not carried over.

var (
	plainAssignPattern = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*([^=].*?)\s*$`)
	jsAssignPattern    = regexp.MustCompile(`^\s*(?:(?:let|const|var)\s+)?([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*([^=].*?);?\s*$`)
	bashAssignPattern  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)=(\S.*?)\s*$`)
)

// CaptureAssignments extracts top-level variable assignments from source.
func (l Language) CaptureAssignments(code string) map[string]string {
	pattern := l.assignPattern()
	if pattern == nil {
		return nil
	}

	vars := make(map[string]string)
	for _, line := range strings.Split(code, "\n") {
		// Indented lines are inside a block; capturing them would replay
		// values that may never have been assigned.
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		m := pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, value := m[1], m[2]
		if value == "" || strings.ContainsAny(value, ";{") {
			continue
		}
		vars[name] = value
	}
	if len(vars) == 0 {
		return nil
	}
	return vars
}

// AssignmentPreamble renders a variable snapshot as source prepended to a
// submission, restoring names defined by earlier runs.
func (l Language) AssignmentPreamble(vars map[string]string) string {
	if len(vars) == 0 {
		return ""
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		switch l.ID {
		case "javascript":
			// "var" tolerates redeclaration when the submission assigns again.
			fmt.Fprintf(&b, "var %s = %s;\n", name, vars[name])
		case "bash":
			fmt.Fprintf(&b, "%s=%s\n", name, vars[name])
		default:
			fmt.Fprintf(&b, "%s = %s\n", name, vars[name])
		}
	}
	return b.String()
}

func (l Language) assignPattern() *regexp.Regexp {
	switch l.ID {
	case "python", "ruby":
		return plainAssignPattern
	case "javascript":
		return jsAssignPattern
	case "bash":
		return bashAssignPattern
	default:
		return nil
	}
}
