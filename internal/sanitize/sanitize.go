// Package sanitize redacts known-dangerous constructs from submitted source
// before it reaches the sandbox. It is advisory hardening on top of the
// container's isolation, not a security boundary.
package sanitize

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// RedactionMarker prefixes every line the sanitizer comments out.
const RedactionMarker = "[removed]"

// Rule matches a dangerous construct for a set of languages.
type Rule struct {
	Pattern   string   `yaml:"pattern"`
	Languages []string `yaml:"languages"`

	re *regexp.Regexp
}

func (r *Rule) appliesTo(languageID string) bool {
	if len(r.Languages) == 0 {
		return true
	}
	for _, id := range r.Languages {
		if id == languageID {
			return true
		}
	}
	return false
}

// Sanitizer applies textual redaction rules line by line, preserving the
// line structure so interpreter error positions still map to the source
// the learner submitted.
type Sanitizer struct {
	rules []Rule
}

// New returns a sanitizer with the built-in default rules.
func New() *Sanitizer {
	s, err := fromRules(defaultRules())
	if err != nil {
		// Default rules are compile-time constants; a bad pattern is a bug.
		panic(err)
	}
	return s
}

// Load reads redaction rules from a YAML file. An empty path returns the
// built-in defaults.
func Load(path string) (*Sanitizer, error) {
	if path == "" {
		return New(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sanitize rules %s: %w", path, err)
	}

	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse sanitize rules %s: %w", path, err)
	}

	s, err := fromRules(rules)
	if err != nil {
		return nil, fmt.Errorf("compile sanitize rules %s: %w", path, err)
	}
	return s, nil
}

func fromRules(rules []Rule) (*Sanitizer, error) {
	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", r.Pattern, err)
		}
		r.re = re
		compiled = append(compiled, r)
	}
	return &Sanitizer{rules: compiled}, nil
}

// Clean replaces lines matching a blocked pattern with a visibly
// commented-out marker. The returned source has the same number of lines
// as the input.
func (s *Sanitizer) Clean(code, languageID, commentPrefix string) string {
	if commentPrefix == "" {
		commentPrefix = "#"
	}

	lines := strings.Split(code, "\n")
	changed := false
	for i, line := range lines {
		for _, rule := range s.rules {
			if !rule.appliesTo(languageID) {
				continue
			}
			if rule.re.MatchString(line) {
				lines[i] = commentPrefix + " " + RedactionMarker + " " + line
				changed = true
				break
			}
		}
	}
	if !changed {
		return code
	}
	return strings.Join(lines, "\n")
}

func defaultRules() []Rule {
	return []Rule{
		{Pattern: `^\s*(import|from)\s+(os|sys|subprocess|shutil|socket|ctypes)\b`, Languages: []string{"python"}},
		{Pattern: `\b__import__\s*\(`, Languages: []string{"python"}},
		{Pattern: `\b(eval|exec|compile)\s*\(`, Languages: []string{"python"}},
		{Pattern: `\brequire\s*\(\s*['"](child_process|cluster|worker_threads|fs|net|dgram)['"]`, Languages: []string{"javascript"}},
		{Pattern: `\beval\s*\(`, Languages: []string{"javascript"}},
		{Pattern: `\bnew\s+Function\s*\(`, Languages: []string{"javascript"}},
		{Pattern: `\bprocess\.(exit|kill|binding)\b`, Languages: []string{"javascript"}},
		{Pattern: `^\s*require\s+['"](open3|socket|drb)['"]`, Languages: []string{"ruby"}},
		{Pattern: "`[^`]*`", Languages: []string{"ruby"}},
		{Pattern: `\b(system|exec|spawn|eval)\s*[\(\s]`, Languages: []string{"ruby"}},
	}
}
