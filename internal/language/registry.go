// Package language provides the registry of languages the sandbox can run.
package language

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when a language id is not registered.
var ErrNotFound = errors.New("language not found")

// Language describes a supported runtime: the container image to run it in
// and how to invoke its interpreter with an inline code argument.
type Language struct {
	ID            string
	Name          string
	Image         string
	CommentPrefix string
	// Command is the in-container invocation; CodePlaceholder is replaced
	// with the submitted source.
	Command []string
}

// CodePlaceholder marks where submitted source is spliced into Command.
const CodePlaceholder = "{code}"

// BuildCommand resolves the language's invocation for the given source.
func (l Language) BuildCommand(code string) []string {
	cmd := make([]string, len(l.Command))
	for i, arg := range l.Command {
		if arg == CodePlaceholder {
			cmd[i] = code
		} else {
			cmd[i] = arg
		}
	}
	return cmd
}

// Registry holds the supported language set.
type Registry struct {
	mu        sync.RWMutex
	languages map[string]Language
}

// NewRegistry creates a registry pre-populated with the default languages.
func NewRegistry() *Registry {
	r := &Registry{languages: make(map[string]Language)}
	r.registerDefaults()
	return r
}

// Register adds or replaces a language.
func (r *Registry) Register(lang Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.languages[lang.ID] = lang
}

// Get returns the language for the given id.
func (r *Registry) Get(id string) (Language, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.languages[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Language{}, ErrNotFound
	}
	return lang, nil
}

// IDs returns the sorted list of registered language ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.languages))
	for id := range r.languages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) registerDefaults() {
	r.Register(Language{
		ID:            "python",
		Name:          "Python",
		Image:         "python:3.12-slim",
		CommentPrefix: "#",
		Command:       []string{"python3", "-c", CodePlaceholder},
	})

	r.Register(Language{
		ID:            "javascript",
		Name:          "JavaScript",
		Image:         "node:22-slim",
		CommentPrefix: "//",
		Command:       []string{"node", "-e", CodePlaceholder},
	})

	r.Register(Language{
		ID:            "ruby",
		Name:          "Ruby",
		Image:         "ruby:3.3-slim",
		CommentPrefix: "#",
		Command:       []string{"ruby", "-e", CodePlaceholder},
	})

	r.Register(Language{
		ID:            "bash",
		Name:          "Bash",
		Image:         "bash:5.2",
		CommentPrefix: "#",
		Command:       []string{"bash", "-c", CodePlaceholder},
	})
}
