// Package registry maps adapter names and connection URL schemes to the
// plugins that implement them.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tordrt/relcache/internal/adapter"
	"github.com/tordrt/relcache/internal/db"
)

// baseMacroSet is loaded before every plugin's own macros
const baseMacroSet = "default"

// Plugin describes one warehouse adapter
type Plugin struct {
	Name    string
	Dialect adapter.Dialect
	// Schemes are the URL schemes that select this plugin, e.g. "postgres"
	Schemes []string
	// KeepScheme passes the whole URL to Connect instead of stripping "<scheme>://"
	KeepScheme bool
	// Connect opens an executor allowed at most threads concurrent sessions
	Connect func(ctx context.Context, dsn string, threads int) (db.Executor, error)
	// DatabaseName extracts the database a DSN points at
	DatabaseName func(dsn string) (string, error)
	ProjectName  string
	// IncludePath names the macro set this plugin ships
	IncludePath string
	// Dependencies are plugins whose macros load before this plugin's own
	Dependencies []string
}

// Registry holds the known plugins
type Registry struct {
	plugins map[string]*Plugin
	schemes map[string]string
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		plugins: make(map[string]*Plugin),
		schemes: make(map[string]string),
	}
}

// Register adds a plugin. Names and schemes must be unique.
func (r *Registry) Register(p *Plugin) error {
	if p.Name == "" {
		return fmt.Errorf("plugin has no name")
	}
	if p.Connect == nil {
		return fmt.Errorf("plugin %s has no Connect function", p.Name)
	}
	if _, ok := r.plugins[p.Name]; ok {
		return fmt.Errorf("plugin %s is already registered", p.Name)
	}
	for _, scheme := range p.Schemes {
		if owner, ok := r.schemes[scheme]; ok {
			return fmt.Errorf("scheme %s of plugin %s is already used by %s", scheme, p.Name, owner)
		}
	}

	r.plugins[p.Name] = p
	for _, scheme := range p.Schemes {
		r.schemes[scheme] = p.Name
	}
	return nil
}

// Lookup returns the plugin registered under name
func (r *Registry) Lookup(name string) (*Plugin, error) {
	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return p, nil
}

// ForScheme returns the plugin that handles a URL scheme
func (r *Registry) ForScheme(scheme string) (*Plugin, error) {
	name, ok := r.schemes[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", scheme)
	}
	return r.plugins[name], nil
}

// ParseURL selects the plugin for a connection URL and returns the DSN its Connect expects
func (r *Registry) ParseURL(url string) (*Plugin, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("database URL is required")
	}
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return nil, "", fmt.Errorf("invalid database URL (must start with <scheme>://, one of %s)", strings.Join(r.schemeList(), ", "))
	}
	p, err := r.ForScheme(scheme)
	if err != nil {
		return nil, "", err
	}
	if p.KeepScheme {
		return p, url, nil
	}
	return p, rest, nil
}

func (r *Registry) schemeList() []string {
	schemes := make([]string, 0, len(r.schemes))
	for scheme := range r.schemes {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// Names lists the registered plugins
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MacroSets returns the macro sets to load for a plugin in override order:
// the base set, then each dependency's sets, then the plugin's own.
func (r *Registry) MacroSets(name string) ([]string, error) {
	sets := []string{baseMacroSet}
	seen := map[string]bool{baseMacroSet: true}
	if err := r.collectSets(name, nil, seen, &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

func (r *Registry) collectSets(name string, path []string, seen map[string]bool, sets *[]string) error {
	for _, p := range path {
		if p == name {
			return fmt.Errorf("adapter dependency cycle: %s -> %s", strings.Join(path, " -> "), name)
		}
	}
	p, err := r.Lookup(name)
	if err != nil {
		return err
	}
	path = append(path, name)
	for _, dep := range p.Dependencies {
		if err := r.collectSets(dep, path, seen, sets); err != nil {
			return err
		}
	}
	if p.IncludePath != "" && !seen[p.IncludePath] {
		seen[p.IncludePath] = true
		*sets = append(*sets, p.IncludePath)
	}
	return nil
}

// Dialect returns the plugin's dialect with its macro sets resolved through
// its dependencies
func (r *Registry) Dialect(name string) (adapter.Dialect, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return adapter.Dialect{}, err
	}
	sets, err := r.MacroSets(name)
	if err != nil {
		return adapter.Dialect{}, err
	}
	d := p.Dialect
	d.MacroSets = sets
	return d, nil
}
