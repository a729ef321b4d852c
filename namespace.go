package offlinecache

import (
	"context"
	"fmt"
	"strings"
)

// Scope identifies the purpose of a cache namespace.
type Scope string

const (
	ScopeGeneric Scope = "generic"
	ScopeAudio   Scope = "audio"
	ScopeStatic  Scope = "static"
	ScopeDynamic Scope = "dynamic-pages"
	ScopeQuery   Scope = "query"
)

// Scopes lists every namespace scope, one current namespace each.
var Scopes = []Scope{ScopeGeneric, ScopeAudio, ScopeStatic, ScopeDynamic, ScopeQuery}

// Registry maps scopes to versioned namespace names of the form
// {app}-{scope}-{version} and opens the backing stores through a Provider.
type Registry struct {
	cfg      Config
	provider Provider
}

// NewRegistry builds a registry for the configured app name and version.
func NewRegistry(cfg Config, provider Provider) *Registry {
	return &Registry{cfg: cfg, provider: provider}
}

// Name returns the current namespace name for a scope.
func (r *Registry) Name(scope Scope) string {
	return fmt.Sprintf("%s-%s-%s", r.cfg.App, scope, r.cfg.Version)
}

// CurrentNames returns the known-good namespace set for the current version.
func (r *Registry) CurrentNames() []string {
	names := make([]string, 0, len(Scopes))
	for _, s := range Scopes {
		names = append(names, r.Name(s))
	}
	return names
}

// IsStale reports whether a namespace name belongs to this app but carries
// a version tag other than the current one. Names outside the app prefix
// are never considered stale; they belong to someone else.
func (r *Registry) IsStale(name string) bool {
	if !strings.HasPrefix(name, r.cfg.App+"-") {
		return false
	}
	return !strings.HasSuffix(name, "-"+r.cfg.Version)
}

// Open returns the store backing the current namespace for a scope,
// creating it lazily on first use.
func (r *Registry) Open(ctx context.Context, scope Scope) (Store, error) {
	return r.provider.Open(ctx, r.Name(scope))
}

// Names enumerates every namespace currently present in the provider,
// stale ones included.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	return r.provider.Names(ctx)
}

// Drop deletes a namespace and everything in it.
func (r *Registry) Drop(ctx context.Context, name string) error {
	return r.provider.Drop(ctx, name)
}
