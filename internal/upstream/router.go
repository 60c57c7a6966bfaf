package upstream

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Router resolves a request's model to a registered Client by glob
// matching against the configured model patterns, in registration
// order. It is the process-wide singleton the pipeline calls into for
// send_upstream (§4.5); clients it holds pool their own connections.
type Router struct {
	mu       sync.RWMutex
	patterns []string
	clients  map[string]Client
}

// NewRouter returns an empty Router; call Register for each configured
// provider before serving traffic.
func NewRouter() *Router {
	return &Router{clients: make(map[string]Client)}
}

// Register binds a model glob pattern (e.g. "claude-*", "gpt-4*") to a
// Client. A later registration for an already-registered pattern replaces
// its Client and keeps the pattern's original place in the match order.
func (r *Router) Register(modelPattern string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[modelPattern]; !exists {
		r.patterns = append(r.patterns, modelPattern)
	}
	r.clients[modelPattern] = c
}

// Resolve returns the Client registered for the first pattern matching
// model, in registration order.
func (r *Router) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pattern := range r.patterns {
		ok, err := filepath.Match(pattern, model)
		if err != nil {
			continue
		}
		if ok {
			return r.clients[pattern], nil
		}
	}
	return nil, fmt.Errorf("upstream: no provider configured for model %q", model)
}
