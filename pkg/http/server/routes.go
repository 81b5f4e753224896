package server

import (
	"net/http"
)

// Route represents an HTTP route with its pattern, description, and handler.
type Route struct {
	Pattern     string       `json:"pattern"`
	Description string       `json:"description"`
	Handler     http.Handler `json:"-"`
}

// Routes is a collection of Route objects that can be registered with an HTTP server.
type Routes []Route

// Register adds a new route to the Routes collection for later registration
// with an HTTP server. This allows tracking endpoint patterns and their
// handlers for use with http.ServeMux.Handle. Useful for logging information
// about registered routes and their descriptions.
func (rs *Routes) Register(pattern string, hh http.Handler, desc string) {
	if desc == "" {
		desc = "No description provided"
	}

	*rs = append(*rs, Route{
		Pattern:     pattern,
		Description: desc,
		Handler:     hh,
	})
}

// RegisterAll registers every route on the given mux.
func (rs *Routes) RegisterAll(mux *http.ServeMux) {
	for _, route := range *rs {
		mux.Handle(route.Pattern, route.Handler)
	}
}

// Patterns returns the registered patterns, in registration order.
func (rs *Routes) Patterns() []string {
	patterns := make([]string, 0, len(*rs))
	for _, route := range *rs {
		patterns = append(patterns, route.Pattern)
	}

	return patterns
}
