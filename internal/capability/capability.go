// Package capability models what a remote BrAPI server supports.
//
// A ServerCapabilities value is an immutable snapshot built once per server
// connection and threaded explicitly through every component that needs it.
// Rebuilding requires a fresh introspection round trip.
package capability

import (
	"sort"
	"strings"
)

// ParamSpec describes one input parameter of an endpoint.
type ParamSpec struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// EndpointCapability describes one remote collection endpoint.
// Immutable once built for a given server snapshot.
type EndpointCapability struct {
	Path        string               `json:"path"`
	Methods     []string             `json:"methods"`
	DataTypes   []string             `json:"data_types,omitempty"`
	Module      string               `json:"module"`
	Description string               `json:"description,omitempty"`
	Parameters  map[string]ParamSpec `json:"parameters,omitempty"`
}

// SupportsMethod reports whether the endpoint declares the given HTTP method.
func (e *EndpointCapability) SupportsMethod(method string) bool {
	for _, m := range e.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// ModuleCapability is a named grouping of endpoints (a functional category).
type ModuleCapability struct {
	Name      string                         `json:"name"`
	Endpoints map[string]*EndpointCapability `json:"endpoints"`
}

// ServerCapabilities is the root aggregate: read-only after construction.
type ServerCapabilities struct {
	ServerName string                         `json:"server_name"`
	Modules    map[string]*ModuleCapability   `json:"modules"`
	Endpoints  map[string]*EndpointCapability `json:"endpoints"`
}

// HasEndpoint reports whether the exact endpoint path is supported.
func (c *ServerCapabilities) HasEndpoint(path string) bool {
	_, ok := c.Endpoints[clean(path)]
	return ok
}

// HasService reports whether a service is supported, either as an exact
// endpoint path or as the base of a path-variant family (e.g. "studies"
// matches "studies/{studyDbId}").
func (c *ServerCapabilities) HasService(service string) bool {
	service = clean(service)
	if service == "" {
		return false
	}
	for path := range c.Endpoints {
		if path == service || strings.HasPrefix(path, service+"/") {
			return true
		}
	}
	return false
}

// Services returns all supported endpoint paths, sorted.
func (c *ServerCapabilities) Services() []string {
	services := make([]string, 0, len(c.Endpoints))
	for path := range c.Endpoints {
		services = append(services, path)
	}
	sort.Strings(services)
	return services
}

// SearchServices returns the base names of all supported two-phase search
// endpoints ("search/studies" → "studies"), sorted and deduplicated.
func (c *ServerCapabilities) SearchServices() []string {
	seen := make(map[string]bool)
	for path := range c.Endpoints {
		rest, ok := strings.CutPrefix(path, "search/")
		if !ok {
			continue
		}
		base, _, _ := strings.Cut(rest, "/")
		if base != "" && !seen[base] {
			seen[base] = true
		}
	}
	services := make([]string, 0, len(seen))
	for s := range seen {
		services = append(services, s)
	}
	sort.Strings(services)
	return services
}

// ServiceSummary is a consolidated per-service view, grouping an endpoint
// family ("studies", "studies/{studyDbId}", "search/studies", ...) under its
// base name. Computed on demand, never stored.
type ServiceSummary struct {
	Name        string   `json:"name"`
	Module      string   `json:"module"`
	Description string   `json:"description,omitempty"`
	Methods     []string `json:"methods"`
	HasDetail   bool     `json:"has_detail"` // a "/{id}" variant exists
	HasSearch   bool     `json:"has_search"` // a "search/{name}" variant exists
}

// Consolidated groups endpoints by base service name, ignoring "/{id}" and
// "search/.../{searchResultsId}" path variants.
func (c *ServerCapabilities) Consolidated() []ServiceSummary {
	byName := make(map[string]*ServiceSummary)

	for path, ep := range c.Endpoints {
		name := baseName(path)
		if name == "" {
			continue
		}

		s, ok := byName[name]
		if !ok {
			s = &ServiceSummary{Name: name}
			byName[name] = s
		}

		if strings.HasPrefix(path, "search/") {
			s.HasSearch = true
		} else if strings.Contains(path, "/") {
			s.HasDetail = true
		} else {
			// The bare collection endpoint carries the canonical
			// module and description for the family.
			s.Module = ep.Module
			s.Description = ep.Description
		}
		s.Methods = mergeMethods(s.Methods, ep.Methods)
	}

	summaries := make([]ServiceSummary, 0, len(byName))
	for _, s := range byName {
		sort.Strings(s.Methods)
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// baseName reduces an endpoint path to its owning service name:
// "studies/{studyDbId}" → "studies", "search/studies/{id}" → "studies".
func baseName(path string) string {
	path = strings.TrimPrefix(clean(path), "search/")
	base, _, _ := strings.Cut(path, "/")
	return base
}

func mergeMethods(existing, more []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, m := range existing {
		seen[m] = true
	}
	for _, m := range more {
		m = strings.ToUpper(m)
		if !seen[m] {
			seen[m] = true
			existing = append(existing, m)
		}
	}
	return existing
}

func clean(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}
