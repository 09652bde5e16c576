package capability

import (
	"context"
	"log/slog"
	"strings"
)

// Getter is the slice of the transport used for introspection.
type Getter interface {
	Get(ctx context.Context, path string, params map[string]string) (map[string]any, error)
}

// FromServer introspects the remote server (GET serverinfo) and builds the
// capability snapshot against the local metadata table. A failed
// introspection call yields an empty capability set rather than an error, so
// dependent tooling can still start with degraded functionality.
func FromServer(ctx context.Context, client Getter, serverName string, table Table, log *slog.Logger) *ServerCapabilities {
	serverinfo, err := client.Get(ctx, "serverinfo", nil)
	if err != nil {
		if log != nil {
			log.Warn("serverinfo introspection failed, starting with empty capabilities",
				"server", serverName, "error", err)
		}
		serverinfo = nil
	}
	return Build(serverName, serverinfo, table)
}

// Build constructs a ServerCapabilities snapshot from the server's
// self-reported call list and the local metadata table.
//
// Server-reported calls not present in the table are silently skipped:
// unknown endpoints are never exposed to callers. Build is idempotent and
// side-effect-free; repeated calls with the same inputs produce equal
// snapshots.
func Build(serverName string, serverinfo map[string]any, table Table) *ServerCapabilities {
	caps := &ServerCapabilities{
		ServerName: serverName,
		Modules:    make(map[string]*ModuleCapability),
		Endpoints:  make(map[string]*EndpointCapability),
	}

	for _, call := range serverCalls(serverinfo) {
		path := clean(stringField(call, "service"))
		if path == "" {
			continue
		}

		entry, known := table[path]
		if !known || entry.Category == "" {
			continue
		}

		ep := &EndpointCapability{
			Path:        path,
			Methods:     upperStrings(stringList(call["methods"])),
			DataTypes:   stringList(call["dataTypes"]),
			Module:      entry.Category,
			Description: entry.Description,
			Parameters:  entry.Parameters,
		}

		caps.Endpoints[path] = ep

		mod, ok := caps.Modules[ep.Module]
		if !ok {
			mod = &ModuleCapability{
				Name:      ep.Module,
				Endpoints: make(map[string]*EndpointCapability),
			}
			caps.Modules[ep.Module] = mod
		}
		mod.Endpoints[path] = ep
	}

	return caps
}

// serverCalls extracts result.calls from a serverinfo response. Any missing
// or misshapen level yields an empty slice.
func serverCalls(serverinfo map[string]any) []map[string]any {
	result, _ := serverinfo["result"].(map[string]any)
	raw, _ := result["calls"].([]any)

	calls := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if call, ok := item.(map[string]any); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func upperStrings(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}
