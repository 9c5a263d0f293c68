// Package backend is the MCP Backend Bridge (spec component K): the
// seam between the Model Context Protocol surface and the gateway's
// internal services (resolver, state manager, subscription
// coordinator, consent, rate limiting).
//
// Grounded on null-runner-mcp-gateway's pkg/gateway package, which
// wires github.com/modelcontextprotocol/go-sdk's mcp.Server the same
// way: a Go struct owning the dependencies, registering tools/
// resources/resource templates/prompts as closures over those
// dependencies (see capabilitites.go, dynamic_mcps.go, reload.go in
// that repo).
package backend

import "strings"

// MatchTemplate matches uri against a loxone:// URI template such as
// "loxone://rooms/{room_name}/devices", extracting the named capture
// segments. Both template and uri are split on '/'; they must have
// equal segment count; every non-placeholder segment must match
// literally. Returns (nil, false) on any mismatch.
//
// This matches segment-literal capture semantics, not the RFC 6570
// semantics the transitive github.com/yosida95/uritemplate/v3
// dependency (pulled in by the MCP SDK) implements — that library
// expands templates into URIs, it does not extract captures from a
// concrete URI back into a parameter map, so it has no home here.
func MatchTemplate(template, uri string) (map[string]string, bool) {
	tParts := strings.Split(template, "/")
	uParts := strings.Split(uri, "/")
	if len(tParts) != len(uParts) {
		return nil, false
	}

	captures := make(map[string]string)
	for i, t := range tParts {
		u := uParts[i]
		if strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}") {
			name := strings.TrimSuffix(strings.TrimPrefix(t, "{"), "}")
			captures[name] = u
			continue
		}
		if t != u {
			return nil, false
		}
	}
	return captures, true
}
