package api

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"rentgate/internal/models"
	"rentgate/internal/ratelimit"
)

// route is a compiled RouteRule.
type route struct {
	prefix  string
	methods map[string]bool
	policy  string
}

func (rt route) matches(r *http.Request) bool {
	if len(rt.methods) > 0 && !rt.methods[r.Method] {
		return false
	}
	return pathHasPrefix(r.URL.Path, rt.prefix)
}

// pathHasPrefix matches whole path segments: /api/auth matches /api/auth and
// /api/auth/login but not /api/authors.
func pathHasPrefix(path, prefix string) bool {
	if prefix == "/" || path == prefix {
		return true
	}
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(path, prefix)
	}
	return strings.HasPrefix(path, prefix+"/")
}

// Gateway selects a rate limit policy for each request and forwards admitted
// requests to the upstream handler.
type Gateway struct {
	routes        []route
	defaultPolicy string
	limited       map[string]http.Handler
	upstream      http.Handler
}

// NewGateway compiles the routing table. Rules are matched longest prefix
// first; among equal prefixes, rules with a method filter win. A request that
// matches no rule uses defaultPolicy, and an empty defaultPolicy lets it
// through unlimited. A nil registry disables limiting entirely.
func NewGateway(rules []models.RouteRule, defaultPolicy string, registry *ratelimit.Registry, upstream http.Handler) *Gateway {
	g := &Gateway{
		defaultPolicy: defaultPolicy,
		limited:       make(map[string]http.Handler),
		upstream:      upstream,
	}

	for _, rule := range rules {
		rt := route{prefix: rule.PathPrefix, policy: rule.Policy}
		if len(rule.Methods) > 0 {
			rt.methods = make(map[string]bool, len(rule.Methods))
			for _, m := range rule.Methods {
				rt.methods[strings.ToUpper(m)] = true
			}
		}
		g.routes = append(g.routes, rt)
	}
	sort.SliceStable(g.routes, func(i, j int) bool {
		if len(g.routes[i].prefix) != len(g.routes[j].prefix) {
			return len(g.routes[i].prefix) > len(g.routes[j].prefix)
		}
		return len(g.routes[i].methods) > 0 && len(g.routes[j].methods) == 0
	})

	if registry != nil {
		names := map[string]bool{defaultPolicy: defaultPolicy != ""}
		for _, rt := range g.routes {
			names[rt.policy] = true
		}
		for name, ok := range names {
			if ok {
				g.limited[name] = registry.Middleware(name)(upstream)
			}
		}
	}

	slog.Info("Gateway routes compiled",
		"routes", len(g.routes),
		"default_policy", defaultPolicy,
		"limiting", registry != nil,
	)
	return g
}

// PolicyFor returns the policy that governs r, or "" when none applies.
func (g *Gateway) PolicyFor(r *http.Request) string {
	for _, rt := range g.routes {
		if rt.matches(r) {
			return rt.policy
		}
	}
	return g.defaultPolicy
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := g.limited[g.PolicyFor(r)]; ok {
		h.ServeHTTP(w, r)
		return
	}
	g.upstream.ServeHTTP(w, r)
}
