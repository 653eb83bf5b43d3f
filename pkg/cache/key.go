package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a logical API request. Two requests with equal keys are
// cache-equivalent.
type Key struct {
	// Method is the HTTP method ("GET" when empty).
	Method string

	// Route is the endpoint route template (e.g. "/v4/markets/{region_id}/orders/").
	// It doubles as the rate-limit route class.
	Route string

	// PathParams are the resolved path parameters (e.g. {"region_id": "10000002"}).
	PathParams map[string]string

	// QueryParams are the query parameters that affect the response.
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: esi:METHOD:route:param1=val1:param2=val2:query1=val1
//
// Example:
//
//	esi:GET:v4/markets/{region_id}/orders/:region_id=10000002:order_type=all
func (k Key) String() string {
	parts := []string{"esi", k.method()}

	route := strings.Trim(k.Route, "/")
	if route != "" {
		parts = append(parts, route)
	}

	// Path params (sorted for determinism)
	if len(k.PathParams) > 0 {
		pathKeys := make([]string, 0, len(k.PathParams))
		for key := range k.PathParams {
			pathKeys = append(pathKeys, key)
		}
		sort.Strings(pathKeys)

		for _, key := range pathKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.PathParams[key]))
		}
	}

	// Query params (sorted for determinism)
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			// All values participate: ?a=1&a=2 is not cache-equivalent
			// to ?a=1.
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.QueryParams[key], ",")))
		}
	}

	return strings.Join(parts, ":")
}

// Path resolves the route template against the path parameters.
func (k Key) Path() string {
	path := k.Route
	for name, value := range k.PathParams {
		path = strings.ReplaceAll(path, "{"+name+"}", value)
	}
	return path
}

// Class returns the rate-limit route class of the key. Requests on the
// same route template share a budget regardless of resolved parameters.
func (k Key) Class() string {
	return k.method() + " " + k.Route
}

func (k Key) method() string {
	if k.Method == "" {
		return "GET"
	}
	return strings.ToUpper(k.Method)
}
