package rest

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// pattern is a route path split into segments. A segment written as
// {name} captures one escaped path segment.
type pattern []segment

type segment struct {
	literal string
	param   string
}

func compilePattern(p string) pattern {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	segs := make(pattern, len(parts))
	for i, part := range parts {
		if len(part) > 2 && part[0] == '{' && part[len(part)-1] == '}' {
			segs[i].param = part[1 : len(part)-1]
		} else {
			segs[i].literal = part
		}
	}
	return segs
}

// match matches an escaped URL path. Parameters are returned unescaped, so
// a key may contain an encoded slash.
func (p pattern) match(path string) (map[string]string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != len(p) {
		return nil, false
	}

	params := make(map[string]string)
	for i, seg := range p {
		if seg.param == "" {
			if seg.literal != parts[i] {
				return nil, false
			}
			continue
		}
		value, err := url.PathUnescape(parts[i])
		if err != nil || value == "" {
			return nil, false
		}
		params[seg.param] = value
	}
	return params, true
}

type route struct {
	method  string
	pattern pattern
	handler http.HandlerFunc
}

// Router dispatches on method and path pattern and runs every request,
// matched or not, through its middleware.
type Router struct {
	routes     []route
	middleware []Middleware
	notFound   http.HandlerFunc
}

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// NewRouter creates a new router.
func NewRouter() *Router {
	return &Router{notFound: defaultNotFound}
}

// Use appends mw; the first added is outermost.
func (r *Router) Use(mw Middleware) {
	r.middleware = append(r.middleware, mw)
}

// Handle registers a route.
func (r *Router) Handle(method, pattern string, handler http.HandlerFunc) {
	r.routes = append(r.routes, route{
		method:  method,
		pattern: compilePattern(pattern),
		handler: handler,
	})
}

// GET registers a GET route.
func (r *Router) GET(pattern string, handler http.HandlerFunc) {
	r.Handle(http.MethodGet, pattern, handler)
}

// PUT registers a PUT route.
func (r *Router) PUT(pattern string, handler http.HandlerFunc) {
	r.Handle(http.MethodPut, pattern, handler)
}

// DELETE registers a DELETE route.
func (r *Router) DELETE(pattern string, handler http.HandlerFunc) {
	r.Handle(http.MethodDelete, pattern, handler)
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var handler http.Handler = http.HandlerFunc(r.route)
	for i := len(r.middleware) - 1; i >= 0; i-- {
		handler = r.middleware[i](handler)
	}
	handler.ServeHTTP(w, req)
}

func (r *Router) route(w http.ResponseWriter, req *http.Request) {
	path := req.URL.EscapedPath()

	var allowed []string
	for _, rt := range r.routes {
		params, ok := rt.pattern.match(path)
		switch {
		case !ok:
		case rt.method != req.Method:
			allowed = append(allowed, rt.method)
		default:
			rt.handler(w, req.WithContext(withParams(req.Context(), params)))
			return
		}
	}

	if len(allowed) > 0 {
		sort.Strings(allowed)
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	r.notFound(w, req)
}

type paramsKey struct{}

func withParams(ctx context.Context, params map[string]string) context.Context {
	return context.WithValue(ctx, paramsKey{}, params)
}

// Param returns the named path parameter, or "" when the route has none.
func Param(r *http.Request, name string) string {
	params, ok := r.Context().Value(paramsKey{}).(map[string]string)
	if !ok {
		return ""
	}
	return params[name]
}

func defaultNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found", "endpoint not found")
}
