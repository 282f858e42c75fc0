package router

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
)

// RouteRegistrar is implemented by anything that mounts routes on the
// versioned API group
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
	Routes() []Route
}

// Route describes one endpoint for the startup route table
type Route struct {
	Group       string
	Method      string
	Path        string
	Description string
}

// Router mounts registrars under /api/<version>
type Router struct {
	engine     *gin.Engine
	apiVersion string
	middleware []gin.HandlerFunc
	registrars []RouteRegistrar
}

type RouterOption func(*Router)

func WithAPIVersion(version string) RouterOption {
	return func(r *Router) { r.apiVersion = version }
}

// WithMiddleware applies middleware to the versioned API only. Health checks and
// /metrics mounted directly on the engine are not affected.
func WithMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(r *Router) { r.middleware = append(r.middleware, mw...) }
}

func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{engine: engine, apiVersion: "v1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Register(registrars ...RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrars...)
	return r
}

// Setup mounts every registrar and returns the resulting route table
func (r *Router) Setup() []Route {
	base := r.BasePath()
	api := r.engine.Group(base, r.middleware...)

	var table []Route
	for _, reg := range r.registrars {
		reg.RegisterRoutes(api)
		for _, route := range reg.Routes() {
			route.Path = path.Join(base, route.Path)
			table = append(table, route)
		}
	}
	return table
}

func (r *Router) BasePath() string {
	return "/api/" + r.apiVersion
}

// DomainGroup gathers the endpoints of one area of the API together with the
// middleware that guards them
type DomainGroup struct {
	name       string
	prefix     string
	middleware []gin.HandlerFunc
	routes     []groupRoute
	children   []*DomainGroup
}

type groupRoute struct {
	Route
	handlers []gin.HandlerFunc
}

func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use appends middleware. It applies to routes registered before or after
// the call, since nothing is mounted until RegisterRoutes.
func (dg *DomainGroup) Use(mw ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, mw...)
	return dg
}

// Handle adds a route. description only feeds the route table.
func (dg *DomainGroup) Handle(method, relPath, description string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, groupRoute{
		Route:    Route{Group: dg.name, Method: method, Path: relPath, Description: description},
		handlers: handlers,
	})
	return dg
}

func (dg *DomainGroup) GET(relPath string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodGet, relPath, "", handlers...)
}

func (dg *DomainGroup) POST(relPath string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodPost, relPath, "", handlers...)
}

func (dg *DomainGroup) PATCH(relPath string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodPatch, relPath, "", handlers...)
}

func (dg *DomainGroup) DELETE(relPath string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodDelete, relPath, "", handlers...)
}

// Group nests a group that inherits this group's prefix and middleware
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	child := NewDomainGroup(name, prefix)
	dg.children = append(dg.children, child)
	return child
}

func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group(dg.prefix, dg.middleware...)
	for _, r := range dg.routes {
		g.Handle(r.Method, r.Path, r.handlers...)
	}
	for _, child := range dg.children {
		child.RegisterRoutes(g)
	}
}

// Routes lists this group's routes and its children's, with paths relative
// to the group's parent
func (dg *DomainGroup) Routes() []Route {
	out := make([]Route, 0, len(dg.routes))
	for _, r := range dg.routes {
		route := r.Route
		route.Path = path.Join(dg.prefix, r.Path)
		out = append(out, route)
	}
	for _, child := range dg.children {
		for _, route := range child.Routes() {
			route.Path = path.Join(dg.prefix, route.Path)
			out = append(out, route)
		}
	}
	return out
}
