// Package router assembles the gin engine of the relay service.
package router

import (
	"fmt"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
)

// Route is one endpoint of a Group
type Route struct {
	Name    string // key in the index listing; empty keeps the route unlisted
	Method  string
	Path    string
	Summary string

	handlers []gin.HandlerFunc
}

// Group is a path prefix under the API root with its own middleware
type Group struct {
	prefix     string
	middleware []gin.HandlerFunc
	routes     []Route
}

// NewGroup starts a group mounted at prefix
func NewGroup(prefix string, middleware ...gin.HandlerFunc) *Group {
	return &Group{prefix: prefix, middleware: middleware}
}

// GET adds a GET route
func (g *Group) GET(name, relPath, summary string, handlers ...gin.HandlerFunc) *Group {
	return g.add(name, http.MethodGet, relPath, summary, handlers)
}

// POST adds a POST route
func (g *Group) POST(name, relPath, summary string, handlers ...gin.HandlerFunc) *Group {
	return g.add(name, http.MethodPost, relPath, summary, handlers)
}

func (g *Group) add(name, method, relPath, summary string, handlers []gin.HandlerFunc) *Group {
	g.routes = append(g.routes, Route{Name: name, Method: method, Path: relPath, Summary: summary, handlers: handlers})
	return g
}

// API mounts groups under /api/<version>
type API struct {
	engine  *gin.Engine
	version string
	groups  []*Group
}

// APIOption configures an API
type APIOption func(*API)

// WithVersion changes the version segment of the API root
func WithVersion(version string) APIOption {
	return func(a *API) {
		a.version = version
	}
}

// NewAPI creates an API rooted at /api/v1 unless WithVersion says otherwise
func NewAPI(engine *gin.Engine, opts ...APIOption) *API {
	a := &API{engine: engine, version: "v1"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Root is the path every group is mounted under
func (a *API) Root() string {
	return "/api/" + a.version
}

// Add appends groups; they are mounted by Mount
func (a *API) Add(groups ...*Group) *API {
	a.groups = append(a.groups, groups...)
	return a
}

// Mount registers every route on the engine
func (a *API) Mount() {
	root := a.engine.Group(a.Root())
	for _, g := range a.groups {
		rg := root.Group(g.prefix, g.middleware...)
		for _, r := range g.routes {
			rg.Handle(r.Method, r.Path, r.handlers...)
		}
	}
}

// Endpoints lists the named routes as "<path> (<method> - <summary>)"
func (a *API) Endpoints() map[string]string {
	out := make(map[string]string)
	for _, g := range a.groups {
		for _, r := range g.routes {
			if r.Name == "" {
				continue
			}
			full := path.Join(a.Root(), g.prefix, r.Path)
			out[r.Name] = fmt.Sprintf("%s (%s - %s)", full, r.Method, r.Summary)
		}
	}
	return out
}
