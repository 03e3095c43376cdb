package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler is a set of endpoints mounted on the server at startup.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// Route is one entry of a handler's route table.
type Route struct {
	Method     string
	Path       string
	Handle     echo.HandlerFunc
	Middleware []echo.MiddlewareFunc
}

func GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) Route {
	return Route{Method: http.MethodGet, Path: path, Handle: h, Middleware: m}
}

func POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) Route {
	return Route{Method: http.MethodPost, Path: path, Handle: h, Middleware: m}
}

// Mount adds routes under prefix; an empty prefix mounts at the root.
func Mount(e *echo.Echo, prefix string, routes ...Route) {
	if prefix == "" {
		for _, r := range routes {
			e.Add(r.Method, r.Path, r.Handle, r.Middleware...)
		}
		return
	}
	g := e.Group(prefix)
	for _, r := range routes {
		g.Add(r.Method, r.Path, r.Handle, r.Middleware...)
	}
}
