package providers

import (
	"consentsync/internal/structures"
	"net/http"
)

type RouterProviderInterface interface {
	Get(url string, handler http.Handler)
	Post(url string, handler http.Handler)
	Put(url string, handler http.Handler)
	Delete(url string, handler http.Handler)
	GetRoutes() []structures.Route
}

// RouterProvider collects handlers per URL and method. Each URL is exposed
// as a single route because http.ServeMux refuses duplicate patterns.
type RouterProvider struct {
	order    []string
	handlers map[string]map[string]http.Handler
}

func (rp *RouterProvider) add(method, url string, handler http.Handler) {
	byMethod, ok := rp.handlers[url]
	if !ok {
		byMethod = make(map[string]http.Handler)
		rp.handlers[url] = byMethod
		rp.order = append(rp.order, url)
	}
	byMethod[method] = handler
}

func (rp *RouterProvider) Get(url string, handler http.Handler) {
	rp.add(http.MethodGet, url, handler)
}

func (rp *RouterProvider) Post(url string, handler http.Handler) {
	rp.add(http.MethodPost, url, handler)
}

func (rp *RouterProvider) Put(url string, handler http.Handler) {
	rp.add(http.MethodPut, url, handler)
}

func (rp *RouterProvider) Delete(url string, handler http.Handler) {
	rp.add(http.MethodDelete, url, handler)
}

func (rp *RouterProvider) GetRoutes() []structures.Route {
	routes := make([]structures.Route, 0, len(rp.order))
	for _, url := range rp.order {
		routes = append(routes, structures.Route{
			Url:     url,
			Handler: methodHandler(rp.handlers[url]),
		})
	}
	return routes
}

func NewRouterProvider() RouterProviderInterface {
	return &RouterProvider{handlers: make(map[string]map[string]http.Handler)}
}

func methodHandler(byMethod map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler, ok := byMethod[r.Method]
		if !ok {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
