package testutil

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SetupRouter creates a chi router with a route registration function.
// Used in handler tests to mount specific handler methods.
func SetupRouter(register func(r chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	register(r)
	return r
}

// AdminRequest sets the bearer token middleware.AdminAuth checks for.
func AdminRequest(r *http.Request, token string) *http.Request {
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

// WithURLParam adds a chi URL parameter to the request context.
func WithURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// WithURLParams adds multiple chi URL parameters to the request context.
func WithURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
