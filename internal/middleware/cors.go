// Package middleware provides HTTP middleware for the Connect API.
package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/cors"
)

// CORS returns middleware that handles CORS headers and preflight requests.
// Credentials (the identity cookie) are only allowed for explicit origins;
// echoing an arbitrary origin with credentials enables CSRF.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
	})
	return c.Handler
}
