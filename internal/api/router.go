/**
 * @description
 * This file sets up the HTTP router for the automation-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// AutomationRoutes creates and returns a new router for the automation service.
func AutomationRoutes(h *AutomationHandlers, jwtSecret string, allowedOrigins string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(allowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Vault catalog is public read-only data.
	r.Get("/vaults", h.ListVaultsHandler)
	r.Get("/vaults/{vaultID}", h.GetVaultHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(WalletAuthMiddleware(jwtSecret))

		r.Post("/rules", h.CreateRuleHandler)
		r.Get("/rules", h.ListRulesHandler)
		r.Get("/rules/{ruleID}", h.GetRuleHandler)
		r.Put("/rules/{ruleID}", h.UpdateRuleHandler)
		r.Post("/rules/{ruleID}/toggle", h.ToggleRuleHandler)
		r.Delete("/rules/{ruleID}", h.DeleteRuleHandler)

		r.Post("/rules/{ruleID}/execute", h.ExecuteRuleHandler)
		r.Get("/rules/{ruleID}/executions", h.ListExecutionsHandler)
	})

	return r
}

func splitOrigins(allowedOrigins string) []string {
	if strings.TrimSpace(allowedOrigins) == "" || allowedOrigins == "*" {
		return []string{"https://*", "http://*"}
	}
	parts := strings.Split(allowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
