/**
 * @description
 * This file sets up the HTTP router for the billing service. It defines the API
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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// BillingRoutes creates and returns the router for the billing service.
func BillingRoutes(h *BillingHandlers, webhook *WebhookHandler, jwtSecret, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/billing", func(r chi.Router) {
		// Health check endpoint
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("healthy"))
		})

		// Public plan catalog.
		r.Get("/subscription-plans", h.ListPlansHandler)

		// Gateway webhook; authenticated by signature, not by JWT.
		r.Post("/webhook", webhook.HandleWebhook)

		// Endpoints that require an authenticated user.
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(jwtSecret))

			r.Post("/subscriptions/subscribe", h.SubscribeHandler)
			r.Post("/subscriptions/verify", h.VerifyHandler)
			r.Get("/subscriptions/my-subscription", h.MySubscriptionHandler)
			r.Post("/subscriptions/cancel", h.CancelSubscriptionHandler)
			r.Post("/subscriptions/auto-renewal", h.AutoRenewalHandler)

			r.Get("/wallet/balance", h.GetWalletHandler)
			r.Post("/wallet/topup", h.TopUpHandler)
			r.Get("/wallet/transactions", h.ListTransactionsHandler)
		})

		// Service-to-service and admin endpoints guarded by the internal key.
		r.Group(func(r chi.Router) {
			r.Use(InternalKeyMiddleware(internalAPIKey))

			r.Post("/wallet/deduct", h.DeductHandler)
			r.Post("/wallet/course-purchase", h.CoursePurchaseHandler)

			r.Post("/admin/plans", h.CreatePlanHandler)
			r.Put("/admin/plans/{planID}", h.UpdatePlanHandler)
		})
	})

	return r
}
