/**
 * @description
 * This file contains the HTTP handlers for the billing API endpoints. Handlers
 * are responsible for parsing incoming requests, calling the appropriate
 * methods on the application services, and writing the HTTP response. They act
 * as the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creative-sparx/skillswap-backend/internal/app"
	"github.com/creative-sparx/skillswap-backend/internal/domain"
	"github.com/creative-sparx/skillswap-backend/internal/store"
)

// BillingHandlers holds the application services that handlers will use.
type BillingHandlers struct {
	wallet        *app.WalletService
	subscriptions *app.SubscriptionService
}

// NewBillingHandlers creates a new instance of BillingHandlers.
func NewBillingHandlers(wallet *app.WalletService, subscriptions *app.SubscriptionService) *BillingHandlers {
	return &BillingHandlers{wallet: wallet, subscriptions: subscriptions}
}

// GetWalletHandler returns the authenticated user's wallet.
func (h *BillingHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	wallet, err := h.wallet.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, "get_wallet", err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// TopUpHandler initiates a wallet top-up and returns a hosted payment link.
func (h *BillingHandlers) TopUpHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req domain.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	initiation, err := h.wallet.InitiateTopUp(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, r, "topup", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, initiation)
}

// DeductHandler performs a service-triggered wallet deduction. Internal only.
func (h *BillingHandlers) DeductHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.DeductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	wallet, err := h.wallet.Deduct(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "deduct", err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// CoursePurchaseHandler moves funds from a buyer to an instructor for a course
// enrollment. Internal only; the course service calls this after its own
// checks.
func (h *BillingHandlers) CoursePurchaseHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CoursePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.BuyerID == uuid.Nil || req.InstructorID == uuid.Nil || req.CourseID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "buyer_id, instructor_id and course_id are required")
		return
	}

	wallet, err := h.wallet.CoursePurchase(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "course_purchase", err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// ListTransactionsHandler returns the authenticated user's transaction history.
func (h *BillingHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	filter := domain.TransactionFilter{Limit: 50}
	q := r.URL.Query()
	if t := q.Get("type"); t != "" {
		filter.Type = domain.TransactionType(t)
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		filter.Offset = offset
	}
	if from, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		filter.From = &from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		filter.To = &to
	}

	txs, err := h.wallet.TransactionHistory(r.Context(), userID, filter)
	if err != nil {
		h.writeServiceError(w, r, "list_transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

// ListPlansHandler returns the purchasable plan catalog. Public.
func (h *BillingHandlers) ListPlansHandler(w http.ResponseWriter, r *http.Request) {
	plans, err := h.subscriptions.ListPlans(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "list_plans", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"plans": plans})
}

// SubscribeHandler initiates a subscription purchase.
func (h *BillingHandlers) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req domain.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PlanID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "plan_id is required")
		return
	}

	initiation, err := h.subscriptions.Subscribe(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, r, "subscribe", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, initiation)
}

// VerifyHandler is the client-driven fallback for a webhook that never arrived.
func (h *BillingHandlers) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req domain.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.subscriptions.Verify(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, r, "verify", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// MySubscriptionHandler returns the caller's subscription details.
func (h *BillingHandlers) MySubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	details, err := h.subscriptions.MySubscription(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, "my_subscription", err)
		return
	}
	h.writeJSON(w, http.StatusOK, details)
}

// CancelSubscriptionHandler cancels auto-renewal while keeping paid access.
func (h *BillingHandlers) CancelSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	details, err := h.subscriptions.Cancel(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, "cancel_subscription", err)
		return
	}
	h.writeJSON(w, http.StatusOK, details)
}

// AutoRenewalHandler toggles the auto-renewal preference.
func (h *BillingHandlers) AutoRenewalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.subscriptions.SetAutoRenewal(r.Context(), userID, req.Enabled); err != nil {
		h.writeServiceError(w, r, "auto_renewal", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"auto_renewal": req.Enabled})
}

// CreatePlanHandler adds a plan to the catalog. Internal only.
func (h *BillingHandlers) CreatePlanHandler(w http.ResponseWriter, r *http.Request) {
	var plan domain.SubscriptionPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := h.subscriptions.CreatePlan(r.Context(), &plan)
	if err != nil {
		h.writeServiceError(w, r, "create_plan", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// UpdatePlanHandler edits a catalog plan. Internal only.
func (h *BillingHandlers) UpdatePlanHandler(w http.ResponseWriter, r *http.Request) {
	planID, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid plan ID")
		return
	}

	var plan domain.SubscriptionPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	plan.ID = planID

	updated, err := h.subscriptions.UpdatePlan(r.Context(), &plan)
	if err != nil {
		h.writeServiceError(w, r, "update_plan", err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// writeServiceError maps service-layer errors onto HTTP responses.
func (h *BillingHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	var insufficient *store.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		h.writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error":     "Insufficient funds",
			"required":  insufficient.Required,
			"available": insufficient.Available,
		})
	case errors.Is(err, store.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, store.ErrPlanNotFound):
		h.writeError(w, http.StatusNotFound, "Subscription plan not found")
	case errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "Transaction not found")
	case errors.Is(err, store.ErrPlanNameTaken):
		h.writeError(w, http.StatusConflict, "A plan with this name already exists")
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidDescription),
		errors.Is(err, app.ErrInvalidPlan):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrPlanNotPurchasable):
		h.writeError(w, http.StatusConflict, "This plan is not available for purchase")
	case errors.Is(err, app.ErrNoActiveSubscription):
		h.writeError(w, http.StatusConflict, "No active subscription")
	default:
		log.Printf("level=error component=api endpoint=%s err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *BillingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *BillingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
