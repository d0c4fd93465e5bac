/**
 * @description
 * This file contains the payment gateway webhook endpoint. The gateway posts
 * charge outcomes here; the handler verifies the signature on the raw bytes,
 * decodes the payload and hands it to the reconciler.
 *
 * Response codes are part of the contract with the gateway's retry machinery:
 * - 200 acknowledges the delivery, including duplicates, ignored event types
 *   and deliveries the reconciler exhausted its retries on (those are already
 *   flagged for manual reconciliation, so a gateway redelivery buys nothing).
 * - 401 rejects a missing or invalid signature.
 * - 400 rejects a payload that contradicts our records.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/base64, encoding/hex: Signature validation.
 * - internal/app, internal/domain: Reconciliation logic and wire types.
 */
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/creative-sparx/skillswap-backend/internal/app"
	"github.com/creative-sparx/skillswap-backend/internal/domain"
)

// ChargeProcessor settles verified charge notifications.
type ChargeProcessor interface {
	Process(ctx context.Context, event domain.GatewayWebhookEvent) error
}

// WebhookHandler processes incoming webhooks from the payment gateway.
type WebhookHandler struct {
	reconciler ChargeProcessor
	secret     string
}

// NewWebhookHandler creates a webhook handler bound to the shared secret the
// gateway signs deliveries with.
func NewWebhookHandler(reconciler ChargeProcessor, secret string) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, secret: secret}
}

// HandleWebhook is the HTTP entrypoint for gateway notifications.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("level=warn component=webhook msg=\"failed to read body\" err=%v", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !h.verifySignature(r, body) {
		log.Printf("level=warn component=webhook outcome=reject reason=invalid_signature remote=%s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event domain.GatewayWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=webhook outcome=reject reason=malformed_payload err=%v", err)
		http.Error(w, "Malformed payload", http.StatusBadRequest)
		return
	}

	err = h.reconciler.Process(r.Context(), event)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	case errors.Is(err, app.ErrRetriesExhausted):
		// Already flagged for manual reconciliation; acknowledge so the
		// gateway stops redelivering.
		log.Printf("level=error component=webhook outcome=ack_after_exhaustion tx_ref=%s err=%v", event.Data.TxRef, err)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	default:
		var integrity *app.IntegrityError
		if errors.As(err, &integrity) {
			log.Printf("level=warn component=webhook outcome=reject reason=integrity tx_ref=%s detail=%q", event.Data.TxRef, integrity.Reason)
			http.Error(w, integrity.Reason, http.StatusBadRequest)
			return
		}
		log.Printf("level=error component=webhook outcome=error tx_ref=%s err=%v", event.Data.TxRef, err)
		http.Error(w, "Failed to process webhook", http.StatusInternalServerError)
	}
}

// verifySignature checks the verif-hash header against the shared secret. The
// gateway either sends the secret verbatim or an HMAC-SHA256 of the raw body
// keyed with it, hex or base64 encoded; all comparisons are constant-time.
func (h *WebhookHandler) verifySignature(r *http.Request, body []byte) bool {
	if h.secret == "" {
		log.Printf("level=warn component=webhook msg=\"webhook secret not configured; rejecting\"")
		return false
	}

	signature := r.Header.Get("verif-hash")
	if signature == "" {
		return false
	}

	if subtle.ConstantTimeCompare([]byte(signature), []byte(h.secret)) == 1 {
		return true
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(signature); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	return false
}
