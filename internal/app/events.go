/**
 * @description
 * Shared collaborator interfaces for the application services and the
 * best-effort event publishing helpers. Business logic publishes domain events
 * to the outbound sink and never blocks or rolls back on delivery failure.
 */
package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/creative-sparx/skillswap-backend/internal/domain"
	"github.com/creative-sparx/skillswap-backend/pkg/gatewayclient"
	"github.com/creative-sparx/skillswap-backend/pkg/rabbitmq"
)

// EventPublisher is the outbound sink for domain events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// PaymentGateway is the payment provider contract the billing core consumes.
type PaymentGateway interface {
	CreatePaymentLink(ctx context.Context, req gatewayclient.PaymentLinkRequest) (*gatewayclient.PaymentLinkResponse, error)
	ChargeToken(ctx context.Context, req gatewayclient.TokenChargeRequest) (*gatewayclient.ChargeResult, error)
	VerifyByTxRef(ctx context.Context, txRef string) (*gatewayclient.VerifyResult, error)
}

// PlanCatalog is the read path for subscription plans (cached in front of the
// repository).
type PlanCatalog interface {
	GetPlanByID(ctx context.Context, planID uuid.UUID) (*domain.SubscriptionPlan, error)
	ListActivePlans(ctx context.Context) ([]domain.SubscriptionPlan, error)
	Invalidate(ctx context.Context, planID uuid.UUID)
}

// publishEvent fires a domain event at the events exchange. Failures are
// logged and swallowed: event delivery never gates a financial state change.
func publishEvent(ctx context.Context, pub EventPublisher, routingKey string, body interface{}) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, rabbitmq.EventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=events msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// notifyUser asks the notification dispatcher to fan a message out to the
// user's channels. Fire-and-forget.
func notifyUser(ctx context.Context, pub EventPublisher, userID uuid.UUID, eventType string, payload map[string]any) {
	publishEvent(ctx, pub, domain.EventNotificationRequested, domain.NotificationRequest{
		UserID:    userID,
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}
