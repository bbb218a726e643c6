package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/rafidhiya/baby-spa-backend/internal/model"
	"github.com/rafidhiya/baby-spa-backend/internal/repository"
)

// Consumer listens on the reservation events queue and maps each event
// to in-app notifications for the customer and the spa owners. It runs
// a reconnect loop with exponential backoff and never stops on
// per-message errors; a poisoned message is rejected without requeue so
// the queue keeps draining.
type Consumer struct {
	url           string
	notifications *repository.NotificationRepo
	users         *repository.UserRepo
	log           zerolog.Logger

	mu   sync.Mutex
	seen map[string]struct{} // recently processed event IDs
}

// NewConsumer returns a Consumer wired to the given repositories.
func NewConsumer(url string, n *repository.NotificationRepo, u *repository.UserRepo, log zerolog.Logger) *Consumer {
	return &Consumer{
		url:           url,
		notifications: n,
		users:         u,
		log:           log.With().Str("component", "notification-consumer").Logger(),
		seen:          make(map[string]struct{}),
	}
}

// Start connects to the broker, declares the durable events queue and
// consumes until the context is cancelled. Connection failures trigger
// a capped exponential backoff and reconnect.
func (c *Consumer) Start(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("broker dial failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := c.consumeLoop(ctx, conn); err != nil {
			c.log.Warn().Err(err).Msg("consume loop ended, reconnecting")
			_ = conn.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn().Err(err).Msg("set QoS failed")
	}
	if _, err := ch.QueueDeclare(EventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(EventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				c.log.Error().Err(err).Msg("handle event failed")
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// markSeen records an event ID and reports whether it was already
// processed. The set is capped so a long-running consumer does not
// grow without bound.
func (c *Consumer) markSeen(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[eventID]; dup {
		return true
	}
	if len(c.seen) > 4096 {
		c.seen = make(map[string]struct{})
	}
	c.seen[eventID] = struct{}{}
	return false
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var ev ReservationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.EventID != "" && c.markSeen(ev.EventID) {
		c.log.Debug().Str("event_id", ev.EventID).Msg("duplicate event skipped")
		return nil
	}

	amount := fmt.Sprintf("%.2f", float64(ev.AmountCents)/100)

	switch ev.Kind {
	case KindReservationCreated:
		if err := c.notifyOwners(ctx, ev,
			"New reservation",
			fmt.Sprintf("%s booked %s (reservation #%d, %s)", ev.CustomerName, ev.ServiceName, ev.ReservationID, amount),
			model.NotificationReservation,
		); err != nil {
			return err
		}
		msg := fmt.Sprintf("Your reservation for %s is waiting for payment (%s).", ev.ServiceName, amount)
		if ev.CheckoutURL != "" {
			msg += " Pay at: " + ev.CheckoutURL
		}
		return c.notifyCustomer(ctx, ev, "Complete your payment", msg, model.NotificationPayment)

	case KindPaymentConfirmed:
		if err := c.notifyOwners(ctx, ev,
			"Payment received",
			fmt.Sprintf("Reservation #%d (%s) is confirmed, %s paid.", ev.ReservationID, ev.ServiceName, amount),
			model.NotificationPayment,
		); err != nil {
			return err
		}
		return c.notifyCustomer(ctx, ev,
			"Reservation confirmed",
			fmt.Sprintf("Payment received. Your %s session is confirmed, see you soon!", ev.ServiceName),
			model.NotificationPayment)

	case KindPaymentExpired:
		return c.notifyCustomer(ctx, ev,
			"Payment expired",
			fmt.Sprintf("The payment window for your %s reservation has closed and the slot was released.", ev.ServiceName),
			model.NotificationPayment)

	case KindPaymentCancelled:
		return c.notifyCustomer(ctx, ev,
			"Reservation cancelled",
			fmt.Sprintf("Your reservation for %s was cancelled.", ev.ServiceName),
			model.NotificationReservation)

	default:
		c.log.Warn().Str("kind", ev.Kind).Str("event_id", ev.EventID).Msg("unknown event kind")
		return nil
	}
}

func (c *Consumer) notifyCustomer(ctx context.Context, ev ReservationEvent, title, message, kind string) error {
	return c.notifications.Create(ctx, model.Notification{
		UserID:      ev.CustomerID,
		Title:       title,
		Message:     message,
		Kind:        kind,
		ReferenceID: ev.ReservationID,
	})
}

func (c *Consumer) notifyOwners(ctx context.Context, ev ReservationEvent, title, message, kind string) error {
	owners, err := c.users.ListOwnerIDs(ctx)
	if err != nil {
		return fmt.Errorf("list owners: %w", err)
	}
	return c.notifications.CreateForUsers(ctx, owners, model.Notification{
		Title:       title,
		Message:     message,
		Kind:        kind,
		ReferenceID: ev.ReservationID,
	})
}
