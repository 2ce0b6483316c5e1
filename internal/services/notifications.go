package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/storefront/apiserver/internal/mq"
	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/types"
)

// Email is an outgoing notification.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers emails.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// LogMailer writes emails to the log instead of delivering them.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, email Email) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email",
		slog.String("to", email.To),
		slog.String("subject", email.Subject),
		slog.String("body", email.Body),
	)
	return nil
}

// UserReader loads a single user.
type UserReader interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
}

// OrderNotifier turns order events into customer emails.
type OrderNotifier struct {
	users  UserReader
	mailer Mailer
	logger *slog.Logger
}

func NewOrderNotifier(users UserReader, mailer Mailer, logger *slog.Logger) *OrderNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderNotifier{users: users, mailer: mailer, logger: logger}
}

// Handle processes one order event. Malformed events and events for unknown
// users are dropped; lookup and delivery failures are returned so the broker
// redelivers the message.
func (n *OrderNotifier) Handle(ctx context.Context, msg mq.Message) error {
	var event types.OrderEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		n.logger.WarnContext(ctx, "dropping malformed order event", slog.String("message_id", msg.ID), slog.Any("error", err))
		return nil
	}

	subject, body, ok := orderEmail(event)
	if !ok {
		n.logger.DebugContext(ctx, "ignoring order event", slog.String("type", event.Type), slog.String("message_id", msg.ID))
		return nil
	}

	user, err := n.users.GetByID(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			n.logger.WarnContext(ctx, "dropping order event for unknown user", slog.Int64("user_id", event.UserID))
			return nil
		}
		return fmt.Errorf("load user %d: %w", event.UserID, err)
	}

	if err := n.mailer.Send(ctx, Email{To: user.Email, Subject: subject, Body: body}); err != nil {
		return fmt.Errorf("send order email: %w", err)
	}
	return nil
}

func orderEmail(event types.OrderEvent) (subject, body string, ok bool) {
	switch event.Type {
	case types.OrderEventCreated:
		return fmt.Sprintf("Order #%d received", event.OrderID),
			fmt.Sprintf("We received your order #%d. Total: %s.", event.OrderID, event.Total),
			true
	case types.OrderEventStatusChanged:
		return fmt.Sprintf("Order #%d is %s", event.OrderID, event.Status),
			fmt.Sprintf("Your order #%d is now %s.", event.OrderID, event.Status),
			true
	default:
		return "", "", false
	}
}
