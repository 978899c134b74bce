package workers

import (
	"context"
	"fmt"
	"html"
	"strconv"

	"github.com/rs/zerolog"

	"raffle-ledger-backend/internal/common/cache"
	"raffle-ledger-backend/internal/common/logger"
	"raffle-ledger-backend/internal/platform/events"
)

// MessageSender delivers a text message to a Telegram user.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// LogSender writes messages to the log. Used when no bot token is set.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender() *LogSender {
	return &LogSender{logger: logger.Component("notifications")}
}

func (s *LogSender) SendMessage(_ context.Context, chatID int64, text string) error {
	s.logger.Info().Int64("chat_id", chatID).Str("text", text).Msg("Notification")
	return nil
}

// Notifier turns domain events into user-facing messages.
type Notifier struct {
	sender MessageSender
}

func NewNotifier(sender MessageSender) *Notifier {
	return &Notifier{sender: sender}
}

// Register wires the notifier into a stream worker.
func (n *Notifier) Register(w *EventStreamWorker) {
	w.Handle(events.RaffleDrawn, n.winner).
		Handle(events.PurchaseCompleted, n.purchase).
		Handle(events.PurchaseRefunded, n.refund).
		Handle(events.TierUpgraded, n.tier).
		Handle(events.ReferralCompleted, n.referral)
}

func (n *Notifier) winner(ctx context.Context, e events.Event) error {
	userID, err := userField(e, "user_id")
	if err != nil {
		return err
	}
	title := e.Data["title"]
	if title == "" {
		title = e.Data["raffle_id"]
	}
	return n.sender.SendMessage(ctx, userID, fmt.Sprintf(
		"🎉 You won <b>%s</b> with ticket #%s! We will contact you about your prize.",
		html.EscapeString(title), e.Data["ticket"],
	))
}

func (n *Notifier) purchase(ctx context.Context, e events.Event) error {
	userID, err := userField(e, "user_id")
	if err != nil {
		return err
	}
	return n.sender.SendMessage(ctx, userID, fmt.Sprintf(
		"🎟 Your %s ticket(s) are confirmed. Good luck!", e.Data["quantity"],
	))
}

func (n *Notifier) refund(ctx context.Context, e events.Event) error {
	userID, err := userField(e, "user_id")
	if err != nil {
		return err
	}
	return n.sender.SendMessage(ctx, userID,
		"The raffle was cancelled and your ticket purchase has been refunded.")
}

func (n *Notifier) tier(ctx context.Context, e events.Event) error {
	userID, err := userField(e, "user_id")
	if err != nil {
		return err
	}
	return n.sender.SendMessage(ctx, userID, fmt.Sprintf(
		"⭐ You reached <b>%s</b> tier. Your purchases now earn more points.",
		html.EscapeString(e.Data["to"]),
	))
}

func (n *Notifier) referral(ctx context.Context, e events.Event) error {
	userID, err := userField(e, "referrer_id")
	if err != nil {
		return err
	}
	return n.sender.SendMessage(ctx, userID, fmt.Sprintf(
		"🤝 A friend you referred made their first purchase. +%s points!", e.Data["points"],
	))
}

func userField(e events.Event, key string) (int64, error) {
	id, err := strconv.ParseInt(e.Data[key], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("event %s has invalid %s %q", e.Type, key, e.Data[key])
	}
	return id, nil
}

// InvalidateCache drops cached responses under prefix whenever an event
// changes what public reads return, including events from other instances.
func InvalidateCache(store cache.Cache, prefix string) EventHandler {
	return func(ctx context.Context, e events.Event) error {
		switch e.Type {
		case events.RaffleOpened, events.RaffleClosed, events.RaffleDrawn,
			events.RaffleCancelled, events.PurchaseCompleted, events.PurchaseRefunded:
			return store.DeletePrefix(ctx, prefix)
		}
		return nil
	}
}
