// Package events carries domain notifications to the outside world.
// Publishing is fire-and-forget: callers never block on delivery.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	RaffleOpened      Type = "raffle.opened"
	RaffleClosed      Type = "raffle.closed"
	RaffleDrawn       Type = "raffle.drawn"
	RaffleCancelled   Type = "raffle.cancelled"
	PurchaseCompleted Type = "purchase.completed"
	PurchaseRefunded  Type = "purchase.refunded"
	TierUpgraded      Type = "tier.upgraded"
	ReferralCompleted Type = "referral.completed"
)

// Event is a typed notification with a flat string payload, which maps
// directly onto Redis stream fields.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	Data       map[string]string `json:"data"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New builds an event from key/value pairs.
func New(t Type, kv ...string) Event {
	data := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		data[kv[i]] = kv[i+1]
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

// Values flattens the event for XADD.
func (e Event) Values() map[string]interface{} {
	values := map[string]interface{}{
		"id":          e.ID,
		"type":        string(e.Type),
		"occurred_at": e.OccurredAt.Format(time.RFC3339Nano),
	}
	if len(e.Data) > 0 {
		payload, _ := json.Marshal(e.Data)
		values["data"] = string(payload)
	}
	return values
}

// FromValues is the inverse of Values.
func FromValues(values map[string]interface{}) (Event, bool) {
	var e Event
	t, ok := values["type"].(string)
	if !ok || t == "" {
		return e, false
	}
	e.Type = Type(t)
	e.ID, _ = values["id"].(string)
	if ts, ok := values["occurred_at"].(string); ok {
		e.OccurredAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	if raw, ok := values["data"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Data); err != nil {
			return e, false
		}
	}
	return e, true
}

// Publisher delivers events. Implementations must not block callers for
// longer than a local enqueue.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
