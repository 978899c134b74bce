package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raffle-ledger-backend/internal/common/cache"
	"raffle-ledger-backend/internal/common/logger"
	"raffle-ledger-backend/internal/platform/events"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string) error {
	f.sent = append(f.sent, sentMessage{chatID, text})
	return f.err
}

func newTestWorker(sender MessageSender) *EventStreamWorker {
	w := NewEventStreamWorker(nil, "raffle:events", "test", "worker-1")
	NewNotifier(sender).Register(w)
	return w
}

func TestWinnerNotification(t *testing.T) {
	logger.Disable()
	sender := &fakeSender{}
	w := newTestWorker(sender)

	event := events.New(events.RaffleDrawn, "raffle_id", "r1", "title", "Rolex <Sub>", "user_id", "77", "ticket", "12")
	w.Dispatch(context.Background(), "1-0", event.Values())

	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(77), sender.sent[0].chatID)
	assert.Contains(t, sender.sent[0].text, "Rolex &lt;Sub&gt;")
	assert.Contains(t, sender.sent[0].text, "#12")
}

func TestReferralNotificationGoesToReferrer(t *testing.T) {
	logger.Disable()
	sender := &fakeSender{}
	w := newTestWorker(sender)

	event := events.New(events.ReferralCompleted, "referrer_id", "5", "referee_id", "6", "points", "100")
	w.Dispatch(context.Background(), "2-0", event.Values())

	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(5), sender.sent[0].chatID)
	assert.Contains(t, sender.sent[0].text, "+100 points")
}

func TestMalformedEntriesAreSkipped(t *testing.T) {
	logger.Disable()
	sender := &fakeSender{}
	w := newTestWorker(sender)

	w.Dispatch(context.Background(), "3-0", map[string]interface{}{"foo": "bar"})
	w.Dispatch(context.Background(), "4-0", events.New(events.TierUpgraded, "user_id", "abc").Values())

	assert.Empty(t, sender.sent)
}

func TestHandlerFailureDoesNotStopOthers(t *testing.T) {
	logger.Disable()
	sender := &fakeSender{err: errors.New("blocked")}
	w := newTestWorker(sender)
	var seen []events.Type
	w.HandleAll(func(_ context.Context, e events.Event) error {
		seen = append(seen, e.Type)
		return nil
	})

	w.Dispatch(context.Background(), "5-0", events.New(events.PurchaseCompleted, "user_id", "9", "quantity", "2").Values())
	w.Dispatch(context.Background(), "6-0", events.New(events.RaffleOpened, "raffle_id", "r1").Values())

	assert.Len(t, sender.sent, 1)
	assert.Equal(t, []events.Type{events.PurchaseCompleted, events.RaffleOpened}, seen)
}

func TestInvalidateCacheOnRaffleChanges(t *testing.T) {
	ctx := context.Background()
	store, err := cache.NewLocalCache(16)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "httpcache:/raffles", []byte("x"), time.Minute))
	require.NoError(t, store.Set(ctx, "other", []byte("y"), time.Minute))

	invalidate := InvalidateCache(store, "httpcache:")
	require.NoError(t, invalidate(ctx, events.New(events.TierUpgraded, "user_id", "1")))
	_, ok, _ := store.Get(ctx, "httpcache:/raffles")
	assert.True(t, ok)

	require.NoError(t, invalidate(ctx, events.New(events.PurchaseCompleted, "raffle_id", "r1")))
	_, ok, _ = store.Get(ctx, "httpcache:/raffles")
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "other")
	assert.True(t, ok)
}
